package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rifahb/hopeless/internal/artifact"
	"github.com/rifahb/hopeless/internal/scheduler"
	"github.com/rifahb/hopeless/internal/workspace"
)

// --- Request/Response types ---

type createWorkspaceRequest struct {
	UserID   string `json:"user_id"`
	Language string `json:"language"`
}

type submissionRequest struct {
	UserID   string `json:"user_id"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

type captureRequest struct {
	UserID string `json:"user_id"`
	Event  string `json:"event,omitempty"` // defaults to "manual"
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type captureResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Workspace handlers ---

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sess, err := s.workspaces.Provision(r.Context(), req.UserID, workspace.Language(req.Language))
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrUnsupportedLanguage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, workspace.ErrProvisionTimeout):
			// Transient; the caller may retry.
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.captures.StartPeriodic(sess)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workspaces.ActiveSessions())
}

func (s *Server) handleStopWorkspace(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	// Cancel the periodic loop before the instance goes away so no
	// capture fires against a dead editor.
	s.captures.StopPeriodic(userID)

	sess := s.workspaces.SessionFor(userID)
	if sess == nil {
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "no active workspace"})
		return
	}
	if err := s.workspaces.Release(r.Context(), sess.InstanceID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "workspace released"})
}

// --- Capture handlers ---

// handleSubmission records a code submission and fires the capture side
// effect without waiting for it. The response never depends on the
// capture pipeline.
func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The assessment platform owns the submitted code; only the capture
	// side effect happens here.
	log.Printf("server: submission user=%s language=%s code=%dB", req.UserID, req.Language, len(req.Code))

	sess := s.workspaces.SessionFor(req.UserID)
	if sess != nil {
		s.captures.OnSubmission(sess)
	} else {
		log.Printf("server: no active workspace for user %s, skipping submission capture", req.UserID)
	}

	writeJSON(w, http.StatusAccepted, actionResponse{Success: true, Message: "submission recorded"})
}

func (s *Server) handleManualCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess := s.workspaces.SessionFor(req.UserID)
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no active workspace for user %s", req.UserID))
		return
	}

	event := artifact.EventManual
	if req.Event == string(artifact.EventAdminTest) {
		event = artifact.EventAdminTest
	}

	a, err := s.captures.Capture(r.Context(), scheduler.Request{
		UserID:    req.UserID,
		Subject:   string(sess.Language),
		Event:     event,
		Language:  sess.Language,
		EditorURL: sess.EditorURL,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, captureResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{
		Success:    true,
		Message:    fmt.Sprintf("captured %dx%d via %s", a.Width, a.Height, a.Method),
		ArtifactID: a.ID,
	})
}

func (s *Server) handleDesktopCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	a, err := s.captures.Capture(r.Context(), scheduler.Request{
		UserID:  req.UserID,
		Subject: "desktop",
		Event:   artifact.EventAdminTest,
		// Empty EditorURL selects the virtual-display strategy.
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, captureResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{
		Success:    true,
		Message:    fmt.Sprintf("captured display %dx%d", a.Width, a.Height),
		ArtifactID: a.ID,
	})
}

// handleBulkCapture captures every active workspace. Per-user failures are
// reported, not fatal to the batch.
func (s *Server) handleBulkCapture(w http.ResponseWriter, r *http.Request) {
	type bulkResult struct {
		UserID     string `json:"user_id"`
		Success    bool   `json:"success"`
		ArtifactID string `json:"artifact_id,omitempty"`
		Error      string `json:"error,omitempty"`
	}

	var results []bulkResult
	for _, sess := range s.workspaces.ActiveSessions() {
		a, err := s.captures.Capture(r.Context(), scheduler.Request{
			UserID:    sess.UserID,
			Subject:   string(sess.Language),
			Event:     artifact.EventAdminBulk,
			Language:  sess.Language,
			EditorURL: sess.EditorURL,
		})
		if err != nil {
			results = append(results, bulkResult{UserID: sess.UserID, Error: err.Error()})
			continue
		}
		results = append(results, bulkResult{UserID: sess.UserID, Success: true, ArtifactID: a.ID})
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Artifact handlers ---

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.artifacts.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetArtifactImage(w http.ResponseWriter, r *http.Request) {
	a, err := s.artifacts.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", a.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.ImageBytes)))
	w.Write(a.ImageBytes)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	artifacts, err := s.artifacts.ListByUser(chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if artifacts == nil {
		artifacts = []*artifact.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleListLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.artifacts.ListLogEntries(chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*artifact.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.artifacts.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Maintenance handlers ---

func (s *Server) handlePurgeBrowsers(w http.ResponseWriter, r *http.Request) {
	killed, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, actionResponse{
			Success: false,
			Message: fmt.Sprintf("purge failed after killing %d processes: %v", killed, err),
		})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: fmt.Sprintf("killed %d stray browser processes", killed),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
