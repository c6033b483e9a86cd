// Package server provides the proctord HTTP API: workspace lifecycle,
// capture triggers, artifact retrieval, and maintenance actions.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rifahb/hopeless/internal/artifact"
	"github.com/rifahb/hopeless/internal/browser"
	"github.com/rifahb/hopeless/internal/capture"
	"github.com/rifahb/hopeless/internal/config"
	"github.com/rifahb/hopeless/internal/scheduler"
	"github.com/rifahb/hopeless/internal/workspace"
)

// Workspaces is the provisioner surface the server drives.
type Workspaces interface {
	Provision(ctx context.Context, userID string, lang workspace.Language) (*workspace.Session, error)
	Release(ctx context.Context, instanceID string) error
	ReleaseAll(ctx context.Context)
	SessionFor(userID string) *workspace.Session
	ActiveSessions() []*workspace.Session
}

// Captures is the scheduler surface the server drives.
type Captures interface {
	Capture(ctx context.Context, req scheduler.Request) (*artifact.Artifact, error)
	OnSubmission(sess *workspace.Session)
	StartPeriodic(sess *workspace.Session)
	StopPeriodic(userID string)
}

// Artifacts is the store surface the server reads from.
type Artifacts interface {
	Get(id string) (*artifact.Artifact, error)
	ListByUser(userID string, limit int) ([]*artifact.Artifact, error)
	ListLogEntries(userID string, limit int) ([]*artifact.LogEntry, error)
	Stats() (*artifact.Stats, error)
}

// Server is the proctord HTTP API server.
type Server struct {
	config     *config.Config
	workspaces Workspaces
	captures   Captures
	artifacts  Artifacts
	sweeper    capture.ProcessSweeper
	router     chi.Router

	// owned resources closed at shutdown; nil when the server was
	// assembled from test doubles
	store      *artifact.Store
	browserMgr *browser.Manager
	sched      *scheduler.Scheduler
}

// New creates a Server with the full production dependency graph.
func New(cfg *config.Config) (*Server, error) {
	store, err := artifact.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing artifact store: %w", err)
	}

	policy, err := scheduler.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	policy.IntervalSeconds = int(cfg.CaptureInterval / time.Second)

	mgr := browser.NewManager(cfg.ChromeBin)
	driver := browser.NewDriver(browser.DefaultTimeouts(), cfg.StagingDir)
	engine := capture.New(mgr, driver, capture.Options{
		StagingDir:  cfg.StagingDir,
		JPEGQuality: cfg.JPEGQuality,
	})
	sched := scheduler.New(engine, store, scheduler.Options{
		EditorPassword: cfg.EditorPassword,
		Policy:         policy,
	})
	prov := workspace.NewProvisioner(workspace.NewDockerRuntime(), workspace.Options{
		ImagePrefix:      cfg.EditorImagePrefix,
		EditorPassword:   cfg.EditorPassword,
		ProvisionTimeout: cfg.ProvisionTimeout,
	})

	s := &Server{
		config:     cfg,
		workspaces: prov,
		captures:   sched,
		artifacts:  store,
		sweeper:    capture.NewExecSweeper(),
		store:      store,
		browserMgr: mgr,
		sched:      sched,
	}
	s.router = s.buildRouter()
	return s, nil
}

// newWith assembles a Server from explicit collaborators. Used by tests.
func newWith(cfg *config.Config, ws Workspaces, caps Captures, arts Artifacts, sweeper capture.ProcessSweeper) *Server {
	s := &Server{
		config:     cfg,
		workspaces: ws,
		captures:   caps,
		artifacts:  arts,
		sweeper:    sweeper,
	}
	s.router = s.buildRouter()
	return s
}

// Start runs the HTTP server until ctx is cancelled, then tears down all
// owned resources: workspaces, periodic loops, the shared browser, and
// the store.
func (s *Server) Start(ctx context.Context) error {
	if s.sched != nil {
		s.sched.Start(ctx)
	}

	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("proctord server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.sched != nil {
		s.sched.Stop()
	}
	s.workspaces.ReleaseAll(sweepCtx)
	if s.browserMgr != nil {
		s.browserMgr.Shutdown()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("server: closing store: %v", err)
		}
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Post("/workspaces", s.handleCreateWorkspace)
		r.Get("/workspaces", s.handleListWorkspaces)
		r.Delete("/workspaces/{userID}", s.handleStopWorkspace)

		r.Post("/submissions", s.handleSubmission)

		r.Post("/captures", s.handleManualCapture)
		r.Post("/captures/desktop", s.handleDesktopCapture)
		r.Post("/captures/bulk", s.handleBulkCapture)

		r.Get("/artifacts/{id}", s.handleGetArtifact)
		r.Get("/artifacts/{id}/image", s.handleGetArtifactImage)
		r.Get("/users/{userID}/artifacts", s.handleListArtifacts)
		r.Get("/users/{userID}/log", s.handleListLog)
		r.Get("/stats", s.handleStats)

		r.Post("/maintenance/purge-browsers", s.handlePurgeBrowsers)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }
