// Package artifact provides validated, durable persistence for capture
// artifacts and the capture log consumed by the activity dashboard.
package artifact

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is the triggering reason for a capture.
type Event string

const (
	EventSubmission Event = "submission"
	EventManual     Event = "manual"
	EventPeriodic   Event = "periodic"
	EventAdminTest  Event = "admin-test"
	EventAdminBulk  Event = "admin-bulk"
)

// Method identifies the capture strategy that produced an artifact.
type Method string

const (
	MethodViewport Method = "editor-viewport"
	MethodDisplay  Method = "virtual-display"
)

// Sentinel errors for the store boundary.
var (
	// ErrInvalidImagePayload means the payload is missing, empty, or lacks
	// the explicit encoding tag. Such artifacts are never persisted.
	ErrInvalidImagePayload = errors.New("invalid image payload")

	// ErrNotFound means no artifact exists under the identifier.
	ErrNotFound = errors.New("artifact not found")
)

// Artifact is one persisted capture: decoded image bytes plus metadata.
// Immutable after creation.
type Artifact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CapturedAt time.Time `json:"captured_at"`
	Method     Method    `json:"method"`
	Event      Event     `json:"event"`
	Subject    string    `json:"subject"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ByteSize   int       `json:"byte_size"`
	Format     string    `json:"format"` // image format from the payload tag, e.g. "jpeg"

	// ImageBytes is the decoded image. Omitted from JSON listings; fetched
	// through the image endpoint.
	ImageBytes []byte `json:"-"`

	// Payload is the tagged data-URL form the capture pipeline produced.
	// Consumed by Save, not persisted as-is.
	Payload string `json:"-"`

	// StagingPath is the local staging file deleted after a durable write.
	StagingPath string `json:"-"`
}

// Filename returns a debuggable name encoding owner, subject, event, and
// timestamp. Consumers must treat it as opaque, not a stable schema.
func (a *Artifact) Filename() string {
	return fmt.Sprintf("%s-%s-%s-%s.%s",
		a.UserID, a.Subject, a.Event,
		a.CapturedAt.UTC().Format("20060102T150405Z"),
		formatExt(a.Format))
}

// DataURL re-encodes the stored image into its tagged data-URL form.
func (a *Artifact) DataURL() string {
	return EncodePayload(a.Format, a.ImageBytes)
}

// ContentType returns the MIME type for the stored image.
func (a *Artifact) ContentType() string {
	return "image/" + a.Format
}

func formatExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// EncodePayload builds the explicit, verifiable payload tag around raw
// image bytes: "data:image/<format>;base64,<data>". Every capture strategy
// produces this form; the store refuses anything else.
func EncodePayload(format string, raw []byte) string {
	return fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(raw))
}

// DecodePayload validates the encoding tag and returns the image format
// and decoded bytes. The tag is checked here, never inferred downstream.
func DecodePayload(payload string) (format string, raw []byte, err error) {
	const prefix = "data:image/"
	if !strings.HasPrefix(payload, prefix) {
		return "", nil, fmt.Errorf("%w: missing data:image tag", ErrInvalidImagePayload)
	}
	rest := payload[len(prefix):]

	format, rest, ok := strings.Cut(rest, ";base64,")
	if !ok || format == "" {
		return "", nil, fmt.Errorf("%w: missing base64 encoding marker", ErrInvalidImagePayload)
	}

	raw, decErr := base64.StdEncoding.DecodeString(rest)
	if decErr != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImagePayload, decErr)
	}
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("%w: zero-length image", ErrInvalidImagePayload)
	}
	return format, raw, nil
}

// LogEntry correlates an artifact with the activity-log stream the
// dashboard consumes.
type LogEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	ArtifactID string    `json:"artifact_id"`
	Event      Event     `json:"event"`
	CreatedAt  time.Time `json:"created_at"`
}
