// Package workspace manages per-user code-editor containers for proctored
// assessment sessions.
package workspace

import (
	"context"
	"errors"
	"time"
)

// Language identifies the editor template a workspace is provisioned with.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangCPP        Language = "cpp"
)

// Supported reports whether l is a provisionable language.
func (l Language) Supported() bool {
	switch l {
	case LangJavaScript, LangPython, LangJava, LangCPP:
		return true
	}
	return false
}

// Ext returns the source-file extension for the language.
func (l Language) Ext() string {
	switch l {
	case LangJavaScript:
		return ".js"
	case LangPython:
		return ".py"
	case LangJava:
		return ".java"
	case LangCPP:
		return ".cpp"
	}
	return ".txt"
}

// Status is the lifecycle state of a workspace instance.
type Status string

const (
	StatusRequested Status = "requested"
	StatusStarting  Status = "starting"
	StatusReady     Status = "ready"
	StatusStopping  Status = "stopping"
	StatusGone      Status = "gone"
)

// Session represents one live editor instance owned by one user.
type Session struct {
	UserID     string    `json:"user_id"`
	Language   Language  `json:"language"`
	InstanceID string    `json:"instance_id"`
	Port       int       `json:"port"`
	EditorURL  string    `json:"editor_url"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// StartOptions configures a new editor container.
type StartOptions struct {
	UserID   string
	Language Language
	Image    string   // Docker image name
	Port     int      // host port published to the editor's HTTP port
	Env      []string // additional environment variables
}

// Runtime manages editor container lifecycle.
type Runtime interface {
	Start(ctx context.Context, opts StartOptions) (instanceID string, err error)
	Stop(ctx context.Context, instanceID string) error
	IsRunning(ctx context.Context, instanceID string) bool
}

// Sentinel errors returned by the provisioner.
var (
	// ErrUnsupportedLanguage means the requested language has no editor
	// template. Client-correctable.
	ErrUnsupportedLanguage = errors.New("unsupported workspace language")

	// ErrProvisionTimeout means the editor container started but never
	// became reachable within the bound. The container is left running;
	// Release or ReleaseAll cleans it up.
	ErrProvisionTimeout = errors.New("workspace did not become reachable in time")
)
