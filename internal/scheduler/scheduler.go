// Package scheduler decides when the capture pipeline runs: on code
// submission, on a periodic tick while a workspace is active, and on
// explicit manual or admin requests. Every successful capture produces
// exactly one capture-log entry; failures produce none and are logged
// operationally.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rifahb/hopeless/internal/artifact"
	"github.com/rifahb/hopeless/internal/browser"
	"github.com/rifahb/hopeless/internal/capture"
	"github.com/rifahb/hopeless/internal/workspace"
)

// CaptureRunner is the slice of the capture engine the scheduler drives.
type CaptureRunner interface {
	CaptureViewport(ctx context.Context, req capture.ViewportRequest) capture.Result
	CaptureDisplay(ctx context.Context) capture.Result
}

// ArtifactSink is the slice of the artifact store the scheduler writes to.
type ArtifactSink interface {
	Save(a *artifact.Artifact) (string, error)
	AddLogEntry(entry *artifact.LogEntry) error
}

// Request describes one capture to perform.
type Request struct {
	UserID   string
	Subject  string // free-form label: language name, or "desktop"
	Event    artifact.Event
	Language workspace.Language

	// EditorURL targets the editor viewport. Empty means capture the
	// entire virtual display instead.
	EditorURL string
}

// Options configures a Scheduler.
type Options struct {
	EditorPassword string
	Policy         Policy
}

// Scheduler coordinates capture triggers. Captures for different users, or
// periodic plus manual for the same user, may run concurrently; there is
// deliberately no per-user mutual exclusion.
type Scheduler struct {
	runner CaptureRunner
	sink   ArtifactSink
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	periodic map[string]context.CancelFunc // per-user periodic loop cancels
}

// New creates a Scheduler.
func New(runner CaptureRunner, sink ArtifactSink, opts Options) *Scheduler {
	if opts.Policy.IntervalSeconds <= 0 {
		opts.Policy.IntervalSeconds = DefaultPolicy().IntervalSeconds
	}
	return &Scheduler{
		runner:   runner,
		sink:     sink,
		opts:     opts,
		periodic: make(map[string]context.CancelFunc),
	}
}

// Start prepares the scheduler for background work. Call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels every periodic loop and waits for in-flight captures to
// finish or time out naturally; they are not forcibly aborted mid-capture.
// Triggers arriving after Stop are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for userID, cancel := range s.periodic {
		cancel()
		delete(s.periodic, userID)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// OnSubmission fires a capture for a just-submitted workspace without
// blocking the caller. The submission response never waits on, or fails
// because of, the capture pipeline.
func (s *Scheduler) OnSubmission(sess *workspace.Session) {
	if s.opts.Policy.DisableSubmission {
		return
	}
	req := Request{
		UserID:    sess.UserID,
		Subject:   string(sess.Language),
		Event:     artifact.EventSubmission,
		Language:  sess.Language,
		EditorURL: sess.EditorURL,
	}

	// wg.Add must not race Stop's Wait, so the shutdown check and the Add
	// share the lock.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.Capture(s.background(), req); err != nil {
			log.Printf("scheduler: submission capture for user %s: %v", req.UserID, err)
		}
	}()
}

// StartPeriodic begins the fixed-interval capture loop for an active
// workspace session. Starting again for the same user replaces the
// previous loop.
func (s *Scheduler) StartPeriodic(sess *workspace.Session) {
	if s.opts.Policy.DisablePeriodic {
		return
	}

	loopCtx, cancel := context.WithCancel(s.background())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := s.periodic[sess.UserID]; ok {
		prev()
	}
	s.periodic[sess.UserID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	req := Request{
		UserID:    sess.UserID,
		Subject:   string(sess.Language),
		Event:     artifact.EventPeriodic,
		Language:  sess.Language,
		EditorURL: sess.EditorURL,
	}

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.Policy.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.Capture(loopCtx, req); err != nil {
					log.Printf("scheduler: periodic capture for user %s: %v", req.UserID, err)
				}
			}
		}
	}()
}

// StopPeriodic cancels the periodic loop for a user. No further periodic
// captures fire after this returns; an in-flight one finishes naturally.
func (s *Scheduler) StopPeriodic(userID string) {
	s.mu.Lock()
	cancel, ok := s.periodic[userID]
	if ok {
		delete(s.periodic, userID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Capture performs one capture synchronously: run the strategy, persist
// the artifact, append the log entry. Returns the persisted artifact or
// the first hard error.
func (s *Scheduler) Capture(ctx context.Context, req Request) (*artifact.Artifact, error) {
	var res capture.Result
	if req.EditorURL == "" {
		res = s.runner.CaptureDisplay(ctx)
	} else {
		name, content := browser.SampleFile(req.Language)
		res = s.runner.CaptureViewport(ctx, capture.ViewportRequest{
			EditorURL:      req.EditorURL,
			Password:       s.opts.EditorPassword,
			SampleFileName: name,
			SampleContent:  content,
		})
	}

	if !res.Success {
		return nil, fmt.Errorf("capture failed (user=%s event=%s method=%s): %w",
			req.UserID, req.Event, res.Method, res.Err)
	}

	a := &artifact.Artifact{
		UserID:      req.UserID,
		CapturedAt:  time.Now().UTC(),
		Method:      res.Method,
		Event:       req.Event,
		Subject:     req.Subject,
		Width:       res.Width,
		Height:      res.Height,
		Payload:     res.Payload,
		StagingPath: res.StagingPath,
	}

	id, err := s.sink.Save(a)
	if err != nil {
		return nil, fmt.Errorf("persisting capture (user=%s event=%s): %w", req.UserID, req.Event, err)
	}

	if err := s.sink.AddLogEntry(&artifact.LogEntry{
		UserID:     req.UserID,
		ArtifactID: id,
		Event:      req.Event,
	}); err != nil {
		// The artifact is durable; a missing log entry only hides it from
		// the dashboard stream.
		log.Printf("scheduler: appending capture log (user=%s artifact=%s): %v", req.UserID, id, err)
	}

	log.Printf("scheduler: captured user=%s event=%s method=%s %dx%d in %s",
		req.UserID, req.Event, res.Method, res.Width, res.Height, res.Elapsed.Round(time.Millisecond))
	return a, nil
}

func (s *Scheduler) background() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
