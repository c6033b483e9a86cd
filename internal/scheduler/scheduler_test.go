package scheduler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rifahb/hopeless/internal/artifact"
	"github.com/rifahb/hopeless/internal/capture"
	"github.com/rifahb/hopeless/internal/scheduler"
	"github.com/rifahb/hopeless/internal/workspace"
)

// fakeRunner produces canned capture results. delay simulates a slow
// pipeline; fail flips every result to a hard failure.
type fakeRunner struct {
	delay time.Duration
	fail  bool

	mu       sync.Mutex
	viewport int
	display  int
}

func (f *fakeRunner) result(method artifact.Method) capture.Result {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return capture.Result{Method: method, Err: capture.ErrCaptureTimeout}
	}
	return capture.Result{
		Success: true,
		Payload: artifact.EncodePayload("jpeg", []byte{0xFF, 0xD8, 1, 2}),
		Width:   1920, Height: 1080,
		Method: method,
	}
}

func (f *fakeRunner) CaptureViewport(ctx context.Context, req capture.ViewportRequest) capture.Result {
	f.mu.Lock()
	f.viewport++
	f.mu.Unlock()
	return f.result(artifact.MethodViewport)
}

func (f *fakeRunner) CaptureDisplay(ctx context.Context) capture.Result {
	f.mu.Lock()
	f.display++
	f.mu.Unlock()
	return f.result(artifact.MethodDisplay)
}

func (f *fakeRunner) viewportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport
}

// fakeSink records saved artifacts and log entries in memory.
type fakeSink struct {
	mu      sync.Mutex
	nextID  int
	saved   []*artifact.Artifact
	entries []*artifact.LogEntry
	saveErr error
}

func (f *fakeSink) Save(a *artifact.Artifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.nextID++
	a.ID = string(rune('a' + f.nextID - 1))
	f.saved = append(f.saved, a)
	return a.ID, nil
}

func (f *fakeSink) AddLogEntry(entry *artifact.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeSink) counts() (saved, entries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved), len(f.entries)
}

func testSession() *workspace.Session {
	return &workspace.Session{
		UserID:    "user-1",
		Language:  workspace.LangPython,
		EditorURL: "http://127.0.0.1:9999",
		Status:    workspace.StatusReady,
	}
}

func newTestScheduler(t *testing.T, runner *fakeRunner, sink *fakeSink, policy scheduler.Policy) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(runner, sink, scheduler.Options{
		EditorPassword: "test",
		Policy:         policy,
	})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// ---------------------------------------------------------------------------
// Manual capture
// ---------------------------------------------------------------------------

func TestCapture_ManualSuccess(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	a, err := s.Capture(context.Background(), scheduler.Request{
		UserID:    "user-1",
		Subject:   "python",
		Event:     artifact.EventManual,
		Language:  workspace.LangPython,
		EditorURL: "http://127.0.0.1:9999",
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if a.Method != artifact.MethodViewport {
		t.Errorf("Method = %s; want %s", a.Method, artifact.MethodViewport)
	}

	saved, entries := sink.counts()
	if saved != 1 || entries != 1 {
		t.Errorf("saved=%d entries=%d; want 1 and 1", saved, entries)
	}
}

func TestCapture_EmptyURLMeansDisplay(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	a, err := s.Capture(context.Background(), scheduler.Request{
		UserID:  "user-1",
		Subject: "desktop",
		Event:   artifact.EventAdminTest,
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if a.Method != artifact.MethodDisplay {
		t.Errorf("Method = %s; want %s", a.Method, artifact.MethodDisplay)
	}
}

func TestCapture_FailureProducesNoLogEntry(t *testing.T) {
	runner := &fakeRunner{fail: true}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	_, err := s.Capture(context.Background(), scheduler.Request{
		UserID:    "user-1",
		Event:     artifact.EventManual,
		Language:  workspace.LangPython,
		EditorURL: "http://127.0.0.1:9999",
	})
	if !errors.Is(err, capture.ErrCaptureTimeout) {
		t.Fatalf("Capture error = %v; want ErrCaptureTimeout", err)
	}

	saved, entries := sink.counts()
	if saved != 0 || entries != 0 {
		t.Errorf("saved=%d entries=%d after failed capture; want 0 and 0", saved, entries)
	}
}

func TestCapture_PersistFailureSurfaces(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{saveErr: errors.New("disk full")}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	_, err := s.Capture(context.Background(), scheduler.Request{
		UserID:    "user-1",
		Event:     artifact.EventManual,
		Language:  workspace.LangPython,
		EditorURL: "http://127.0.0.1:9999",
	})
	if err == nil {
		t.Fatal("Capture returned nil error despite persist failure")
	}
	if _, entries := sink.counts(); entries != 0 {
		t.Errorf("log entries written despite persist failure")
	}
}

// ---------------------------------------------------------------------------
// Submission trigger
// ---------------------------------------------------------------------------

func TestOnSubmission_DoesNotBlockCaller(t *testing.T) {
	runner := &fakeRunner{delay: 300 * time.Millisecond}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	start := time.Now()
	s.OnSubmission(testSession())
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("OnSubmission blocked for %s; want immediate return", elapsed)
	}

	// The capture still completes in the background.
	if !waitFor(t, 2*time.Second, func() bool { s2, e2 := sink.counts(); return s2 == 1 && e2 == 1 }) {
		t.Error("background submission capture never completed")
	}
}

func TestOnSubmission_AfterStopIsDropped(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	s := scheduler.New(runner, sink, scheduler.Options{
		EditorPassword: "test",
		Policy:         scheduler.DefaultPolicy(),
	})
	s.Start(context.Background())
	s.Stop()

	// A submission landing mid-shutdown must neither capture nor race the
	// waitgroup the stop is draining.
	s.OnSubmission(testSession())
	s.StartPeriodic(testSession())

	time.Sleep(100 * time.Millisecond)
	if saved, entries := sink.counts(); saved != 0 || entries != 0 {
		t.Errorf("captures after Stop: %d saved, %d entries; want 0, 0", saved, entries)
	}
	if got := runner.viewportCount(); got != 0 {
		t.Errorf("runner invoked %d times after Stop; want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Periodic trigger
// ---------------------------------------------------------------------------

func TestPeriodic_FiresAndStops(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.Policy{IntervalSeconds: 1})

	// Sub-second interval isn't expressible through the policy, so drive
	// the loop at 1s and give it room for two ticks.
	s.StartPeriodic(testSession())
	if !waitFor(t, 3*time.Second, func() bool { saved, _ := sink.counts(); return saved >= 2 }) {
		saved, _ := sink.counts()
		t.Fatalf("periodic loop produced %d captures; want >= 2", saved)
	}

	s.StopPeriodic("user-1")
	saved, _ := sink.counts()
	time.Sleep(1500 * time.Millisecond)
	after, _ := sink.counts()
	if after > saved+1 {
		// At most one in-flight tick may land after cancellation.
		t.Errorf("captures kept firing after StopPeriodic: %d -> %d", saved, after)
	}
}

func TestPeriodic_DisabledByPolicy(t *testing.T) {
	runner := &fakeRunner{}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.Policy{IntervalSeconds: 1, DisablePeriodic: true})

	s.StartPeriodic(testSession())
	time.Sleep(1200 * time.Millisecond)
	if saved, _ := sink.counts(); saved != 0 {
		t.Errorf("periodic captures fired despite disabled policy: %d", saved)
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentManualCaptures_BothPersist(t *testing.T) {
	// Same user, two concurrent manual captures: both complete and both
	// produce distinct artifacts. There is intentionally no per-user lock.
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	sink := &fakeSink{}
	s := newTestScheduler(t, runner, sink, scheduler.DefaultPolicy())

	req := scheduler.Request{
		UserID:    "user-1",
		Event:     artifact.EventManual,
		Language:  workspace.LangPython,
		EditorURL: "http://127.0.0.1:9999",
	}

	var wg sync.WaitGroup
	results := make([]*artifact.Artifact, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.Capture(context.Background(), req)
			if err != nil {
				t.Errorf("concurrent Capture #%d: %v", i, err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.Fatal("a concurrent capture did not complete")
	}
	if results[0].ID == results[1].ID {
		t.Error("concurrent captures produced the same artifact id")
	}
	if saved, entries := sink.counts(); saved != 2 || entries != 2 {
		t.Errorf("saved=%d entries=%d; want 2 and 2", saved, entries)
	}
}

// ---------------------------------------------------------------------------
// Policy loading
// ---------------------------------------------------------------------------

func TestLoadPolicy_MissingFileYieldsDefaults(t *testing.T) {
	p, err := scheduler.LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Interval() != 30*time.Second {
		t.Errorf("Interval = %s; want 30s", p.Interval())
	}
}

func TestLoadPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "interval_seconds: 10\ndisable_submission: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	p, err := scheduler.LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Interval() != 10*time.Second {
		t.Errorf("Interval = %s; want 10s", p.Interval())
	}
	if !p.DisableSubmission {
		t.Error("DisableSubmission = false; want true")
	}
}

func TestLoadPolicy_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("interval_seconds: [oops"), 0o644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}
	if _, err := scheduler.LoadPolicy(path); err == nil {
		t.Fatal("LoadPolicy accepted malformed YAML")
	}
}
