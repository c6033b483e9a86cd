package artifact_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rifahb/hopeless/internal/artifact"
)

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := artifact.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// makeArtifact returns a valid artifact with a tagged payload around the
// given bytes.
func makeArtifact(userID string, raw []byte) *artifact.Artifact {
	return &artifact.Artifact{
		UserID:     userID,
		CapturedAt: time.Now().UTC().Truncate(time.Second),
		Method:     artifact.MethodViewport,
		Event:      artifact.EventManual,
		Subject:    "python",
		Width:      1920,
		Height:     1080,
		Payload:    artifact.EncodePayload("jpeg", raw),
	}
}

// ---------------------------------------------------------------------------
// Payload tag
// ---------------------------------------------------------------------------

func TestDecodePayload_RoundTrip(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x13, 0x37}
	payload := artifact.EncodePayload("jpeg", raw)

	format, got, err := artifact.DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q; want %q", format, "jpeg")
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("decoded bytes = %v; want %v", got, raw)
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"no tag", "iVBORw0KGgo="},
		{"wrong scheme", "data:text/plain;base64,aGk="},
		{"no encoding marker", "data:image/jpeg,rawbytes"},
		{"empty image", "data:image/jpeg;base64,"},
		{"bad base64", "data:image/jpeg;base64,!!!not-base64!!!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := artifact.DecodePayload(tc.payload)
			if !errors.Is(err, artifact.ErrInvalidImagePayload) {
				t.Errorf("DecodePayload(%q) error = %v; want ErrInvalidImagePayload", tc.payload, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Save + Get
// ---------------------------------------------------------------------------

func TestSaveAndGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3, 4, 5}
	want := makeArtifact("user-1", raw)

	id, err := store.Save(want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned empty id")
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get(%q): %v", id, err)
	}
	if !bytes.Equal(got.ImageBytes, raw) {
		t.Error("image bytes differ after round trip")
	}
	if got.UserID != want.UserID || got.Method != want.Method ||
		got.Event != want.Event || got.Subject != want.Subject {
		t.Errorf("metadata differs: got %+v", got)
	}
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("resolution = %dx%d; want 1920x1080", got.Width, got.Height)
	}
	if got.ByteSize != len(raw) {
		t.Errorf("ByteSize = %d; want %d", got.ByteSize, len(raw))
	}
	if got.Format != "jpeg" {
		t.Errorf("Format = %q; want jpeg", got.Format)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("no-such-id")
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("Get error = %v; want ErrNotFound", err)
	}
}

func TestSave_RejectsInvalidPayload(t *testing.T) {
	store := newTestStore(t)

	a := makeArtifact("user-1", []byte{1})
	a.Payload = "not-a-tagged-payload"

	_, err := store.Save(a)
	if !errors.Is(err, artifact.ErrInvalidImagePayload) {
		t.Fatalf("Save error = %v; want ErrInvalidImagePayload", err)
	}

	// Nothing may be retrievable after a rejected save.
	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 0 {
		t.Errorf("store holds %d artifacts after rejected save; want 0", stats.Count)
	}
}

func TestSave_DeletesStagingFile(t *testing.T) {
	store := newTestStore(t)

	staging := filepath.Join(t.TempDir(), "capture-1.b64")
	if err := os.WriteFile(staging, []byte("staged"), 0o644); err != nil {
		t.Fatalf("writing staging file: %v", err)
	}

	a := makeArtifact("user-1", []byte{0xFF, 0xD8})
	a.StagingPath = staging

	if _, err := store.Save(a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Error("staging file still exists after durable save")
	}
}

// ---------------------------------------------------------------------------
// ListByUser + Stats
// ---------------------------------------------------------------------------

func TestListByUser_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		a := makeArtifact("user-1", []byte{0xFF, byte(i + 1)})
		a.CapturedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := store.Save(a); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}
	other := makeArtifact("user-2", []byte{0xFF})
	if _, err := store.Save(other); err != nil {
		t.Fatalf("Save other user: %v", err)
	}

	got, err := store.ListByUser("user-1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListByUser returned %d artifacts; want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CapturedAt.After(got[i-1].CapturedAt) {
			t.Errorf("artifacts out of order at %d: %v after %v", i, got[i].CapturedAt, got[i-1].CapturedAt)
		}
	}
}

func TestListByUser_Limit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := store.Save(makeArtifact("user-1", []byte{0xFF, byte(i)})); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}
	got, err := store.ListByUser("user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListByUser(limit=2) returned %d; want 2", len(got))
	}
}

func TestStats_Breakdown(t *testing.T) {
	store := newTestStore(t)

	a := makeArtifact("user-1", []byte{1, 2, 3})
	if _, err := store.Save(a); err != nil {
		t.Fatalf("Save viewport: %v", err)
	}

	b := makeArtifact("user-2", []byte{4, 5})
	b.Method = artifact.MethodDisplay
	b.Event = artifact.EventSubmission
	if _, err := store.Save(b); err != nil {
		t.Fatalf("Save display: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("Count = %d; want 2", stats.Count)
	}
	if stats.TotalBytes != 5 {
		t.Errorf("TotalBytes = %d; want 5", stats.TotalBytes)
	}
	if stats.ByMethod[string(artifact.MethodViewport)] != 1 ||
		stats.ByMethod[string(artifact.MethodDisplay)] != 1 {
		t.Errorf("ByMethod = %v; want one of each", stats.ByMethod)
	}
	if stats.ByEvent[string(artifact.EventManual)] != 1 ||
		stats.ByEvent[string(artifact.EventSubmission)] != 1 {
		t.Errorf("ByEvent = %v; want one of each", stats.ByEvent)
	}
}

// ---------------------------------------------------------------------------
// Capture log
// ---------------------------------------------------------------------------

func TestCaptureLog(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Save(makeArtifact("user-1", []byte{0xFF, 0xD8}))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	entry := &artifact.LogEntry{
		UserID:     "user-1",
		ArtifactID: id,
		Event:      artifact.EventManual,
	}
	if err := store.AddLogEntry(entry); err != nil {
		t.Fatalf("AddLogEntry: %v", err)
	}
	if entry.ID == 0 {
		t.Error("AddLogEntry did not assign an id")
	}

	entries, err := store.ListLogEntries("user-1", 10)
	if err != nil {
		t.Fatalf("ListLogEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListLogEntries returned %d entries; want 1", len(entries))
	}
	if entries[0].ArtifactID != id {
		t.Errorf("entry artifact = %q; want %q", entries[0].ArtifactID, id)
	}
}

// ---------------------------------------------------------------------------
// Filename
// ---------------------------------------------------------------------------

func TestFilename_EncodesDebugFields(t *testing.T) {
	a := makeArtifact("u42", []byte{1})
	a.Format = "jpeg"
	a.CapturedAt = time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC)

	got := a.Filename()
	want := "u42-python-manual-20260901T123000Z.jpg"
	if got != want {
		t.Errorf("Filename = %q; want %q", got, want)
	}
}
