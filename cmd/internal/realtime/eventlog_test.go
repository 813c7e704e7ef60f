package realtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEventLog_AppendCompactsEmbeddedNewlines(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "canvas.ndjson"))

	events := []json.RawMessage{
		json.RawMessage("{\n  \"x\": 1,\n  \"y\": 2\n}"),
		json.RawMessage(`{"stroke":"red"}`),
	}
	if err := log.Append(events); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, skipped, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d", skipped)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if string(got[0]) != `{"x":1,"y":2}` {
		t.Fatalf("first line = %q", got[0])
	}
}

func TestEventLog_MissingFileIsEmptyHistory(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "never-written.ndjson"))

	got, skipped, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 || skipped != 0 {
		t.Fatalf("got %d events, %d skipped", len(got), skipped)
	}
}

func TestEventLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas.ndjson")
	raw := `{"a":1}
not json at all
{"b":2}

{"c":3}
{"truncated":
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	log := NewEventLog(path)
	got, skipped, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
	if string(got[2]) != `{"c":3}` {
		t.Fatalf("events out of order: %q", got[2])
	}
}

func TestEventLog_AppendPreservesOrderAcrossCalls(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "canvas.ndjson"))

	for i := 0; i < 3; i++ {
		batch := []json.RawMessage{
			json.RawMessage(`{"batch":` + string(rune('0'+i)) + `,"n":0}`),
			json.RawMessage(`{"batch":` + string(rune('0'+i)) + `,"n":1}`),
		}
		if err := log.Append(batch); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, _, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d events, want 6", len(got))
	}
	if string(got[0]) != `{"batch":0,"n":0}` || string(got[5]) != `{"batch":2,"n":1}` {
		t.Fatalf("order broken: first=%q last=%q", got[0], got[5])
	}
}
