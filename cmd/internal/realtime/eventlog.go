package realtime

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// EventLog is the durable per-canvas event history: newline-delimited JSON,
// one event per line, append-only. The log outlives the in-memory canvas
// state; eviction never touches it.
//
// EventLog itself is not goroutine-safe. The hub serializes access through
// the canvas write lock.
type EventLog struct {
	path string
}

// NewEventLog constructs a log handle. The file is created on first append.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Path returns the log file location.
func (l *EventLog) Path() string { return l.path }

// Append writes each event as one compact line, in submission order.
// Events are compacted because a raw client payload may contain embedded
// newlines, which would corrupt the line-oriented format.
func (l *EventLog) Append(events []json.RawMessage) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, ev := range events {
		if err := json.Compact(&buf, ev); err != nil {
			return fmt.Errorf("compact event: %w", err)
		}
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadAll returns every valid event line in append order. Malformed lines
// are skipped, never fatal: one corrupt line must not take the whole canvas
// history down with it. A missing file is an empty history, not an error.
func (l *EventLog) ReadAll() ([]json.RawMessage, int, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		events  []json.RawMessage
		skipped int
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		events = append(events, json.RawMessage(bytes.Clone(line)))
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, err
	}
	return events, skipped, nil
}
