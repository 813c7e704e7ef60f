package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_HandlePlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("http.request",
		"method", "get",
		"path", "/api/me",
		"status", 200,
		"duration_ms", int64(12),
		"result", "success",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"method=GET",
		"path=/api/me",
		"status=200",
		"duration=12ms",
		"result=success",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("output %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but output has escapes: %q", line)
	}
}

func TestPrettyHandler_ColorOutputStripsClean(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, true)
	log := slog.New(h)

	log.Warn("slow.request", "status", 503, "duration_ms", int64(1500))

	line := buf.String()
	if !strings.Contains(line, "\x1b[") {
		t.Fatalf("color enabled but no escapes in %q", line)
	}
	plain := stripANSI(line)
	for _, want := range []string{"lvl=[WARN]", "status=503", "duration=1500ms"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("stripped output %q missing %q", plain, want)
		}
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("canvas")

	log.Info("event.appended", "id", "c1", "seq", 42)

	line := buf.String()
	for _, want := range []string{"canvas.id=c1", "canvas.seq=42"} {
		if !strings.Contains(line, want) {
			t.Fatalf("output %q missing %q", line, want)
		}
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", `""`},
		{"two words", `"two words"`},
		{`a"b`, `"a\"b"`},
		{"k=v", `"k=v"`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestRemapPrettyKey(t *testing.T) {
	t.Parallel()

	if got := remapPrettyKey("status_class"); got != "class" {
		t.Fatalf("got %q", got)
	}
	if got := remapPrettyKey("duration_ms"); got != "duration" {
		t.Fatalf("got %q", got)
	}
	if got := remapPrettyKey("path"); got != "path" {
		t.Fatalf("got %q", got)
	}
}
