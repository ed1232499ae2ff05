package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogBuffer collects log output from concurrent writers, such as worker
// goroutines, for inspection in tests.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Entries decodes each non-empty line as a JSON log record
func (b *TestLogBuffer) Entries() ([]map[string]any, error) {
	var entries []map[string]any
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("invalid log line %q: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, sc.Err()
}

// NewTestLogger returns a debug-level JSON logger and the buffer it writes to.
// The default logger is left alone, so parallel tests can each have one.
func NewTestLogger(t *testing.T) (*slog.Logger, *TestLogBuffer) {
	t.Helper()
	buf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// RequireLogContains fails the test unless the raw output contains s
func RequireLogContains(t *testing.T, buf *TestLogBuffer, s string) {
	t.Helper()
	if out := buf.String(); !strings.Contains(out, s) {
		t.Fatalf("log output does not contain %q:\n%s", s, out)
	}
}

// RequireLogField fails the test unless some record has field == want
func RequireLogField(t *testing.T, buf *TestLogBuffer, field string, want any) {
	t.Helper()
	entries, err := buf.Entries()
	if err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	for _, e := range entries {
		if v, ok := e[field]; ok && v == want {
			return
		}
	}
	t.Fatalf("no log record has %s=%v among %d records", field, want, len(entries))
}
