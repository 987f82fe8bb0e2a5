package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qorvex/qorvex-host/internal/action"
)

// logFile is an append-only JSONL writer: one action.LogEntry per line,
// screenshot references always elided. Buffered writes are flushed after
// every append so a crash loses at most the in-flight line, matching the
// durability the persistent action log promises readers tailing it live.
type logFile struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// logFileName returns the append-only log path for a session created at
// createdAt: {logDir}/{sessionName}_{YYYYmmdd_HHMMSS}.jsonl.
func logFileName(logDir, sessionName string, createdAt time.Time) string {
	stamp := createdAt.UTC().Format("20060102_150405")
	return filepath.Join(logDir, fmt.Sprintf("%s_%s.jsonl", sessionName, stamp))
}

// openLogFile opens the append-only log at path for appending, creating
// the file and logDir if necessary; an existing file is never truncated.
func openLogFile(logDir, sessionName string, createdAt time.Time) (*logFile, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create log dir %s: %w", logDir, err)
	}
	path := logFileName(logDir, sessionName, createdAt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open log file %s: %w", path, err)
	}
	return &logFile{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// append writes entry (screenshot elided) as one JSON line.
func (lf *logFile) append(entry action.LogEntry) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	b, err := json.Marshal(entry.ForDisk())
	if err != nil {
		return fmt.Errorf("session: marshal log entry: %w", err)
	}
	if _, err := lf.w.Write(b); err != nil {
		return fmt.Errorf("session: write log entry: %w", err)
	}
	if err := lf.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("session: write log entry: %w", err)
	}
	return lf.w.Flush()
}

func (lf *logFile) close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.w.Flush(); err != nil {
		lf.f.Close()
		return err
	}
	return lf.f.Close()
}
