// Package audit persists a record of each terminal task outcome to an
// external sink (§6 "Persisted state"). edgesched keeps no state durably in
// memory across restarts; an audit sink is the one place operators can look
// to reconstruct what ran.
package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Entry is one terminal task outcome.
type Entry struct {
	TaskID     string       `json:"task_id"`
	Algorithm  string       `json:"algorithm"`
	Status     types.Status `json:"status"`
	WorkerID   string       `json:"worker_id,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Sink persists Entry records. Implementations must be safe for concurrent
// use; the Scheduler calls Record from its worker goroutines.
type Sink interface {
	Record(e Entry) error
}

// NoopSink discards every entry. The default when no sink is configured.
type NoopSink struct{}

func (NoopSink) Record(Entry) error { return nil }

// FileSink appends one JSON object per line to a file, opened once and kept
// open for the process lifetime.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if needed) path for appending JSONL entries.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(data)
	return err
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
