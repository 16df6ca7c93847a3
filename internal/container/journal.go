package container

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one journal record: a deployment reaching a state.
type Entry struct {
	Timestamp  string  `json:"timestamp"`
	Container  string  `json:"container"`
	Deployment string  `json:"deployment"`
	State      State   `json:"state"`
	Artifact   string  `json:"artifact,omitempty"`
	Duration   float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Journal writes pipeline transitions in JSON-lines format.
type Journal struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// OpenJournal opens (appending) the journal at path. An empty path
// disables journaling.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return &Journal{writer: nopWriteCloser{}}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{writer: file}, nil
}

// Log appends an entry, stamping it when no timestamp is set.
func (j *Journal) Log(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return fmt.Errorf("journal closed")
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// Close closes the journal file. Later Log calls fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return nil
	}
	err := j.writer.Close()
	j.writer = nil
	return err
}

// ReadJournal reads every entry of the journal at path, skipping malformed
// lines. A missing file has no entries.
func ReadJournal(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
