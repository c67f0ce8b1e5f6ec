// Package journal records launch and port-kill events as JSON lines.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action names recorded in Entry.Action.
const (
	ActionLaunch   = "launch"
	ActionRelaunch = "relaunch"
	ActionKill     = "kill"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp string   `json:"timestamp"`
	Action    string   `json:"action"`
	Target    string   `json:"target"` // container name or "tcp/<port>"
	Devices   []string `json:"devices,omitempty"`
	Args      []string `json:"args,omitempty"`
	ID        string   `json:"id,omitempty"` // container ID
	PIDs      []int    `json:"pids,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Journal writes entries to an append-only JSON-lines file.
type Journal struct {
	writer io.WriteCloser
	mu     sync.Mutex
	now    func() time.Time
}

// Open creates a journal appending to path.
// If path is empty, journaling is disabled.
func Open(path string) (*Journal, error) {
	if path == "" {
		return &Journal{writer: nopWriteCloser{}, now: time.Now}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Journal{writer: file, now: time.Now}, nil
}

// Record writes an entry, stamping it with the current time if needed.
func (j *Journal) Record(entry Entry) error {
	if j == nil || j.writer == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = j.now().UTC().Format(time.RFC3339Nano)
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

// Close closes the journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		return j.writer.Close()
	}
	return nil
}

// Read returns all entries from the journal at path.
// A missing file yields no entries and no error; malformed lines are skipped.
func Read(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Skip malformed lines
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
