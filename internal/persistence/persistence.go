// Package persistence implements the single writer task that owns the
// jobs.json registry file: a non-blocking hand-off from the Job
// Manager Actor, serialised to disk via tmp-then-rename.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Writer owns a JSON file, written via tmp-then-rename on every
// accepted snapshot. Exactly one goroutine (run) ever touches the
// file; callers hand off snapshots through a bounded, non-blocking
// channel so a slow disk never stalls the manager.
type Writer struct {
	path     string
	snapshot chan any
	done     chan struct{}
}

// NewWriter starts the writer task for the file at path.
func NewWriter(ctx context.Context, path string) *Writer {
	w := &Writer{
		path:     path,
		snapshot: make(chan any, 1), // only the latest snapshot matters
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Submit attempts a non-blocking hand-off of the current snapshot.
// Returns true iff the hand-off was accepted (the manager's dirty flag
// should only be cleared on a true result).
func (w *Writer) Submit(v any) bool {
	select {
	case w.snapshot <- v:
		return true
	default:
		return false
	}
}

func (w *Writer) Close() {
	close(w.done)
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case v := <-w.snapshot:
			_ = w.writeAtomic(v)
		}
	}
}

func (w *Writer) writeAtomic(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write temp: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("persistence: rename: %w", err)
	}
	return nil
}

// Load reads and unmarshals the file into v. A missing file is treated
// as "nothing persisted" (v left untouched, nil error); jobs.json is
// tolerant to missing fields via v's own json tags.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
