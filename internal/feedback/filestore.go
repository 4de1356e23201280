package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// FileStore persists feedback as append-only JSON lines in a local file,
// suitable for a single-instance deployment without a database. Reads scan
// the whole file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var (
	_ Store          = (*FileStore)(nil)
	_ AtomicInserter = (*FileStore)(nil)
)

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on first insert.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Insert appends fb to the file.
func (fs *FileStore) Insert(_ context.Context, fb Feedback) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.appendLocked(fb)
}

// InsertNextAttempt implements [AtomicInserter]. Numbering is serialized
// within this process only.
func (fs *FileStore) InsertNextAttempt(_ context.Context, fb Feedback) (string, int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := 0
	f := Filter{InterviewID: fb.InterviewID, UserID: fb.UserID}
	err := fs.scanLocked(func(doc *Feedback) bool {
		if f.matches(doc) {
			n++
		}
		return true
	})
	if err != nil {
		return "", 0, err
	}
	fb.AttemptNumber = n + 1
	id, err := fs.appendLocked(fb)
	if err != nil {
		return "", 0, err
	}
	return id, fb.AttemptNumber, nil
}

func (fs *FileStore) appendLocked(fb Feedback) (string, error) {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	// A single write keeps the line whole.
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("feedback: write: %w", err)
	}
	return fb.ID, nil
}

// Count implements [Store].
func (fs *FileStore) Count(_ context.Context, f Filter) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	err := fs.scanLocked(func(doc *Feedback) bool {
		if f.matches(doc) {
			n++
		}
		return true
	})
	return n, err
}

// Find implements [Store].
func (fs *FileStore) Find(_ context.Context, q Query) ([]Feedback, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []Feedback
	err := fs.scanLocked(func(doc *Feedback) bool {
		if q.matches(doc) {
			out = append(out, *doc)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, q.Limit), nil
}

// Get implements [Store].
func (fs *FileStore) Get(_ context.Context, id string) (*Feedback, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var found *Feedback
	err := fs.scanLocked(func(doc *Feedback) bool {
		if doc.ID == id {
			cp := *doc
			found = &cp
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// scanLocked decodes each line in order and calls fn until it returns false.
// A missing file is an empty store.
func (fs *FileStore) scanLocked(fn func(*Feedback) bool) error {
	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		raw, err := r.ReadBytes('\n')
		if len(raw) > 0 && !(len(raw) == 1 && raw[0] == '\n') {
			var doc Feedback
			if uerr := json.Unmarshal(raw, &doc); uerr != nil {
				return fmt.Errorf("feedback: %s line %d: %w", fs.path, line, uerr)
			}
			if !fn(&doc) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("feedback: read file: %w", err)
		}
	}
}
