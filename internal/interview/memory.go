package interview

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryRepository is an in-process [Repository]. It is used for local
// development (seeded from a YAML fixture file) and in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Interview
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns a repository holding the given interviews.
func NewMemoryRepository(items ...Interview) *MemoryRepository {
	r := &MemoryRepository{items: make(map[string]Interview, len(items))}
	for _, iv := range items {
		r.items[iv.ID] = iv
	}
	return r
}

// fixtureFile is the on-disk layout of an interview fixture file.
type fixtureFile struct {
	Interviews []Interview `yaml:"interviews"`
}

// LoadFixtures reads interviews from a YAML file at path.
func LoadFixtures(path string) ([]Interview, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("interview: open fixtures %q: %w", path, err)
	}
	defer f.Close()
	return DecodeFixtures(f)
}

// DecodeFixtures decodes and validates interviews from YAML.
func DecodeFixtures(r io.Reader) ([]Interview, error) {
	var ff fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("interview: decode fixtures: %w", err)
	}
	seen := make(map[string]bool, len(ff.Interviews))
	for i := range ff.Interviews {
		iv := &ff.Interviews[i]
		if err := iv.Validate(); err != nil {
			return nil, err
		}
		if seen[iv.ID] {
			return nil, fmt.Errorf("interview: duplicate fixture id %q", iv.ID)
		}
		seen[iv.ID] = true
	}
	return ff.Interviews, nil
}

// Put inserts or replaces an interview.
func (r *MemoryRepository) Put(iv Interview) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[iv.ID] = iv
}

// Get implements [Repository].
func (r *MemoryRepository) Get(_ context.Context, id string) (*Interview, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iv, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return &iv, nil
}

// ListByUser implements [Repository].
func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Interview, error) {
	r.mu.RLock()
	var out []Interview
	for _, iv := range r.items {
		if iv.UserID == userID {
			out = append(out, iv)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Interview) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
