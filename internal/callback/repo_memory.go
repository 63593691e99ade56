package callback

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs
// without a database.
type MemoryRepo struct {
	mu        sync.Mutex
	callbacks []Callback
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Insert(_ context.Context, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
	return nil
}

func (r *MemoryRepo) ListPending(_ context.Context, limit int) ([]Callback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.callbacks)
	if limit < n {
		n = limit
	}
	out := make([]Callback, n)
	copy(out, r.callbacks[:n])
	return out, nil
}
