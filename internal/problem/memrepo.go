package problem

import (
	"context"
	"math/rand"
	"slices"
	"strings"
	"sync"
)

// MemoryRepository is an in-process catalog used when no database is configured.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Problem
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Problem)}
}

func (r *MemoryRepository) Upsert(_ context.Context, p *Problem) error {
	if err := validate(p); err != nil {
		return err
	}
	cp := *p
	r.mu.Lock()
	r.byID[cp.ID] = &cp
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Problem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) Random(_ context.Context, minutes int) (*Problem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, p := range r.byID {
		if p.TimeMinutes == minutes {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoProblem
	}
	slices.Sort(ids)
	cp := *r.byID[ids[rand.Intn(len(ids))]]
	return &cp, nil
}
