// Package store holds the AuditStore backends: in-memory, Redis and Postgres.
// Every backend serializes writes per audit id and refuses to modify
// terminal records.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"brandaudit/internal/audit/models"
	"brandaudit/pkg/platform/sentinel"
)

// InMemory is a map-backed store. Data does not survive a restart.
type InMemory struct {
	mu     sync.RWMutex
	audits map[string]*models.Audit
	now    func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		audits: make(map[string]*models.Audit),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Create(_ context.Context, fields models.AuditFields) (*models.Audit, error) {
	a := models.NewAudit(fields, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[a.ID] = a
	return a.Clone(), nil
}

func (s *InMemory) Get(_ context.Context, id string) (*models.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, fmt.Errorf("audit %s: %w", id, sentinel.ErrNotFound)
	}
	return a.Clone(), nil
}

// Update merges patch into the stored record under the write lock.
func (s *InMemory) Update(_ context.Context, id string, patch models.AuditPatch) (*models.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, fmt.Errorf("audit %s: %w", id, sentinel.ErrNotFound)
	}
	if err := patch.Check(a); err != nil {
		return nil, err
	}
	patch.Apply(a)
	return a.Clone(), nil
}

// ListByStatus returns audits in status, oldest first.
func (s *InMemory) ListByStatus(_ context.Context, status models.Status) ([]*models.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Audit, 0)
	for _, a := range s.audits {
		if a.Status == status {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(audits []*models.Audit) {
	slices.SortFunc(audits, func(a, b *models.Audit) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
