package dispute

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   map[string]*Case
	actions map[string][]*Action // caseID -> actions in insertion order
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:   make(map[string]*Case),
		actions: make(map[string][]*Action),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateCase(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCase(ctx context.Context, id string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateCase(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; !ok {
		return ErrCaseNotFound
	}
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteCase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return ErrCaseNotFound
	}
	delete(s.cases, id)
	delete(s.actions, id)
	return nil
}

func (s *MemoryStore) ListBreached(ctx context.Context, cutoff time.Time, limit int) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Case
	for _, c := range s.cases {
		if c.State.Terminal() || c.SLADeadline.After(cutoff) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].SLADeadline.Before(out[k].SLADeadline)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Case
	for _, c := range s.cases {
		if c.JobID == jobID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[a.CaseID]; !ok {
		return ErrCaseNotFound
	}
	for _, existing := range s.actions[a.CaseID] {
		if existing.Marker == a.Marker {
			return ErrDuplicateMarker
		}
	}
	s.nextSeq++
	cp := *a
	cp.Seq = s.nextSeq
	s.actions[a.CaseID] = append(s.actions[a.CaseID], &cp)
	a.Seq = cp.Seq
	return nil
}

func (s *MemoryStore) ListActions(ctx context.Context, caseID string) ([]*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions := s.actions[caseID]
	out := make([]*Action, 0, len(actions))
	for _, a := range actions {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkActionExecuted(ctx context.Context, actionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findAction(actionID)
	if a == nil {
		return ErrActionNotFound
	}
	t := at
	a.ExecutedAt = &t
	a.LastFailure = ""
	return nil
}

func (s *MemoryStore) RecordActionFailure(ctx context.Context, actionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findAction(actionID)
	if a == nil {
		return ErrActionNotFound
	}
	a.LastFailure = reason
	return nil
}

func (s *MemoryStore) findAction(actionID string) *Action {
	for _, actions := range s.actions {
		for _, a := range actions {
			if a.ID == actionID {
				return a
			}
		}
	}
	return nil
}
