package snapshot

import (
	"context"
	"sync"
)

// Revision is one entry of a MemoryStore history.
type Revision struct {
	Snapshot Snapshot
	Commit   Commit
}

// MemoryStore keeps snapshots in memory. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[Identifier][]Revision

	// FailReads and FailWrites make the store behave as if its backend was down.
	FailReads  bool
	FailWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[Identifier][]Revision),
	}
}

func (s *MemoryStore) GetPrevious(ctx context.Context, id Identifier) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailReads {
		return nil, ErrStoreUnavailable
	}
	revs := s.history[id]
	if len(revs) == 0 {
		return nil, nil
	}
	snap := revs[len(revs)-1].Snapshot
	return &snap, nil
}

func (s *MemoryStore) PutCurrent(ctx context.Context, id Identifier, snap Snapshot, commit Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return ErrStoreWriteFailed
	}
	s.history[id] = append(s.history[id], Revision{Snapshot: snap, Commit: commit})
	return nil
}

// Seed stores snap as the latest snapshot without a commit record.
func (s *MemoryStore) Seed(id Identifier, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = append(s.history[id], Revision{Snapshot: snap})
}

// History returns all revisions stored for id, oldest first.
func (s *MemoryStore) History(id Identifier) []Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Revision(nil), s.history[id]...)
}
