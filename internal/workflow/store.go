package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ProgressStore keeps submission records. Implementations must treat Put as a
// full-record upsert; the engine persists after every state transition.
type ProgressStore interface {
	Put(ctx context.Context, rec *SubmissionProgress) error
	Get(ctx context.Context, id string) (*SubmissionProgress, error)
	List(ctx context.Context) ([]*SubmissionProgress, error)

	// FindByContentID matches a record by content identifier + campaign id.
	// Batch fan-out uses this to locate the owner of each real entry.
	FindByContentID(ctx context.Context, campaignID, contentID string) (*SubmissionProgress, error)

	// ListUnfinished returns every non-terminal record, oldest first.
	ListUnfinished(ctx context.Context) ([]*SubmissionProgress, error)

	// PurgeTerminalBefore deletes terminal records last updated before cutoff.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is a map-backed ProgressStore for tests and single-process
// setups that do not need durability.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*SubmissionProgress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*SubmissionProgress)}
}

func (s *MemoryStore) Put(ctx context.Context, rec *SubmissionProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.UpdatedAt = time.Now()
	s.recs[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SubmissionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*SubmissionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SubmissionProgress, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) FindByContentID(ctx context.Context, campaignID, contentID string) (*SubmissionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.recs {
		if rec.CampaignID == campaignID && rec.ContentID == contentID && contentID != "" {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUnfinished(ctx context.Context) ([]*SubmissionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SubmissionProgress
	for _, rec := range s.recs {
		if !rec.Status.Terminal() {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, rec := range s.recs {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.recs, id)
			purged++
		}
	}
	return purged, nil
}
