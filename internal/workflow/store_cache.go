package workflow

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore puts an LRU in front of another ProgressStore. Only terminal
// records are cached: they never change again, so a hit can skip the backend
// entirely. Everything else passes through.
type CachedStore struct {
	inner ProgressStore
	cache *lru.Cache[string, *SubmissionProgress]
}

func NewCachedStore(inner ProgressStore, size int) (*CachedStore, error) {
	cache, err := lru.New[string, *SubmissionProgress](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

func (s *CachedStore) Put(ctx context.Context, rec *SubmissionProgress) error {
	if err := s.inner.Put(ctx, rec); err != nil {
		return err
	}
	if rec.Status.Terminal() {
		cp := *rec
		s.cache.Add(rec.ID, &cp)
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*SubmissionProgress, error) {
	if rec, ok := s.cache.Get(id); ok {
		cp := *rec
		return &cp, nil
	}
	rec, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		cp := *rec
		s.cache.Add(id, &cp)
	}
	return rec, nil
}

func (s *CachedStore) List(ctx context.Context) ([]*SubmissionProgress, error) {
	return s.inner.List(ctx)
}

func (s *CachedStore) FindByContentID(ctx context.Context, campaignID, contentID string) (*SubmissionProgress, error) {
	return s.inner.FindByContentID(ctx, campaignID, contentID)
}

func (s *CachedStore) ListUnfinished(ctx context.Context) ([]*SubmissionProgress, error) {
	return s.inner.ListUnfinished(ctx)
}

func (s *CachedStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.inner.PurgeTerminalBefore(ctx, cutoff)
	if n > 0 {
		s.cache.Purge()
	}
	return n, err
}
