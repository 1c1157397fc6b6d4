package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSubmissionKey = "engine:submission:%s"
	redisContentKey    = "engine:submission:content:%s:%s"
	redisIndexKey      = "engine:submissions"
)

// RedisStore is a ProgressStore over Redis. Terminal records additionally get
// a TTL so retention holds even if the janitor never runs.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Put(ctx context.Context, rec *SubmissionProgress) error {
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal submission %s: %w", rec.ID, err)
	}

	pipe := s.client.Pipeline()
	key := fmt.Sprintf(redisSubmissionKey, rec.ID)
	if rec.Status.Terminal() {
		pipe.Set(ctx, key, data, s.retention)
	} else {
		pipe.Set(ctx, key, data, 0)
	}
	pipe.SAdd(ctx, redisIndexKey, rec.ID)
	if rec.ContentID != "" {
		pipe.Set(ctx, fmt.Sprintf(redisContentKey, rec.CampaignID, rec.ContentID), rec.ID, s.retention)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*SubmissionProgress, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(redisSubmissionKey, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec SubmissionProgress
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*SubmissionProgress, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*SubmissionProgress, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired behind the index; drop the dangling member
			s.client.SRem(ctx, redisIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *RedisStore) FindByContentID(ctx context.Context, campaignID, contentID string) (*SubmissionProgress, error) {
	if contentID == "" {
		return nil, ErrNotFound
	}
	id, err := s.client.Get(ctx, fmt.Sprintf(redisContentKey, campaignID, contentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) ListUnfinished(ctx context.Context) ([]*SubmissionProgress, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if !rec.Status.Terminal() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var purged int64
	for _, rec := range all {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			pipe := s.client.Pipeline()
			pipe.Del(ctx, fmt.Sprintf(redisSubmissionKey, rec.ID))
			pipe.SRem(ctx, redisIndexKey, rec.ID)
			if rec.ContentID != "" {
				pipe.Del(ctx, fmt.Sprintf(redisContentKey, rec.CampaignID, rec.ContentID))
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}
