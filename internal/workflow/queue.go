package workflow

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SubmissionQueue serializes incoming submissions into the orchestrator at a
// bounded rate. It preserves enqueue order for starting pipelines; it does
// not bound how many pipelines run concurrently once started.
type SubmissionQueue struct {
	mu       sync.Mutex
	items    []SubmissionConfig
	draining bool

	submit func(context.Context, SubmissionConfig) (string, error)
	pacing time.Duration
	clock  Clock
	ctx    context.Context
}

func NewSubmissionQueue(ctx context.Context, submit func(context.Context, SubmissionConfig) (string, error), pacing time.Duration, clock Clock) *SubmissionQueue {
	if clock == nil {
		clock = SystemClock()
	}
	return &SubmissionQueue{
		submit: submit,
		pacing: pacing,
		clock:  clock,
		ctx:    ctx,
	}
}

// Enqueue appends a config and kicks the drainer if idle.
func (q *SubmissionQueue) Enqueue(cfg SubmissionConfig) {
	q.mu.Lock()
	q.items = append(q.items, cfg)
	depth := len(q.items)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	log.Debugf("submission queued for campaign %s (depth=%d)", cfg.CampaignID, depth)
	if start {
		go q.drain()
	}
}

func (q *SubmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *SubmissionQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		cfg := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if q.ctx.Err() != nil {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}

		if _, err := q.submit(q.ctx, cfg); err != nil {
			// a rejected config only affects itself
			log.Warnf("queued submission rejected for campaign %s: %v", cfg.CampaignID, err)
		}

		if err := q.clock.Sleep(q.ctx, q.pacing); err != nil {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}
	}
}
