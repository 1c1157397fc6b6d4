package workflow

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/contentmine/engine/internal/common"
)

// Engine is the public entry point for the submission workflow. Submit
// returns immediately; the pipeline runs on its own goroutine and reports
// through the progress store.
type Engine struct {
	store    ProgressStore
	executor *StageExecutor
	batches  *BatchRegistry
	queue    *SubmissionQueue
	clock    Clock
}

// Options wires an Engine. Store, Executor and Batches are required; Clock
// defaults to the system clock.
type Options struct {
	Store    ProgressStore
	Executor *StageExecutor
	Batches  *BatchRegistry
	Clock    Clock
}

func NewEngine(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		store:    opts.Store,
		executor: opts.Executor,
		batches:  opts.Batches,
		clock:    clock,
	}
}

// AttachQueue hands the engine the intake queue so Stats can report depth.
func (e *Engine) AttachQueue(q *SubmissionQueue) { e.queue = q }

// Submit validates the config, creates the progress record and schedules the
// pipeline. It never blocks on pipeline completion and pipeline errors never
// reach this caller.
func (e *Engine) Submit(ctx context.Context, cfg SubmissionConfig) (string, error) {
	if cfg.GeneratorID == "" {
		return "", fmt.Errorf("%w: generator id is required", ErrInvalidConfig)
	}
	if cfg.CampaignID == "" {
		return "", fmt.Errorf("%w: campaign id is required", ErrInvalidConfig)
	}

	id, err := common.NewULID()
	if err != nil {
		return "", fmt.Errorf("failed to allocate submission id: %w", err)
	}

	now := e.clock.Now()
	rec := &SubmissionProgress{
		ID:               id,
		CampaignID:       cfg.CampaignID,
		GeneratorID:      cfg.GeneratorID,
		SubmitterAddress: cfg.SubmitterAddress,
		Status:           StatusGenerating,
		Stage:            "generating",
		Message:          "submission accepted",
		StartedAt:        now,
		CreatedAt:        now,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to create submission record: %w", err)
	}

	go e.runPipeline(cfg, id)

	log.Infof("submission %s accepted for campaign %s (auto_submit=%t)", id, cfg.CampaignID, cfg.AutoSubmit)
	return id, nil
}

func (e *Engine) runPipeline(cfg SubmissionConfig, id string) {
	// The pipeline outlives the Submit call, so it gets its own context.
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("pipeline panic for submission %s: %v", id, r)
			if rec, err := e.store.Get(ctx, id); err == nil && !rec.Status.Terminal() {
				rec.Status = StatusFailed
				rec.Message = "submission failed"
				rec.Error = fmt.Sprintf("internal error: %v", r)
				stampOnce(&rec.CompletedAt, e.clock.Now())
				if err := e.store.Put(ctx, rec); err != nil {
					log.Errorf("failed to persist submission %s: %v", id, err)
				}
			}
		}
	}()

	e.executor.Run(ctx, cfg, id)
}

func (e *Engine) GetProgress(ctx context.Context, id string) (*SubmissionProgress, error) {
	return e.store.Get(ctx, id)
}

// ListActive returns every non-terminal submission, oldest first.
func (e *Engine) ListActive(ctx context.Context) ([]*SubmissionProgress, error) {
	return e.store.ListUnfinished(ctx)
}

func (e *Engine) BatchStatus(campaignID string) (BatchSnapshot, bool) {
	return e.batches.Current(campaignID)
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	recs, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{BatchesByStatus: e.batches.CountByStatus()}
	for _, rec := range recs {
		switch rec.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		default:
			stats.Active++
		}
	}
	if e.queue != nil {
		stats.QueueDepth = e.queue.Len()
	}
	return stats, nil
}

// RecoverStale fails every non-terminal record older than grace. It runs once
// at startup: a restarted process cannot resume in-flight pipelines, so they
// are surfaced explicitly instead of hanging forever.
func (e *Engine) RecoverStale(ctx context.Context, grace time.Duration) (int, error) {
	recs, err := e.store.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := e.clock.Now().Add(-grace)
	recovered := 0
	for _, rec := range recs {
		if rec.StartedAt.After(cutoff) {
			continue
		}
		rec.Status = StatusFailed
		rec.Message = "abandoned by process restart"
		rec.Error = ErrStaleOnRestart.Error()
		stampOnce(&rec.CompletedAt, e.clock.Now())
		if err := e.store.Put(ctx, rec); err != nil {
			log.Errorf("failed to persist stale submission %s: %v", rec.ID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Warnf("marked %d stale submissions as failed after restart", recovered)
	}
	return recovered, nil
}

// StartJanitor purges terminal submissions and batches older than retention
// on a fixed interval until ctx is done.
func (e *Engine) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	go func() {
		for {
			if err := e.clock.Sleep(ctx, interval); err != nil {
				return
			}
			cutoff := e.clock.Now().Add(-retention)
			n, err := e.store.PurgeTerminalBefore(ctx, cutoff)
			if err != nil {
				log.Errorf("janitor: failed to purge submissions: %v", err)
			}
			nb := e.batches.PurgeTerminalBefore(cutoff)
			if n > 0 || nb > 0 {
				log.Infof("janitor purged %d submissions, %d batches", n, nb)
			}
		}
	}()
}
