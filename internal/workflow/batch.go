package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/contentmine/engine/internal/ledger"
)

// Batch accumulates prepared entries for one campaign until it is flushed.
// The collecting -> submitting transition happens exactly once per instance,
// whichever of the size check or the timeout wins.
type Batch struct {
	ID         string
	CampaignID string
	TargetSize int
	CreatedAt  time.Time

	mu          sync.Mutex
	status      BatchStatus
	entries     []*ledger.Entry
	submittedAt *time.Time
	result      *ledger.Result
	timer       Timer
}

// append adds an entry if the batch is still collecting. full is true when
// the append hit the target size.
func (b *Batch) append(e *ledger.Entry) (accepted, full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BatchCollecting {
		return false, false
	}
	b.entries = append(b.entries, e)
	return true, len(b.entries) == b.TargetSize
}

// beginSubmit claims the single flush. It returns the collected entries in
// addEntry order, or false if another flush already won.
func (b *Batch) beginSubmit(now time.Time) ([]*ledger.Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BatchCollecting {
		return nil, false
	}
	b.status = BatchSubmitting
	t := now
	b.submittedAt = &t
	entries := make([]*ledger.Entry, len(b.entries))
	copy(entries, b.entries)
	return entries, true
}

func (b *Batch) finish(status BatchStatus, res *ledger.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.result = res
}

func (b *Batch) Snapshot() BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := BatchSnapshot{
		ID:         b.ID,
		CampaignID: b.CampaignID,
		TargetSize: b.TargetSize,
		EntryCount: len(b.entries),
		Status:     b.status,
		CreatedAt:  b.CreatedAt,
		TxResult:   b.result,
	}
	if b.submittedAt != nil {
		t := *b.submittedAt
		snap.SubmittedAt = &t
	}
	return snap
}

func (b *Batch) currentStatus() BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Batch) age(now time.Time) time.Duration {
	return now.Sub(b.CreatedAt)
}

func (b *Batch) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// BatchRegistry owns every live and recently finished batch. At most one
// collecting batch exists per campaign at any time.
type BatchRegistry struct {
	mu         sync.Mutex
	collecting map[string]*Batch // campaign id -> current collecting batch
	batches    map[string]*Batch // batch id -> batch, retained until purged

	submitter  ledger.Submitter
	store      ProgressStore
	clock      Clock
	targetSize int
	timeout    time.Duration
}

func NewBatchRegistry(submitter ledger.Submitter, store ProgressStore, clock Clock, targetSize int, timeout time.Duration) *BatchRegistry {
	if targetSize <= 0 {
		targetSize = 50
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &BatchRegistry{
		collecting: make(map[string]*Batch),
		batches:    make(map[string]*Batch),
		submitter:  submitter,
		store:      store,
		clock:      clock,
		targetSize: targetSize,
		timeout:    timeout,
	}
}

// Add appends a prepared entry to the campaign's collecting batch, creating
// one lazily. A full batch is flushed on the caller's goroutine; a partial
// one is left to its one-shot timeout.
func (r *BatchRegistry) Add(campaignID string, entry *ledger.Entry, sizeOverride int) {
	for {
		b := r.currentOrNew(campaignID, sizeOverride)
		accepted, full := b.append(entry)
		if !accepted {
			// batch left collecting between lookup and append; take the next one
			continue
		}
		log.Debugf("batch %s collected entry %d/%d for campaign %s", b.ID, b.pendingCount(), b.TargetSize, campaignID)
		if full {
			r.flush(b)
		}
		return
	}
}

func (r *BatchRegistry) currentOrNew(campaignID string, sizeOverride int) *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b := r.collecting[campaignID]; b != nil && b.currentStatus() == BatchCollecting {
		return b
	}

	size := r.targetSize
	if sizeOverride > 0 {
		size = sizeOverride
	}
	b := &Batch{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		TargetSize: size,
		CreatedAt:  r.clock.Now(),
		status:     BatchCollecting,
	}
	b.timer = r.clock.AfterFunc(r.timeout, func() {
		// timeout flushes only batches holding entries; an empty one
		// stays collecting and is picked up by the sweeper once it
		// has content
		if b.pendingCount() == 0 {
			return
		}
		r.flush(b)
	})
	r.collecting[campaignID] = b
	r.batches[b.ID] = b

	log.Infof("batch %s created for campaign %s (target=%d, timeout=%s)", b.ID, campaignID, size, r.timeout)
	return b
}

// flush submits whatever the batch has collected, padding up to the target
// size. Exactly one caller gets past beginSubmit; everyone else returns.
func (r *BatchRegistry) flush(b *Batch) {
	entries, won := b.beginSubmit(r.clock.Now())
	if !won {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}

	r.mu.Lock()
	if r.collecting[b.CampaignID] == b {
		delete(r.collecting, b.CampaignID)
	}
	r.mu.Unlock()

	// Batch outcome belongs to every member, not to whichever caller
	// happened to trigger the flush.
	ctx := context.Background()

	for _, e := range entries {
		r.markMember(ctx, e, func(rec *SubmissionProgress) {
			rec.Status = StatusBatchSubmitting
			rec.Stage = "batch_submitting"
			rec.Message = "submitting batch to ledger"
			rec.setPercent(95)
			stampOnce(&rec.BatchSubmittedAt, r.clock.Now())
		})
	}

	slots := make([]ledger.Slot, 0, b.TargetSize)
	for _, e := range entries {
		slots = append(slots, ledger.RealSlot(e))
	}
	for len(slots) < b.TargetSize {
		slots = append(slots, ledger.PaddingSlot())
	}

	log.WithFields(log.Fields{
		"batch_id": b.ID,
		"campaign": b.CampaignID,
		"real":     len(entries),
		"padding":  b.TargetSize - len(entries),
	}).Info("flushing batch to ledger")

	res, err := r.submitter.SubmitBatch(ctx, slots)
	if err == nil && res != nil && res.Success {
		b.finish(BatchCompleted, res)
		for _, e := range entries {
			r.markMember(ctx, e, func(rec *SubmissionProgress) {
				rec.Status = StatusCompleted
				rec.Stage = "completed"
				rec.Message = "batch confirmed on ledger"
				rec.TxResult = res
				rec.setPercent(100)
				stampOnce(&rec.CompletedAt, r.clock.Now())
			})
		}
		log.Infof("batch %s completed, tx=%s", b.ID, res.TransactionID)
		return
	}

	errMsg := "batch submission failed"
	if err != nil {
		errMsg = err.Error()
	} else if res != nil && res.Error != "" {
		errMsg = res.Error
	}
	b.finish(BatchFailed, res)
	for _, e := range entries {
		r.markMember(ctx, e, func(rec *SubmissionProgress) {
			rec.Status = StatusFailed
			rec.Stage = "batch_submitting"
			rec.Message = "batch submission failed"
			rec.Error = errMsg
			rec.TxResult = res
			stampOnce(&rec.CompletedAt, r.clock.Now())
		})
	}
	log.Errorf("batch %s failed: %s", b.ID, errMsg)
}

// markMember locates the owning submission by content id + campaign id and
// applies the mutation. Persistence errors are logged, not fatal.
func (r *BatchRegistry) markMember(ctx context.Context, e *ledger.Entry, mutate func(*SubmissionProgress)) {
	rec, err := r.store.FindByContentID(ctx, e.CampaignID, e.ContentID)
	if err != nil {
		log.Warnf("no submission found for content %s in campaign %s: %v", e.ContentID, e.CampaignID, err)
		return
	}
	mutate(rec)
	if err := r.store.Put(ctx, rec); err != nil {
		log.Errorf("failed to persist submission %s: %v", rec.ID, err)
	}
}

// Current returns the most relevant batch for a campaign: the collecting one
// if present, otherwise the latest retained one.
func (r *BatchRegistry) Current(campaignID string) (BatchSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b := r.collecting[campaignID]; b != nil {
		return b.Snapshot(), true
	}
	var latest *Batch
	for _, b := range r.batches {
		if b.CampaignID != campaignID {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return BatchSnapshot{}, false
	}
	return latest.Snapshot(), true
}

func (r *BatchRegistry) CountByStatus() map[BatchStatus]int {
	r.mu.Lock()
	batches := make([]*Batch, 0, len(r.batches))
	for _, b := range r.batches {
		batches = append(batches, b)
	}
	r.mu.Unlock()

	out := make(map[BatchStatus]int)
	for _, b := range batches {
		out[b.currentStatus()]++
	}
	return out
}

// SweepOnce force-flushes collecting batches older than the batch timeout.
// It shares the single-flush guard with the size-triggered path.
func (r *BatchRegistry) SweepOnce() {
	now := r.clock.Now()

	r.mu.Lock()
	var stale []*Batch
	for _, b := range r.collecting {
		if b.age(now) >= r.timeout && b.pendingCount() > 0 {
			stale = append(stale, b)
		}
	}
	r.mu.Unlock()

	for _, b := range stale {
		log.Infof("sweeper flushing stale batch %s (age=%s)", b.ID, b.age(now))
		r.flush(b)
	}
}

// StartSweeper runs SweepOnce on a fixed interval until ctx is done. It is a
// safety net behind the per-batch one-shot timers.
func (r *BatchRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		for {
			if err := r.clock.Sleep(ctx, interval); err != nil {
				return
			}
			r.SweepOnce()
		}
	}()
}

// PurgeTerminalBefore drops retained terminal batches whose submission
// finished before cutoff.
func (r *BatchRegistry) PurgeTerminalBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, b := range r.batches {
		snap := b.Snapshot()
		if snap.Status != BatchCompleted && snap.Status != BatchFailed {
			continue
		}
		finished := snap.CreatedAt
		if snap.SubmittedAt != nil {
			finished = *snap.SubmittedAt
		}
		if finished.Before(cutoff) {
			delete(r.batches, id)
			purged++
		}
	}
	return purged
}
