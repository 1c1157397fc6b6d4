package workflow

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/ledger"
	"github.com/contentmine/engine/internal/storage"
)

// StageExecutor runs the four pipeline stages for one submission:
// generate -> store -> prepare -> finalize. Stages run strictly in order and
// never re-run; the first failure terminates the record.
type StageExecutor struct {
	store     ProgressStore
	providers *ai.Registry
	storage   storage.Provider
	batches   *BatchRegistry
	clock     Clock
}

func NewStageExecutor(store ProgressStore, providers *ai.Registry, storageProvider storage.Provider, batches *BatchRegistry, clock Clock) *StageExecutor {
	if clock == nil {
		clock = SystemClock()
	}
	return &StageExecutor{
		store:     store,
		providers: providers,
		storage:   storageProvider,
		batches:   batches,
		clock:     clock,
	}
}

// Run drives one submission to queued_for_batch or a terminal state. Errors
// are written into the record, never returned to the orchestrator's caller.
func (e *StageExecutor) Run(ctx context.Context, cfg SubmissionConfig, id string) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		log.Errorf("executor: submission %s not loadable: %v", id, err)
		return
	}

	gen, err := e.generate(ctx, cfg, rec)
	if err != nil {
		e.fail(ctx, rec, stageErr("generation", err))
		return
	}

	stored, err := e.storeContent(ctx, cfg, rec, gen)
	if err != nil {
		e.fail(ctx, rec, stageErr("storage", err))
		return
	}

	entry, err := e.prepare(ctx, cfg, rec, gen, stored)
	if err != nil {
		e.fail(ctx, rec, stageErr("prepare", err))
		return
	}

	e.finalize(ctx, cfg, rec, entry)
}

func (e *StageExecutor) generate(ctx context.Context, cfg SubmissionConfig, rec *SubmissionProgress) (*ai.Generation, error) {
	rec.Stage = "generating"
	rec.Message = fmt.Sprintf("generating content with %s", cfg.Provider)
	e.persist(ctx, rec)

	provider, err := e.providers.Get(ctx, cfg.Provider, cfg.Model, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	gen, err := provider.Generate(ctx, ai.Request{
		Prompt: buildPrompt(cfg),
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, err
	}

	rec.Generation = gen
	rec.Status = StatusStoring
	rec.Stage = "storing"
	rec.Message = "content generated, uploading to storage"
	rec.setPercent(50)
	stampOnce(&rec.GeneratedAt, e.clock.Now())
	e.persist(ctx, rec)

	log.Debugf("submission %s generated %d units with %s", rec.ID, gen.Usage.Units, gen.Model)
	return gen, nil
}

func (e *StageExecutor) storeContent(ctx context.Context, cfg SubmissionConfig, rec *SubmissionProgress, gen *ai.Generation) (*storage.StoredContent, error) {
	stored, err := e.storage.Store(ctx, []byte(gen.Content), storage.Metadata{
		Title:        cfg.CampaignTitle,
		CampaignID:   cfg.CampaignID,
		Submitter:    cfg.SubmitterAddress,
		ContentType:  gen.ContentType,
		Model:        gen.Model,
		QualityScore: gen.QualityScore,
	})
	if err != nil {
		return nil, err
	}

	rec.Stored = stored
	rec.ContentID = stored.ContentID
	rec.Status = StatusPreparing
	rec.Stage = "preparing"
	rec.Message = "content stored, preparing ledger entry"
	rec.setPercent(75)
	stampOnce(&rec.StoredAt, e.clock.Now())
	e.persist(ctx, rec)

	return stored, nil
}

func (e *StageExecutor) prepare(ctx context.Context, cfg SubmissionConfig, rec *SubmissionProgress, gen *ai.Generation, stored *storage.StoredContent) (*ledger.Entry, error) {
	if stored.ContentID == "" {
		return nil, fmt.Errorf("storage returned empty content id")
	}

	entry := &ledger.Entry{
		CampaignID:  cfg.CampaignID,
		Content:     gen.Content,
		Model:       gen.Model,
		UsageUnits:  gen.Usage.Units,
		Submitter:   cfg.SubmitterAddress,
		ContentID:   stored.ContentID,
		ContentHash: stored.IntegrityHash,
	}

	rec.Entry = entry
	rec.Message = "ledger entry prepared"
	rec.setPercent(85)
	e.persist(ctx, rec)

	return entry, nil
}

func (e *StageExecutor) finalize(ctx context.Context, cfg SubmissionConfig, rec *SubmissionProgress, entry *ledger.Entry) {
	if !cfg.AutoSubmit {
		rec.Status = StatusCompleted
		rec.Stage = "completed"
		rec.Message = "content ready for manual submission"
		rec.setPercent(100)
		stampOnce(&rec.CompletedAt, e.clock.Now())
		e.persist(ctx, rec)
		log.Infof("submission %s completed in manual mode", rec.ID)
		return
	}

	rec.Status = StatusQueuedForBatch
	rec.Stage = "queued_for_batch"
	rec.Message = "waiting for batch to fill"
	rec.setPercent(90)
	e.persist(ctx, rec)

	// Ownership of the record transfers to the batch coordinator here.
	e.batches.Add(cfg.CampaignID, entry, cfg.BatchSize)
}

func (e *StageExecutor) fail(ctx context.Context, rec *SubmissionProgress, err error) {
	rec.Status = StatusFailed
	rec.Message = "submission failed"
	rec.Error = err.Error()
	stampOnce(&rec.CompletedAt, e.clock.Now())
	e.persist(ctx, rec)
	log.Warnf("submission %s failed at %s: %v", rec.ID, rec.Stage, err)
}

// persist writes the current snapshot. A write failure is logged and
// otherwise ignored; the pipeline keeps its in-memory state authoritative.
func (e *StageExecutor) persist(ctx context.Context, rec *SubmissionProgress) {
	if err := e.store.Put(ctx, rec); err != nil {
		log.Errorf("failed to persist submission %s: %v", rec.ID, err)
	}
}

// buildPrompt combines the campaign brief with optional guidelines and
// personality augmentation.
func buildPrompt(cfg SubmissionConfig) string {
	var b strings.Builder
	if cfg.CampaignTitle != "" {
		fmt.Fprintf(&b, "Campaign: %s\n\n", cfg.CampaignTitle)
	}
	b.WriteString(cfg.CampaignDescription)
	if cfg.Guidelines != "" {
		fmt.Fprintf(&b, "\n\nGuidelines:\n%s", cfg.Guidelines)
	}
	if cfg.Personality != "" {
		fmt.Fprintf(&b, "\n\nWrite in the following voice:\n%s", cfg.Personality)
	}
	return b.String()
}
