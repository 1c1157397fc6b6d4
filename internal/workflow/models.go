package workflow

import (
	"time"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/ledger"
	"github.com/contentmine/engine/internal/storage"
)

type Status string

const (
	StatusGenerating      Status = "generating"
	StatusStoring         Status = "storing"
	StatusPreparing       Status = "preparing"
	StatusQueuedForBatch  Status = "queued_for_batch"
	StatusBatchSubmitting Status = "batch_submitting"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SubmissionConfig is the immutable input to one submission.
type SubmissionConfig struct {
	GeneratorID         string `json:"generator_id"`
	CampaignID          string `json:"campaign_id"`
	CampaignTitle       string `json:"campaign_title"`
	CampaignDescription string `json:"campaign_description"`
	Guidelines          string `json:"guidelines,omitempty"`
	Personality         string `json:"personality,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`

	SubmitterAddress string `json:"submitter_address"`
	AutoSubmit       bool   `json:"auto_submit"`
	BatchSize        int    `json:"batch_size,omitempty"` // optional override, 0 = default
}

// SubmissionProgress is the record one accepted submission advances through.
// It is owned by the stage executor until it reaches queued_for_batch; from
// then on only the batch coordinator writes it.
type SubmissionProgress struct {
	ID               string `gorm:"primaryKey;size:26" json:"id"`
	CampaignID       string `gorm:"size:64;index" json:"campaign_id"`
	GeneratorID      string `gorm:"size:64" json:"generator_id"`
	SubmitterAddress string `gorm:"size:64" json:"submitter_address"`

	Status          Status `gorm:"type:varchar(20);index" json:"status"`
	Stage           string `gorm:"size:64" json:"stage"`
	Message         string `gorm:"type:text" json:"message"`
	ProgressPercent int    `json:"progress_percent"`

	// ContentID is duplicated out of the stored result so batch fan-out can
	// match records by content identifier + campaign id.
	ContentID string `gorm:"size:128;index" json:"content_id,omitempty"`

	StartedAt        time.Time  `json:"started_at"`
	GeneratedAt      *time.Time `json:"generated_at,omitempty"`
	StoredAt         *time.Time `json:"stored_at,omitempty"`
	BatchSubmittedAt *time.Time `json:"batch_submitted_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	Generation *ai.Generation         `gorm:"serializer:json;type:text" json:"generation,omitempty"`
	Stored     *storage.StoredContent `gorm:"serializer:json;type:text" json:"stored,omitempty"`
	Entry      *ledger.Entry          `gorm:"serializer:json;type:text" json:"entry,omitempty"`
	TxResult   *ledger.Result         `gorm:"serializer:json;type:text" json:"tx_result,omitempty"`

	Error string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SubmissionProgress) TableName() string { return "submission_progress" }

// setPercent keeps the progress hint monotonically non-decreasing.
func (p *SubmissionProgress) setPercent(pct int) {
	if pct > p.ProgressPercent {
		p.ProgressPercent = pct
	}
}

// stampOnce sets a timestamp field at most once.
func stampOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now
		*field = &t
	}
}

type BatchStatus string

const (
	BatchCollecting BatchStatus = "collecting"
	BatchSubmitting BatchStatus = "submitting"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// BatchSnapshot is a read-only copy of a coordinator's state.
type BatchSnapshot struct {
	ID          string         `json:"id"`
	CampaignID  string         `json:"campaign_id"`
	TargetSize  int            `json:"target_size"`
	EntryCount  int            `json:"entry_count"`
	Status      BatchStatus    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	TxResult    *ledger.Result `json:"tx_result,omitempty"`
}

// Stats is the aggregate view exposed to callers.
type Stats struct {
	Active          int                 `json:"active"`
	Completed       int                 `json:"completed"`
	Failed          int                 `json:"failed"`
	BatchesByStatus map[BatchStatus]int `json:"batches_by_status"`
	QueueDepth      int                 `json:"queue_depth"`
}
