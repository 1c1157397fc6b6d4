package storage

import "context"

// Metadata travels with the content into the store.
type Metadata struct {
	Title        string  `json:"title"`
	CampaignID   string  `json:"campaign_id"`
	Submitter    string  `json:"submitter"`
	ContentType  string  `json:"content_type"`
	Model        string  `json:"model,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

// StoredContent is the result of a successful upload.
type StoredContent struct {
	ContentID     string `json:"content_id"`
	RetrievalURL  string `json:"retrieval_url"`
	IntegrityHash string `json:"integrity_hash"`
	Size          int64  `json:"size"`
}

type Provider interface {
	Store(ctx context.Context, content []byte, meta Metadata) (*StoredContent, error)
}
