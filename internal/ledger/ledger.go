package ledger

import "context"

// Entry is the immutable payload shape the ledger call requires.
type Entry struct {
	CampaignID  string `json:"campaign_id"`
	Content     string `json:"content"`
	Model       string `json:"model"`
	UsageUnits  int64  `json:"usage_units"`
	Submitter   string `json:"submitter"`
	ContentID   string `json:"content_id"`
	ContentHash string `json:"content_hash"`
}

// Slot is one position in a fixed-size batch. Padding slots exist only to
// satisfy the protocol's array length; they carry no entry.
type Slot struct {
	Entry   *Entry
	Padding bool
}

func RealSlot(e *Entry) Slot { return Slot{Entry: e} }
func PaddingSlot() Slot      { return Slot{Padding: true} }
func (s Slot) IsReal() bool  { return !s.Padding && s.Entry != nil }

// Result is the outcome of one batch submission.
type Result struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transaction_id"`
	BlockNumber   uint64  `json:"block_number,omitempty"`
	Cost          float64 `json:"cost,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Submitter accepts exactly one fixed-size batch per call. Implementations
// must reject arrays whose length does not match their configured size.
type Submitter interface {
	SubmitBatch(ctx context.Context, slots []Slot) (*Result, error)
}
