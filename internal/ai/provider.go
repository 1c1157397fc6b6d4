package ai

import "context"

// Request carries a single content-generation call.
type Request struct {
	Prompt string
	Model  string
}

// Usage reports what the provider consumed serving a request.
type Usage struct {
	Units int64   `json:"units"`
	Cost  float64 `json:"cost,omitempty"`
}

// Generation is the provider output for one request.
type Generation struct {
	Content      string  `json:"content"`
	ContentType  string  `json:"content_type"`
	Model        string  `json:"model"`
	Usage        Usage   `json:"usage"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

type Provider interface {
	Generate(ctx context.Context, req Request) (*Generation, error)
}
