package providers

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Usage is the normalized unit count a provider reports for one call.
// Tokens for text; images count as output units.
type Usage struct {
	InputUnits  int `json:"input_units"`
	OutputUnits int `json:"output_units"`
}

// TextParams carries the decided tier parameters for a text call. CacheKey
// rides along as request metadata for idempotency and tracing.
type TextParams struct {
	Model     string
	Messages  []openai.ChatCompletionMessage
	MaxTokens int
	CacheKey  string
}

// TextResult is the provider's answer to a text call.
type TextResult struct {
	Content   string
	Usage     Usage
	LatencyMs int
}

// ImageParams carries the decided tier parameters for an image call.
type ImageParams struct {
	Model    string
	Prompt   string
	Size     string
	Quality  string
	CacheKey string
}

// ImageResult is the provider's answer to an image call.
type ImageResult struct {
	URL       string
	Usage     Usage
	LatencyMs int
}

// TextProvider generates text. Implementations must honor ctx cancellation;
// the broker bounds every call with a timeout.
type TextProvider interface {
	GenerateText(ctx context.Context, p TextParams) (*TextResult, error)
	Name() string
}

// ImageProvider generates images.
type ImageProvider interface {
	GenerateImage(ctx context.Context, p ImageParams) (*ImageResult, error)
	Name() string
}
