package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider handles OpenAI API requests for text and images
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
	}
}

// GenerateText makes a chat completion request to OpenAI
func (p *OpenAIProvider) GenerateText(ctx context.Context, params TextParams) (*TextResult, error) {
	startTime := time.Now()

	openaiReq := openai.ChatCompletionRequest{
		Model:    params.Model,
		Messages: params.Messages,
		// Cache key doubles as a stable end-user identifier for tracing.
		User: params.CacheKey,
	}
	if params.MaxTokens > 0 {
		openaiReq.MaxTokens = params.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI API returned no choices")
	}

	latencyMs := int(time.Since(startTime).Milliseconds())

	return &TextResult{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputUnits:  resp.Usage.PromptTokens,
			OutputUnits: resp.Usage.CompletionTokens,
		},
		LatencyMs: latencyMs,
	}, nil
}

// GenerateImage makes an image generation request to OpenAI
func (p *OpenAIProvider) GenerateImage(ctx context.Context, params ImageParams) (*ImageResult, error) {
	startTime := time.Now()

	imgReq := openai.ImageRequest{
		Model:          params.Model,
		Prompt:         params.Prompt,
		Size:           params.Size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
		User:           params.CacheKey,
	}
	// Quality is a dall-e-3 knob; dall-e-2 rejects it.
	if params.Model != openai.CreateImageModelDallE2 {
		imgReq.Quality = params.Quality
	}

	resp, err := p.client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI image API error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI image API returned no images")
	}

	latencyMs := int(time.Since(startTime).Milliseconds())

	return &ImageResult{
		URL:       resp.Data[0].URL,
		Usage:     Usage{OutputUnits: 1},
		LatencyMs: latencyMs,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}
