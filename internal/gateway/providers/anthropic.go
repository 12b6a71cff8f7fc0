package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider handles Anthropic Claude API requests
type AnthropicProvider struct {
	apiKey     string
	httpClient *http.Client
}

// AnthropicRequest represents a request to Anthropic's Messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Metadata    *AnthropicMetadata `json:"metadata,omitempty"`
}

// AnthropicMetadata carries request metadata for tracing
type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// AnthropicMessage represents a message in Anthropic format
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents a response from Anthropic's API
type AnthropicResponse struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
	Model   string                  `json:"model"`
	Usage   AnthropicUsage          `json:"usage"`
}

// AnthropicContentBlock represents a content block
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage represents token usage
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// GenerateText makes a messages request to Anthropic
func (p *AnthropicProvider) GenerateText(ctx context.Context, params TextParams) (*TextResult, error) {
	startTime := time.Now()

	anthropicReq, systemPrompt := p.convertMessages(params.Messages)
	anthropicReq.Model = params.Model
	anthropicReq.MaxTokens = params.MaxTokens
	if anthropicReq.MaxTokens <= 0 {
		anthropicReq.MaxTokens = 1024
	}
	if systemPrompt != "" {
		anthropicReq.System = systemPrompt
	}
	if params.CacheKey != "" {
		anthropicReq.Metadata = &AnthropicMetadata{UserID: params.CacheKey}
	}

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicMessagesURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	latencyMs := int(time.Since(startTime).Milliseconds())

	return &TextResult{
		Content: text.String(),
		Usage: Usage{
			InputUnits:  anthropicResp.Usage.InputTokens,
			OutputUnits: anthropicResp.Usage.OutputTokens,
		},
		LatencyMs: latencyMs,
	}, nil
}

// convertMessages converts OpenAI-style messages to Anthropic format,
// extracting system messages into the top-level system prompt.
func (p *AnthropicProvider) convertMessages(messages []openai.ChatCompletionMessage) (AnthropicRequest, string) {
	var req AnthropicRequest
	var system strings.Builder

	for _, m := range messages {
		if m.Role == openai.ChatMessageRoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
			continue
		}
		req.Messages = append(req.Messages, AnthropicMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return req, system.String()
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}
