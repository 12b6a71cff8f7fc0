package gate

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/lessonloom/gateway/internal/gateway/providers"
)

const rubricPrompt = `You are a curriculum reviewer. Judge the lesson content below against this rubric and reply with ONLY a JSON object:

{
  "grounded_in_real_life": bool,
  "uses_concrete_materials": bool,
  "has_clear_goal": bool,
  "links_to_standard": bool,
  "cognitive_level": "remember" | "understand" | "apply" | "analyze" | "evaluate" | "create",
  "engagement_hooks": [string],
  "fix": "one-line instruction to improve the content, empty if none needed"
}`

// LLMEvaluator judges drafts by asking a text provider to fill in the
// rubric. Evaluation runs on a cheap tier; its usage is reported through
// OnUsage so the caller can price and record it.
type LLMEvaluator struct {
	Provider  providers.TextProvider
	Model     string
	MaxTokens int
	// OnUsage, if set, receives the usage of every evaluation call.
	OnUsage func(providers.Usage)
}

// Evaluate submits the draft and returns the raw report.
func (e *LLMEvaluator) Evaluate(ctx context.Context, draft string) (string, error) {
	result, err := e.Provider.GenerateText(ctx, providers.TextParams{
		Model: e.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rubricPrompt},
			{Role: openai.ChatMessageRoleUser, Content: draft},
		},
		MaxTokens: e.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("rubric evaluation: %w", err)
	}
	if e.OnUsage != nil {
		e.OnUsage(result.Usage)
	}
	return result.Content, nil
}
