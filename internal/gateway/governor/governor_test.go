package governor

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/lessonloom/gateway/internal/gateway/request"
)

func textReq(purpose request.Purpose, urgency request.Urgency) request.TextRequest {
	return request.TextRequest{
		TenantID: "t1",
		Purpose:  purpose,
		Urgency:  urgency,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "explain fractions"},
		},
	}
}

func TestDecideText_CheapModeOverridesUrgency(t *testing.T) {
	g := New(DefaultPolicy())

	// High urgency practice content still gets the cheap tier.
	d := g.Decide(textReq(request.PurposePractice, request.UrgencyHigh), false, false)
	assert.True(t, d.CheapModeApplied)
	assert.Equal(t, DefaultPolicy().CheapTextModel, d.Model)
	assert.Equal(t, DefaultPolicy().CheapMaxTokens, d.MaxOutputTokens)

	// Global cheap mode forces the cheap tier even for urgent catalog content.
	d = g.Decide(textReq(request.PurposeCatalog, request.UrgencyHigh), true, false)
	assert.True(t, d.CheapModeApplied)
	assert.Equal(t, DefaultPolicy().CheapTextModel, d.Model)
}

func TestDecideText_Tiers(t *testing.T) {
	g := New(DefaultPolicy())

	premium := g.Decide(textReq(request.PurposeCatalog, request.UrgencyHigh), false, false)
	assert.False(t, premium.CheapModeApplied)
	assert.Equal(t, DefaultPolicy().PremiumTextModel, premium.Model)
	assert.Equal(t, DefaultPolicy().PremiumMaxTokens, premium.MaxOutputTokens)

	standard := g.Decide(textReq(request.PurposeCatalog, request.UrgencyLow), false, false)
	assert.False(t, standard.CheapModeApplied)
	assert.Equal(t, DefaultPolicy().StandardMaxTokens, standard.MaxOutputTokens)
}

func TestDecideText_HardCeilingClamps(t *testing.T) {
	policy := DefaultPolicy()
	policy.PremiumMaxTokens = 99999
	policy.HardTokenCeiling = 4096
	g := New(policy)

	d := g.Decide(textReq(request.PurposeCatalog, request.UrgencyHigh), false, false)
	assert.Equal(t, 4096, d.MaxOutputTokens)
}

func TestDecideText_Determinism(t *testing.T) {
	g := New(DefaultPolicy())
	req := textReq(request.PurposeCatalog, request.UrgencyLow)

	first := g.Decide(req, false, false)
	second := g.Decide(req, false, false)
	assert.Equal(t, first, second)
}

func TestDecide_Suspension(t *testing.T) {
	g := New(DefaultPolicy())

	d := g.Decide(textReq(request.PurposeCatalog, request.UrgencyLow), false, true)
	assert.False(t, d.Allow)

	d = g.Decide(textReq(request.PurposeCatalog, request.UrgencyLow), false, false)
	assert.True(t, d.Allow)
}

func TestDecideImage_Tiers(t *testing.T) {
	g := New(DefaultPolicy())

	img := func(purpose request.Purpose, urgency request.Urgency, square bool) request.ImageRequest {
		return request.ImageRequest{
			TenantID:     "t1",
			Purpose:      purpose,
			Urgency:      urgency,
			PromptText:   "a number line",
			PreferSquare: square,
		}
	}

	cheap := g.Decide(img(request.PurposePractice, request.UrgencyHigh, true), false, false)
	assert.True(t, cheap.CheapModeApplied)
	assert.Equal(t, "dall-e-2", cheap.Model)
	assert.Equal(t, "512x512", cheap.ImageSize)

	premium := g.Decide(img(request.PurposeCatalog, request.UrgencyHigh, true), false, false)
	assert.Equal(t, "dall-e-3", premium.Model)
	assert.Equal(t, "1024x1024", premium.ImageSize)
	assert.Equal(t, "hd", premium.ImageQuality)

	tall := g.Decide(img(request.PurposeCatalog, request.UrgencyLow, false), false, false)
	assert.Equal(t, "1024x1792", tall.ImageSize)
	assert.Equal(t, "standard", tall.ImageQuality)
}
