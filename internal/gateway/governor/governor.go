// Package governor maps a request to concrete generation-tier parameters.
// It is pure policy: no I/O, no budget checks. Budget admission belongs to
// the ledger.
package governor

import (
	"github.com/lessonloom/gateway/internal/gateway/request"
)

// Decision carries the resolved tier parameters for one request.
// It is derived deterministically from the request and the global cheap-mode
// flag and is never persisted on its own.
type Decision struct {
	Allow            bool   `json:"allow"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	MaxOutputTokens  int    `json:"max_output_tokens,omitempty"`
	ImageSize        string `json:"image_size,omitempty"`
	ImageQuality     string `json:"image_quality,omitempty"`
	CheapModeApplied bool   `json:"cheap_mode_applied"`
}

// Policy holds the tier table the governor decides from.
type Policy struct {
	TextProvider string

	CheapTextModel    string
	StandardTextModel string
	PremiumTextModel  string

	CheapMaxTokens    int
	StandardMaxTokens int
	PremiumMaxTokens  int
	// HardTokenCeiling bounds every tier, including premium.
	HardTokenCeiling int

	ImageProvider string

	CheapImageModel    string
	StandardImageModel string
	PremiumImageModel  string

	CheapImageSize        string
	StandardImageSize     string
	StandardImageSizeTall string
	PremiumImageSize      string
	PremiumImageSizeTall  string
}

// DefaultPolicy returns the built-in tier table.
func DefaultPolicy() Policy {
	return Policy{
		TextProvider: "openai",

		CheapTextModel:    "gpt-4o-mini",
		StandardTextModel: "gpt-4o-mini",
		PremiumTextModel:  "gpt-4o",

		CheapMaxTokens:    400,
		StandardMaxTokens: 1024,
		PremiumMaxTokens:  2048,
		HardTokenCeiling:  4096,

		ImageProvider: "openai",

		CheapImageModel:    "dall-e-2",
		StandardImageModel: "dall-e-3",
		PremiumImageModel:  "dall-e-3",

		CheapImageSize:        "512x512",
		StandardImageSize:     "1024x1024",
		StandardImageSizeTall: "1024x1792",
		PremiumImageSize:      "1024x1024",
		PremiumImageSizeTall:  "1024x1792",
	}
}

// Governor decides generation tiers from its policy table.
type Governor struct {
	policy Policy
}

// New creates a governor with the given policy.
func New(policy Policy) *Governor {
	return &Governor{policy: policy}
}

// Decide resolves the tier for a request. Cheap mode overrides urgency:
// a high-urgency practice request still gets the cheap tier. Suspension is
// the only condition that clears Allow; the governor never denies on budget.
func (g *Governor) Decide(req request.Request, cheapMode, suspended bool) Decision {
	switch r := req.(type) {
	case request.TextRequest:
		return g.decideText(r, cheapMode, suspended)
	case request.ImageRequest:
		return g.decideImage(r, cheapMode, suspended)
	default:
		// Unknown request kinds are refused; the broker routes them to
		// the fallback bank.
		return Decision{Allow: false}
	}
}

func (g *Governor) decideText(r request.TextRequest, cheapMode, suspended bool) Decision {
	p := g.policy
	d := Decision{
		Allow:    !suspended,
		Provider: p.TextProvider,
	}

	switch {
	case cheapMode || r.Purpose == request.PurposePractice:
		d.Model = p.CheapTextModel
		d.MaxOutputTokens = p.CheapMaxTokens
		d.CheapModeApplied = true
	case r.Urgency == request.UrgencyHigh:
		d.Model = p.PremiumTextModel
		d.MaxOutputTokens = p.PremiumMaxTokens
	default:
		d.Model = p.StandardTextModel
		d.MaxOutputTokens = p.StandardMaxTokens
	}

	if p.HardTokenCeiling > 0 && d.MaxOutputTokens > p.HardTokenCeiling {
		d.MaxOutputTokens = p.HardTokenCeiling
	}
	return d
}

func (g *Governor) decideImage(r request.ImageRequest, cheapMode, suspended bool) Decision {
	p := g.policy
	d := Decision{
		Allow:    !suspended,
		Provider: p.ImageProvider,
	}

	switch {
	case cheapMode || r.Purpose == request.PurposePractice:
		d.Model = p.CheapImageModel
		d.ImageSize = p.CheapImageSize
		d.ImageQuality = "standard"
		d.CheapModeApplied = true
	case r.Urgency == request.UrgencyHigh:
		d.Model = p.PremiumImageModel
		d.ImageSize = p.PremiumImageSizeTall
		if r.PreferSquare {
			d.ImageSize = p.PremiumImageSize
		}
		d.ImageQuality = "hd"
	default:
		d.Model = p.StandardImageModel
		d.ImageSize = p.StandardImageSizeTall
		if r.PreferSquare {
			d.ImageSize = p.StandardImageSize
		}
		d.ImageQuality = "standard"
	}
	return d
}
