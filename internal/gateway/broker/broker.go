// Package broker orchestrates one governed generation: decide, check the
// cache, check the budget, call the provider, record spend, gate quality,
// write the cache. Every failure branch ends in the fallback bank; the
// caller always gets a response with a provenance tag.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lessonloom/gateway/internal/gateway/cache"
	"github.com/lessonloom/gateway/internal/gateway/fallback"
	"github.com/lessonloom/gateway/internal/gateway/gate"
	"github.com/lessonloom/gateway/internal/gateway/governor"
	"github.com/lessonloom/gateway/internal/gateway/ledger"
	"github.com/lessonloom/gateway/internal/gateway/providers"
	"github.com/lessonloom/gateway/internal/gateway/request"
	"github.com/lessonloom/gateway/internal/shared/models"
)

// Source tags where a response came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Fallback reasons surfaced to the caller.
const (
	ReasonNotAllowed     = "not allowed"
	ReasonBudgetExceeded = "budget exceeded"
	ReasonProviderError  = "provider error"
	ReasonLedgerError    = "ledger error"
)

// Response is the contract returned to every caller. Exactly one of
// Content and URL is set for non-fallback responses; fallback image
// responses carry a URL, fallback text responses carry Content.
type Response struct {
	Content        string          `json:"content,omitempty"`
	URL            string          `json:"url,omitempty"`
	Usage          providers.Usage `json:"usage"`
	CostUSD        float64         `json:"cost_usd"`
	Source         Source          `json:"source"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	QualityWarning bool            `json:"quality_warning,omitempty"`
}

// cachedPayload is the shape stored in the cache: the content plus the
// usage it originally cost. Cost is never cached; cache hits are free.
type cachedPayload struct {
	Content string          `json:"content,omitempty"`
	URL     string          `json:"url,omitempty"`
	Usage   providers.Usage `json:"usage"`
}

// Config tunes the broker.
type Config struct {
	GlobalCheapMode bool
	MonthlyCapUSD   float64
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
	GateEnabled     bool
	GateMaxAttempts int
	// EvaluatorMaxTokens bounds rubric evaluation calls.
	EvaluatorMaxTokens int
}

type Broker struct {
	governor *governor.Governor
	cache    *cache.Cache
	ledger   *ledger.Ledger
	registry *providers.Registry
	bank     *fallback.Bank
	cfg      Config
	logger   *slog.Logger
}

// New wires a broker from explicitly constructed collaborators. There are
// no hidden singletons: every shared service arrives here by injection.
func New(gov *governor.Governor, c *cache.Cache, l *ledger.Ledger, reg *providers.Registry, bank *fallback.Bank, cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 45 * time.Second
	}
	if cfg.GateMaxAttempts < 1 {
		cfg.GateMaxAttempts = 2
	}
	if cfg.EvaluatorMaxTokens <= 0 {
		cfg.EvaluatorMaxTokens = 400
	}
	return &Broker{
		governor: gov,
		cache:    c,
		ledger:   l,
		registry: reg,
		bank:     bank,
		cfg:      cfg,
		logger:   logger,
	}
}

// Generate runs the governed pipeline for one request. The side-effect
// order within a request is fixed: decide, cache check, budget check, call,
// record, cache write. Generate never returns an error; failures route to
// the fallback bank.
func (b *Broker) Generate(ctx context.Context, req request.Request, settings *models.TenantSettings) *Response {
	suspended := settings != nil && settings.Suspended
	decision := b.governor.Decide(req, b.cfg.GlobalCheapMode, suspended)

	if !decision.Allow {
		b.logger.Info("request not allowed", "tenant_id", req.Tenant(), "kind", req.Kind())
		return b.fallbackResponse(req, ReasonNotAllowed)
	}

	key := b.cache.Key(req, decision)

	// Cache hit short-circuits the paid path entirely: no metric record.
	if payload, hit, err := b.cache.Get(ctx, key, b.cfg.CacheTTL); err != nil {
		b.logger.Warn("cache read failed, treating as miss", "error", err)
	} else if hit {
		var cached cachedPayload
		if err := json.Unmarshal([]byte(payload), &cached); err == nil {
			return &Response{
				Content: cached.Content,
				URL:     cached.URL,
				Usage:   cached.Usage,
				Source:  SourceCache,
			}
		}
		b.logger.Warn("cache entry undecodable, treating as miss", "key", key)
	}

	// Budget admission, immediately before the paid call. Soft cap: no
	// reservation, so concurrent racers may jointly overshoot.
	capUSD := b.cfg.MonthlyCapUSD
	if settings != nil && settings.MonthlyCapUSD != nil {
		capUSD = *settings.MonthlyCapUSD
	}
	adm, err := b.ledger.Enforce(ctx, req.Tenant(), capUSD)
	if err != nil {
		b.logger.Error("budget check failed", "tenant_id", req.Tenant(), "error", err)
		return b.fallbackResponse(req, ReasonLedgerError)
	}
	if !adm.Allowed {
		return b.fallbackResponse(req, ReasonBudgetExceeded)
	}

	switch r := req.(type) {
	case request.TextRequest:
		return b.generateText(ctx, r, decision, key)
	case request.ImageRequest:
		return b.generateImage(ctx, r, decision, key)
	default:
		return b.fallbackResponse(req, ReasonNotAllowed)
	}
}

func (b *Broker) generateText(ctx context.Context, req request.TextRequest, decision governor.Decision, key string) *Response {
	provider, err := b.registry.Text(decision.Provider)
	if err != nil {
		b.logger.Error("text provider unavailable", "provider", decision.Provider, "error", err)
		return b.fallbackResponse(req, ReasonProviderError)
	}

	result, err := b.callText(ctx, provider, decision, req.Messages, key)
	if err != nil {
		// No retry at this layer; retry storms are worse than a fallback.
		b.logger.Warn("text generation failed",
			"tenant_id", req.TenantID,
			"provider", decision.Provider,
			"model", decision.Model,
			"error", err)
		return b.fallbackResponse(req, ReasonProviderError)
	}

	cost := b.ledger.PriceText(ctx, decision.Provider, decision.Model, result.Usage.InputUnits, result.Usage.OutputUnits)
	b.record(ctx, req.TenantID, decision.Provider, decision.Model, result.Usage, cost, key)

	content := result.Content
	usage := result.Usage
	qualityWarning := false

	if b.gateApplies(req) {
		gr := b.runGate(ctx, req, decision, key, content)
		content = gr.content
		usage.InputUnits += gr.extraUsage.InputUnits
		usage.OutputUnits += gr.extraUsage.OutputUnits
		cost += gr.extraCost
		qualityWarning = gr.warning
	}

	b.cacheSet(ctx, key, cachedPayload{Content: content, Usage: usage})

	return &Response{
		Content:        content,
		Usage:          usage,
		CostUSD:        cost,
		Source:         SourceRemote,
		QualityWarning: qualityWarning,
	}
}

func (b *Broker) generateImage(ctx context.Context, req request.ImageRequest, decision governor.Decision, key string) *Response {
	provider, err := b.registry.Image(decision.Provider)
	if err != nil {
		b.logger.Error("image provider unavailable", "provider", decision.Provider, "error", err)
		return b.fallbackResponse(req, ReasonProviderError)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.ProviderTimeout)
	defer cancel()

	result, err := provider.GenerateImage(callCtx, providers.ImageParams{
		Model:    decision.Model,
		Prompt:   req.PromptText,
		Size:     decision.ImageSize,
		Quality:  decision.ImageQuality,
		CacheKey: key,
	})
	if err != nil {
		b.logger.Warn("image generation failed",
			"tenant_id", req.TenantID,
			"provider", decision.Provider,
			"model", decision.Model,
			"error", err)
		return b.fallbackResponse(req, ReasonProviderError)
	}

	cost := b.ledger.PriceImage(ctx, decision.Provider, decision.Model, decision.ImageSize)
	b.record(ctx, req.TenantID, decision.Provider, decision.Model, result.Usage, cost, key)

	b.cacheSet(ctx, key, cachedPayload{URL: result.URL, Usage: result.Usage})

	return &Response{
		URL:     result.URL,
		Usage:   result.Usage,
		CostUSD: cost,
		Source:  SourceRemote,
	}
}

// callText runs one provider call bounded by the configured timeout.
// A timeout surfaces as an ordinary provider error.
func (b *Broker) callText(ctx context.Context, provider providers.TextProvider, decision governor.Decision, messages []openai.ChatCompletionMessage, key string) (*providers.TextResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.ProviderTimeout)
	defer cancel()

	return provider.GenerateText(callCtx, providers.TextParams{
		Model:     decision.Model,
		Messages:  messages,
		MaxTokens: decision.MaxOutputTokens,
		CacheKey:  key,
	})
}

func (b *Broker) gateApplies(req request.TextRequest) bool {
	return b.cfg.GateEnabled && req.Purpose == request.PurposeCatalog
}

type gateOutcome struct {
	content    string
	extraUsage providers.Usage
	extraCost  float64
	warning    bool
}

// runGate evaluates and, if needed, revises the draft. Every evaluator and
// revision call is a paid call: each is priced and recorded against the
// tenant like the original generation.
func (b *Broker) runGate(ctx context.Context, req request.TextRequest, decision governor.Decision, key, draft string) gateOutcome {
	provider, err := b.registry.Text(decision.Provider)
	if err != nil {
		return gateOutcome{content: draft}
	}

	out := gateOutcome{content: draft}

	evaluator := &gate.LLMEvaluator{
		Provider:  provider,
		Model:     decision.Model,
		MaxTokens: b.cfg.EvaluatorMaxTokens,
		OnUsage: func(u providers.Usage) {
			c := b.ledger.PriceText(ctx, decision.Provider, decision.Model, u.InputUnits, u.OutputUnits)
			b.record(ctx, req.TenantID, decision.Provider, decision.Model, u, c, key)
			out.extraUsage.InputUnits += u.InputUnits
			out.extraUsage.OutputUnits += u.OutputUnits
			out.extraCost += c
		},
	}

	regen := func(ctx context.Context, fix string) (string, error) {
		messages := append(append([]openai.ChatCompletionMessage{}, req.Messages...),
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: fix})
		result, err := b.callText(ctx, provider, decision, messages, key)
		if err != nil {
			return "", err
		}
		c := b.ledger.PriceText(ctx, decision.Provider, decision.Model, result.Usage.InputUnits, result.Usage.OutputUnits)
		b.record(ctx, req.TenantID, decision.Provider, decision.Model, result.Usage, c, key)
		out.extraUsage.InputUnits += result.Usage.InputUnits
		out.extraUsage.OutputUnits += result.Usage.OutputUnits
		out.extraCost += c
		return result.Content, nil
	}

	g := gate.New(evaluator, b.cfg.GateMaxAttempts, b.logger)
	result := g.Run(ctx, draft, regen)

	out.content = result.Content
	out.warning = result.Verdict == gate.VerdictAcceptedWithWarning
	return out
}

// record appends a metric row. A failed append is logged but does not fail
// the request: the content exists and was paid for already.
func (b *Broker) record(ctx context.Context, tenantID, provider, model string, usage providers.Usage, cost float64, key string) {
	rec := &models.MetricRecord{
		TenantID:    tenantID,
		Provider:    provider,
		Model:       model,
		InputUnits:  usage.InputUnits,
		OutputUnits: usage.OutputUnits,
		CostUSD:     cost,
		CacheKey:    key,
	}
	if err := b.ledger.Record(ctx, rec); err != nil {
		b.logger.Error("metric record append failed",
			"tenant_id", tenantID,
			"cost_usd", cost,
			"error", err)
	}
}

func (b *Broker) cacheSet(ctx context.Context, key string, payload cachedPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("cache payload encode failed", "error", err)
		return
	}
	if err := b.cache.Set(ctx, key, string(data)); err != nil {
		b.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (b *Broker) fallbackResponse(req request.Request, reason string) *Response {
	picked := b.bank.Pick(req.Category())

	resp := &Response{
		Source:         SourceFallback,
		FallbackReason: reason,
	}
	if req.Kind() == request.KindImage {
		resp.URL = picked
	} else {
		resp.Content = picked
	}

	b.logger.Info("served fallback content",
		"tenant_id", req.Tenant(),
		"kind", req.Kind(),
		"category", req.Category(),
		"reason", reason)
	return resp
}
