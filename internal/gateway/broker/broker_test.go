package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonloom/gateway/internal/gateway/cache"
	"github.com/lessonloom/gateway/internal/gateway/fallback"
	"github.com/lessonloom/gateway/internal/gateway/governor"
	"github.com/lessonloom/gateway/internal/gateway/ledger"
	"github.com/lessonloom/gateway/internal/gateway/providers"
	"github.com/lessonloom/gateway/internal/gateway/request"
	"github.com/lessonloom/gateway/internal/shared/config"
	"github.com/lessonloom/gateway/internal/shared/models"
)

type fakeLedgerStore struct {
	mu      sync.Mutex
	records []models.MetricRecord
}

func (s *fakeLedgerStore) InsertMetricRecord(_ context.Context, rec *models.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeLedgerStore) SumSpendSince(_ context.Context, tenantID string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, r := range s.records {
		if r.TenantID == tenantID && !r.CreatedAt.Before(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}

func (s *fakeLedgerStore) GetModelPricing(_ context.Context, provider, model string) (*models.ModelPricing, error) {
	return nil, fmt.Errorf("pricing not found for %s/%s", provider, model)
}

func (s *fakeLedgerStore) GetImagePricing(_ context.Context, _, _, _ string) (*models.ImagePricing, error) {
	return nil, fmt.Errorf("image pricing not found")
}

func (s *fakeLedgerStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeTextProvider replays scripted results in order.
type fakeTextProvider struct {
	script []string
	err    error
	calls  int
	// params seen, in order
	seen []providers.TextParams
}

func (p *fakeTextProvider) GenerateText(_ context.Context, params providers.TextParams) (*providers.TextResult, error) {
	p.seen = append(p.seen, params)
	i := p.calls
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	content := p.script[len(p.script)-1]
	if i < len(p.script) {
		content = p.script[i]
	}
	return &providers.TextResult{
		Content: content,
		Usage:   providers.Usage{InputUnits: 100, OutputUnits: 20},
	}, nil
}

func (p *fakeTextProvider) Name() string { return "openai" }

type fakeImageProvider struct {
	url   string
	err   error
	calls int
}

func (p *fakeImageProvider) GenerateImage(_ context.Context, _ providers.ImageParams) (*providers.ImageResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ImageResult{URL: p.url, Usage: providers.Usage{OutputUnits: 1}}, nil
}

func (p *fakeImageProvider) Name() string { return "openai" }

type fixture struct {
	broker *Broker
	store  *fakeLedgerStore
	text   *fakeTextProvider
	image  *fakeImageProvider
}

// newFixture wires a broker over in-memory fakes. Default pricing is zero
// per input token and $1 per 1k output tokens, so 20 output units cost
// $0.02 per call.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store := &fakeLedgerStore{}
	l := ledger.New(store, ledger.DefaultPricing{
		OutputPer1kUSD: 1.0,
		PerImageUSD:    0.05,
	}, nil)

	memStore, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	c := cache.New(memStore, nil)

	text := &fakeTextProvider{script: []string{"generated lesson"}}
	image := &fakeImageProvider{url: "https://img.example/out.png"}
	registry := providers.NewRegistry(&config.Config{})
	registry.RegisterText(text)
	registry.RegisterImage(image)

	if cfg.MonthlyCapUSD == 0 {
		cfg.MonthlyCapUSD = 10.0
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}

	b := New(governor.New(governor.DefaultPolicy()), c, l, registry, fallback.NewBank(), cfg, nil)
	return &fixture{broker: b, store: store, text: text, image: image}
}

func textReq(content string) request.TextRequest {
	return request.TextRequest{
		TenantID:  "t1",
		Purpose:   request.PurposeCatalog,
		Urgency:   request.UrgencyLow,
		SubjectID: "math",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}
}

func TestGenerateTextRemote(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.broker.Generate(context.Background(), textReq("fractions intro"), nil)

	assert.Equal(t, SourceRemote, resp.Source)
	assert.Equal(t, "generated lesson", resp.Content)
	assert.InDelta(t, 0.02, resp.CostUSD, 1e-9)
	assert.Equal(t, 1, f.text.calls)
	assert.Equal(t, 1, f.store.count())
	// The decided tier parameters reach the provider.
	require.Len(t, f.text.seen, 1)
	assert.Equal(t, governor.DefaultPolicy().StandardTextModel, f.text.seen[0].Model)
	assert.NotEmpty(t, f.text.seen[0].CacheKey)
}

func TestCacheHitProducesNoMetricRecord(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := textReq("fractions intro")

	first := f.broker.Generate(ctx, req, nil)
	require.Equal(t, SourceRemote, first.Source)

	second := f.broker.Generate(ctx, req, nil)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Content, second.Content)
	assert.Zero(t, second.CostUSD)

	// No second provider call and, critically, no second charge.
	assert.Equal(t, 1, f.text.calls)
	assert.Equal(t, 1, f.store.count())
}

func TestBudgetExceededRoutesFallbackBeforeCall(t *testing.T) {
	f := newFixture(t, Config{MonthlyCapUSD: 1.0})
	ctx := context.Background()

	require.NoError(t, f.store.InsertMetricRecord(ctx, &models.MetricRecord{
		TenantID:  "t1",
		CostUSD:   1.0,
		CreatedAt: time.Now().UTC(),
	}))

	resp := f.broker.Generate(ctx, textReq("fractions intro"), nil)
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, ReasonBudgetExceeded, resp.FallbackReason)
	assert.NotEmpty(t, resp.Content)
	// The paid call was never made.
	assert.Equal(t, 0, f.text.calls)
}

func TestSoftCapOvershootThenDeny(t *testing.T) {
	// Spend sits just under the cap; the next call is admitted and pushes
	// spend past it, and only the call after that is denied.
	f := newFixture(t, Config{MonthlyCapUSD: 1.0})
	ctx := context.Background()

	require.NoError(t, f.store.InsertMetricRecord(ctx, &models.MetricRecord{
		TenantID:  "t1",
		CostUSD:   0.99,
		CreatedAt: time.Now().UTC(),
	}))

	first := f.broker.Generate(ctx, textReq("lesson one"), nil)
	assert.Equal(t, SourceRemote, first.Source)

	spend, err := f.store.SumSpendSince(ctx, "t1", ledger.PeriodStart(time.Now()))
	require.NoError(t, err)
	assert.InDelta(t, 1.01, spend, 1e-9)

	second := f.broker.Generate(ctx, textReq("lesson two"), nil)
	assert.Equal(t, SourceFallback, second.Source)
	assert.Equal(t, ReasonBudgetExceeded, second.FallbackReason)
}

func TestProviderErrorRoutesFallbackNoRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.text.err = fmt.Errorf("upstream timeout")

	resp := f.broker.Generate(context.Background(), textReq("fractions intro"), nil)
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, ReasonProviderError, resp.FallbackReason)
	assert.NotEmpty(t, resp.Content)
	// Exactly one attempt; no retry at this layer.
	assert.Equal(t, 1, f.text.calls)
	// A failed call is never charged.
	assert.Equal(t, 0, f.store.count())
}

func TestSuspendedTenantRoutesFallback(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.broker.Generate(context.Background(), textReq("fractions intro"), &models.TenantSettings{
		TenantID:  "t1",
		Suspended: true,
	})
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, ReasonNotAllowed, resp.FallbackReason)
	assert.Equal(t, 0, f.text.calls)
}

func TestTenantCapOverride(t *testing.T) {
	f := newFixture(t, Config{MonthlyCapUSD: 10.0})
	ctx := context.Background()

	require.NoError(t, f.store.InsertMetricRecord(ctx, &models.MetricRecord{
		TenantID:  "t1",
		CostUSD:   0.50,
		CreatedAt: time.Now().UTC(),
	}))

	lowCap := 0.25
	resp := f.broker.Generate(ctx, textReq("fractions intro"), &models.TenantSettings{
		TenantID:      "t1",
		MonthlyCapUSD: &lowCap,
	})
	assert.Equal(t, SourceFallback, resp.Source)
	assert.Equal(t, ReasonBudgetExceeded, resp.FallbackReason)
}

func TestGenerateImage(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.broker.Generate(context.Background(), request.ImageRequest{
		TenantID:     "t1",
		Purpose:      request.PurposeCatalog,
		PromptText:   "a labeled diagram of a plant cell",
		PreferSquare: true,
	}, nil)

	assert.Equal(t, SourceRemote, resp.Source)
	assert.Equal(t, "https://img.example/out.png", resp.URL)
	assert.InDelta(t, 0.05, resp.CostUSD, 1e-9)
	assert.Equal(t, 1, f.image.calls)
	assert.Equal(t, 1, f.store.count())
}

func TestImageFallbackYieldsURL(t *testing.T) {
	f := newFixture(t, Config{})
	f.image.err = fmt.Errorf("upstream 500")

	resp := f.broker.Generate(context.Background(), request.ImageRequest{
		TenantID:   "t1",
		Purpose:    request.PurposeCatalog,
		PromptText: "a plant cell",
	}, nil)

	assert.Equal(t, SourceFallback, resp.Source)
	assert.NotEmpty(t, resp.URL)
	assert.Empty(t, resp.Content)
}

const brokerFailingReport = `{
	"grounded_in_real_life": true,
	"uses_concrete_materials": false,
	"has_clear_goal": true,
	"links_to_standard": true,
	"cognitive_level": "apply",
	"fix": "Use physical objects learners can hold."
}`

const brokerPassingReport = `{
	"grounded_in_real_life": true,
	"uses_concrete_materials": true,
	"has_clear_goal": true,
	"links_to_standard": true,
	"cognitive_level": "analyze",
	"fix": ""
}`

func TestGateRevisionFlowChargesEveryCall(t *testing.T) {
	f := newFixture(t, Config{GateEnabled: true, GateMaxAttempts: 2})
	// Call order: generation, evaluation (fail), revision, evaluation (pass).
	f.text.script = []string{"draft one", brokerFailingReport, "draft two", brokerPassingReport}

	resp := f.broker.Generate(context.Background(), textReq("fractions intro"), nil)

	assert.Equal(t, SourceRemote, resp.Source)
	assert.Equal(t, "draft two", resp.Content)
	assert.False(t, resp.QualityWarning)
	assert.Equal(t, 4, f.text.calls)
	// Every provider call, including gate traffic, hits the ledger.
	assert.Equal(t, 4, f.store.count())
	assert.InDelta(t, 0.08, resp.CostUSD, 1e-9)

	// The fix instruction is appended verbatim to the regeneration call.
	revision := f.text.seen[2]
	last := revision.Messages[len(revision.Messages)-1]
	assert.Equal(t, "Use physical objects learners can hold.", last.Content)
}

func TestGateWarningCachesFinalDraft(t *testing.T) {
	f := newFixture(t, Config{GateEnabled: true, GateMaxAttempts: 2})
	// Both evaluations fail; attempts exhaust and the revised draft ships
	// with a warning.
	f.text.script = []string{"draft one", brokerFailingReport, "draft two", brokerFailingReport}
	ctx := context.Background()

	resp := f.broker.Generate(ctx, textReq("fractions intro"), nil)
	assert.True(t, resp.QualityWarning)
	assert.Equal(t, "draft two", resp.Content)

	// The cached entry holds the final accepted draft.
	cached := f.broker.Generate(ctx, textReq("fractions intro"), nil)
	assert.Equal(t, SourceCache, cached.Source)
	assert.Equal(t, "draft two", cached.Content)
}

func TestGateSkippedForPracticeContent(t *testing.T) {
	f := newFixture(t, Config{GateEnabled: true, GateMaxAttempts: 2})

	req := textReq("quick drill")
	req.Purpose = request.PurposePractice

	resp := f.broker.Generate(context.Background(), req, nil)
	assert.Equal(t, SourceRemote, resp.Source)
	assert.Equal(t, 1, f.text.calls)
}

func TestGateFailOpenDeliversDraft(t *testing.T) {
	f := newFixture(t, Config{GateEnabled: true, GateMaxAttempts: 2})
	f.text.script = []string{"draft one", "not a rubric report at all"}

	resp := f.broker.Generate(context.Background(), textReq("fractions intro"), nil)
	assert.Equal(t, "draft one", resp.Content)
	assert.False(t, resp.QualityWarning)
	assert.Equal(t, 2, f.text.calls)
}
