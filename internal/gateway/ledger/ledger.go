// Package ledger owns the append-only spend log and budget admission.
// The cap is soft: admission reads past recorded spend only, with no
// reservation, so concurrent requests from one tenant can jointly overshoot
// by up to one in-flight call's cost each.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lessonloom/gateway/internal/shared/models"
)

// Store is the durable backing for metric records and pricing rows.
// Implemented by the shared Postgres database.
type Store interface {
	InsertMetricRecord(ctx context.Context, rec *models.MetricRecord) error
	SumSpendSince(ctx context.Context, tenantID string, since time.Time) (float64, error)
	GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error)
	GetImagePricing(ctx context.Context, provider, model, size string) (*models.ImagePricing, error)
}

// DefaultPricing is applied when a model has no pricing row, so a missing
// seed row under-bills nothing.
type DefaultPricing struct {
	InputPer1kUSD  float64
	OutputPer1kUSD float64
	PerImageUSD    float64
}

// Admission is the result of a budget check.
type Admission struct {
	Allowed  bool
	SpendUSD float64
	CapUSD   float64
}

type Ledger struct {
	store    Store
	defaults DefaultPricing
	logger   *slog.Logger
}

// New creates a ledger over the given store.
func New(store Store, defaults DefaultPricing, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, defaults: defaults, logger: logger}
}

// PeriodStart returns the start of the current billing period: the first
// instant of now's calendar month, UTC.
func PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CurrentSpend sums recorded spend for a tenant since periodStart.
func (l *Ledger) CurrentSpend(ctx context.Context, tenantID string, periodStart time.Time) (float64, error) {
	spend, err := l.store.SumSpendSince(ctx, tenantID, periodStart)
	if err != nil {
		return 0, fmt.Errorf("current spend for %s: %w", tenantID, err)
	}
	return spend, nil
}

// Enforce checks admission against the cap using spend recorded so far this
// period. Called immediately before a paid remote call, never earlier and
// never retroactively.
func (l *Ledger) Enforce(ctx context.Context, tenantID string, cap float64) (Admission, error) {
	spend, err := l.CurrentSpend(ctx, tenantID, PeriodStart(time.Now()))
	if err != nil {
		return Admission{}, err
	}

	adm := Admission{
		Allowed:  spend < cap,
		SpendUSD: spend,
		CapUSD:   cap,
	}
	if !adm.Allowed {
		l.logger.Info("budget admission denied",
			"tenant_id", tenantID,
			"spend_usd", spend,
			"cap_usd", cap)
	}
	return adm, nil
}

// Record appends one metric record. Missing ID and timestamp are filled in.
func (l *Ledger) Record(ctx context.Context, rec *models.MetricRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := l.store.InsertMetricRecord(ctx, rec); err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// PriceText computes the cost of a text call from returned usage counts.
// Falls back to configured default prices when the pricing row is missing.
func (l *Ledger) PriceText(ctx context.Context, provider, model string, inputTokens, outputTokens int) float64 {
	inPer1k := l.defaults.InputPer1kUSD
	outPer1k := l.defaults.OutputPer1kUSD

	pricing, err := l.store.GetModelPricing(ctx, provider, model)
	if err != nil {
		l.logger.Warn("model pricing lookup failed, using defaults",
			"provider", provider, "model", model, "error", err)
	} else {
		inPer1k = pricing.InputPer1kTokens
		outPer1k = pricing.OutputPer1kTokens
	}

	return float64(inputTokens)/1000.0*inPer1k + float64(outputTokens)/1000.0*outPer1k
}

// PriceImage returns the flat per-image price for a model at a size.
func (l *Ledger) PriceImage(ctx context.Context, provider, model, size string) float64 {
	pricing, err := l.store.GetImagePricing(ctx, provider, model, size)
	if err != nil {
		l.logger.Warn("image pricing lookup failed, using default",
			"provider", provider, "model", model, "size", size, "error", err)
		return l.defaults.PerImageUSD
	}
	return pricing.PerImageUSD
}
