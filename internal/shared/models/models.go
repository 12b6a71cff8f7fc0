package models

import "time"

// MetricRecord is one append-only row in the spend log. It is the sole
// source of truth for a tenant's spend; rows are never updated or deleted.
type MetricRecord struct {
	ID          string
	TenantID    string
	Provider    string
	Model       string
	InputUnits  int
	OutputUnits int
	CostUSD     float64
	CacheKey    string
	CreatedAt   time.Time
}

// TenantSettings holds per-tenant overrides resolved by the tenant middleware.
// MonthlyCapUSD is nil when the tenant uses the global default cap.
type TenantSettings struct {
	TenantID           string
	MonthlyCapUSD      *float64
	RateLimitPerMinute int
	Suspended          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ModelPricing represents per-token pricing for a text model
type ModelPricing struct {
	ID                string
	Provider          string
	Model             string
	InputPer1kTokens  float64
	OutputPer1kTokens float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ImagePricing represents flat per-image pricing for an image model at a size
type ImagePricing struct {
	ID          string
	Provider    string
	Model       string
	Size        string
	PerImageUSD float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
