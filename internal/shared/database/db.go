package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/lessonloom/gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertMetricRecord appends one row to the spend log. Rows are write-once.
func (db *DB) InsertMetricRecord(ctx context.Context, rec *models.MetricRecord) error {
	query := `
		INSERT INTO metric_records (
			id, tenant_id, provider, model, input_units, output_units,
			cost_usd, cache_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		rec.ID,
		rec.TenantID,
		rec.Provider,
		rec.Model,
		rec.InputUnits,
		rec.OutputUnits,
		rec.CostUSD,
		rec.CacheKey,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert metric record: %w", err)
	}
	return nil
}

// SumSpendSince returns the total recorded spend for a tenant since the
// given instant.
func (db *DB) SumSpendSince(ctx context.Context, tenantID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM metric_records
		WHERE tenant_id = $1 AND created_at >= $2
	`

	var total float64
	if err := db.conn.QueryRowContext(ctx, query, tenantID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

// GetModelPricing retrieves per-token pricing for a text model
func (db *DB) GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error) {
	query := `
		SELECT id, provider, model, input_per_1k_tokens, output_per_1k_tokens,
		       created_at, updated_at
		FROM model_pricing
		WHERE provider = $1 AND model = $2
	`

	var pricing models.ModelPricing
	err := db.conn.QueryRowContext(ctx, query, provider, model).Scan(
		&pricing.ID,
		&pricing.Provider,
		&pricing.Model,
		&pricing.InputPer1kTokens,
		&pricing.OutputPer1kTokens,
		&pricing.CreatedAt,
		&pricing.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pricing not found for %s/%s", provider, model)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &pricing, nil
}

// GetImagePricing retrieves the flat per-image price for a model at a size
func (db *DB) GetImagePricing(ctx context.Context, provider, model, size string) (*models.ImagePricing, error) {
	query := `
		SELECT id, provider, model, size, per_image_usd, created_at, updated_at
		FROM image_pricing
		WHERE provider = $1 AND model = $2 AND size = $3
	`

	var pricing models.ImagePricing
	err := db.conn.QueryRowContext(ctx, query, provider, model, size).Scan(
		&pricing.ID,
		&pricing.Provider,
		&pricing.Model,
		&pricing.Size,
		&pricing.PerImageUSD,
		&pricing.CreatedAt,
		&pricing.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("image pricing not found for %s/%s at %s", provider, model, size)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &pricing, nil
}

// GetTenantSettings retrieves per-tenant settings. Returns nil (no error)
// when the tenant has no stored settings row.
func (db *DB) GetTenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	query := `
		SELECT tenant_id, monthly_cap_usd, rate_limit_per_minute, suspended,
		       created_at, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1
	`

	var settings models.TenantSettings
	err := db.conn.QueryRowContext(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.MonthlyCapUSD,
		&settings.RateLimitPerMinute,
		&settings.Suspended,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &settings, nil
}
