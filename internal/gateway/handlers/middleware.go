package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lessonloom/gateway/internal/shared/database"
	"github.com/lessonloom/gateway/internal/shared/models"
	"github.com/lessonloom/gateway/internal/shared/redis"
)

type ctxKey int

const tenantKey ctxKey = iota

// TenantFromContext returns the tenant settings placed by TenantMiddleware.
func TenantFromContext(ctx context.Context) *models.TenantSettings {
	settings, _ := ctx.Value(tenantKey).(*models.TenantSettings)
	return settings
}

// ContextWithTenant attaches tenant settings the way TenantMiddleware does.
func ContextWithTenant(ctx context.Context, settings *models.TenantSettings) context.Context {
	return context.WithValue(ctx, tenantKey, settings)
}

type Middleware struct {
	db               *database.DB
	redis            *redis.Client
	defaultRateLimit int
	logger           *slog.Logger
}

// NewMiddleware creates the middleware stack. redis may be nil, in which
// case rate limiting is skipped.
func NewMiddleware(db *database.DB, redisClient *redis.Client, defaultRateLimit int, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		db:               db,
		redis:            redisClient,
		defaultRateLimit: defaultRateLimit,
		logger:           logger,
	}
}

// TenantMiddleware resolves the tenant from the X-Tenant-ID header and
// loads its stored settings. Authentication happens upstream; this header
// is trusted. Tenants without a settings row get defaults.
func (m *Middleware) TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			http.Error(w, "missing X-Tenant-ID header", http.StatusUnauthorized)
			return
		}

		settings, err := m.db.GetTenantSettings(r.Context(), tenantID)
		if err != nil {
			m.logger.Error("tenant settings lookup failed", "tenant_id", tenantID, "error", err)
			http.Error(w, "tenant lookup failed", http.StatusInternalServerError)
			return
		}
		if settings == nil {
			settings = &models.TenantSettings{
				TenantID:           tenantID,
				RateLimitPerMinute: m.defaultRateLimit,
			}
		}

		ctx := context.WithValue(r.Context(), tenantKey, settings)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces a per-tenant fixed-window rate limit.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		settings := TenantFromContext(r.Context())
		if settings == nil || m.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := settings.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultRateLimit
		}

		exceeded, remaining, err := m.redis.CheckRateLimit(r.Context(), settings.TenantID, limit)
		if err != nil {
			// Rate limiting is advisory; a broken limiter must not block
			// content delivery.
			m.logger.Warn("rate limit check failed", "tenant_id", settings.TenantID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
