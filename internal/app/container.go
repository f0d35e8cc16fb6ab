package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/usage_dashboard/internal/auth"
	"github.com/ncecere/usage_dashboard/internal/cache"
	"github.com/ncecere/usage_dashboard/internal/config"
	"github.com/ncecere/usage_dashboard/internal/limits"
	"github.com/ncecere/usage_dashboard/internal/observability"
	auditservice "github.com/ncecere/usage_dashboard/internal/services/audit"
	usageservice "github.com/ncecere/usage_dashboard/internal/services/usage"
	"github.com/ncecere/usage_dashboard/internal/store"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *store.Postgres
	UsageService  *usageservice.Service
	AuditService  *auditservice.Service
	TokenManager  *auth.TokenManager
	RateLimiter   *limits.RateLimiter
	RateLimit     limits.LimitConfig
	SummaryCache  *cache.SummaryCache
	Observability *observability.Provider
}

// NewContainer builds a dependency container from the provided primitives.
// Redis may be nil; rate limiting and summary caching are then disabled.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}

	recordStore := store.NewPostgres(pool, cfg.Query.FetchTimeout)
	usageSvc := usageservice.NewService(recordStore)
	auditSvc := auditservice.NewService(pool, cfg.Query.AuditTimeout)

	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return &Container{
		Config:       cfg,
		DBPool:       pool,
		Redis:        redisClient,
		Store:        recordStore,
		UsageService: usageSvc,
		AuditService: auditSvc,
		TokenManager: tokenManager,
		RateLimiter:  limits.NewRateLimiter(redisClient),
		RateLimit: limits.LimitConfig{
			RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
			AllUsersCost:      cfg.RateLimits.AllUsersCost,
		},
		SummaryCache:  cache.NewSummaryCache(redisClient, cfg.Query.CacheTTL),
		Observability: obs,
	}, nil
}
