package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/utakatik/utakatik/engine/infra/server/router"
	"github.com/utakatik/utakatik/pkg/logger"
)

// Manager owns the limiter and its store.
type Manager struct {
	limiter *limiter.Limiter
}

// NewManager uses Redis when a client is given so limits are shared across
// replicas, and an in-process store otherwise.
func NewManager(cfg *Config, client *redis.Client) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := limiter.StoreOptions{Prefix: cfg.Prefix, MaxRetry: cfg.MaxRetry, CleanUpInterval: time.Minute}
	var store limiter.Store
	if client != nil {
		s, err := sredis.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("creating redis rate limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStoreWithOptions(opts)
	}
	return &Manager{limiter: limiter.New(store, cfg.ToLimiterRate())}, nil
}

// Middleware limits by client IP and answers 429 problems once exhausted.
func (m *Manager) Middleware() gin.HandlerFunc {
	return mgin.NewMiddleware(m.limiter,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			IncrementBlockedRequests(c.Request.Context(), c.FullPath())
			router.RespondProblemWithCode(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// store errors fail open
			logger.FromContext(c.Request.Context()).Error("Rate limiter unavailable", "error", err)
			c.Next()
		}),
	)
}
