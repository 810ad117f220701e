package analyzer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/prlens/prlens/internal/cache"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/types"
)

// Client fronts a Transport with caching, rate limiting, bounded
// concurrency, retries, and the circuit breaker. One Client is shared by
// every branch of a run.
type Client struct {
	transport Transport
	cache     cache.Cache
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	breaker   *CircuitBreaker
	policy    RetryPolicy

	requestTimeout   time.Duration
	ttlComprehensive time.Duration
	ttlGapFill       time.Duration

	model       string
	maxTokens   int64
	temperature float64

	mu       sync.Mutex
	usedKeys []cache.Key
}

// NewClient wires a Client from configuration. responseCache may be nil to
// disable caching.
func NewClient(transport Transport, responseCache cache.Cache, cfg *config.Config) *Client {
	burst := 2 * int(cfg.AnalyzerRequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	temperature := 0.2
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return &Client{
		transport: transport,
		cache:     responseCache,
		limiter:   rate.NewLimiter(rate.Limit(cfg.AnalyzerRequestsPerSecond), burst),
		sem:       semaphore.NewWeighted(int64(cfg.AnalyzerConcurrency)),
		breaker: NewCircuitBreaker(cfg.BreakerFailureThreshold,
			cfg.BreakerSuccessThreshold, cfg.BreakerOpenTimeout),
		policy: RetryPolicy{
			MaxAttempts:    cfg.MaxRetries,
			InitialBackoff: cfg.BackoffInitial,
			MaxBackoff:     cfg.BackoffMax,
			Jitter:         cfg.BackoffJitter,
		},
		requestTimeout:   cfg.AnalyzerRequestTimeout,
		ttlComprehensive: cfg.CacheTTLComprehensive,
		ttlGapFill:       cfg.CacheTTLGapFill,
		model:            cfg.Model,
		maxTokens:        cfg.MaxTokens,
		temperature:      temperature,
	}
}

// Call performs one analysis request. Identical requests within a TTL are
// served from cache with the byte-identical payload; failed requests
// invalidate any stale entry so the next caller goes to the backend.
func (c *Client) Call(ctx context.Context, repoURL, branch string, class PromptClass, prompt string) (any, error) {
	key := cache.NewKey(repoURL, branch, string(class), prompt)
	ttl := c.ttlFor(class)

	if c.cache != nil {
		if payload, ok := c.cacheGet(key, ttl); ok {
			c.recordKey(key)
			return payload, nil
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewEngineError(types.FailureCancelled, "analyzer call", err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.NewEngineError(types.FailureCancelled, "analyzer call", err)
	}

	req := &Request{
		RepoURL:     repoURL,
		Branch:      branch,
		Class:       class,
		Prompt:      prompt,
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var payload any
	err := retryWithBackoff(ctx, c.policy, c.breaker, c.requestTimeout, string(class),
		func(attemptCtx context.Context) error {
			result, sendErr := c.transport.Send(attemptCtx, req)
			if sendErr != nil {
				return sendErr
			}
			payload = result
			return nil
		})
	if err != nil {
		if c.cache != nil {
			c.cache.Invalidate(key)
		}
		return nil, c.asEngineError(err)
	}

	if c.cache != nil {
		c.cache.Set(key, payload, ttl)
	}
	c.recordKey(key)
	return payload, nil
}

// MarkDelivered tells the cache every entry used since the last call
// reached the caller, and clears the bookkeeping.
func (c *Client) MarkDelivered() {
	c.mu.Lock()
	keys := c.usedKeys
	c.usedKeys = nil
	c.mu.Unlock()
	if c.cache != nil && len(keys) > 0 {
		c.cache.MarkDelivered(keys)
	}
}

// BreakerState exposes the breaker for status reporting.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

func (c *Client) ttlFor(class PromptClass) time.Duration {
	if class == ClassComprehensive {
		return c.ttlComprehensive
	}
	return c.ttlGapFill
}

func (c *Client) cacheGet(key cache.Key, ttl time.Duration) (any, bool) {
	if tiered, ok := c.cache.(*cache.Tiered); ok {
		return tiered.GetPromote(key, ttl)
	}
	return c.cache.Get(key)
}

func (c *Client) recordKey(key cache.Key) {
	c.mu.Lock()
	c.usedKeys = append(c.usedKeys, key)
	c.mu.Unlock()
}

func (c *Client) asEngineError(err error) error {
	te := classifyError(err)
	if te.Kind == ErrCancelled {
		return types.NewEngineError(types.FailureCancelled, "analyzer call", te)
	}
	return types.NewEngineError(types.FailureFetch, "analyzer call", te)
}
