package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prlens/prlens/internal/cache"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/types"
)

// fakeTransport replays a scripted sequence of results.
type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	results []func() (any, error)
}

func (f *fakeTransport) Send(ctx context.Context, req *Request) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.AnalyzerRequestTimeout = time.Second
	cfg.AnalyzerRequestsPerSecond = 1000
	return cfg
}

func ok(payload any) func() (any, error) {
	return func() (any, error) { return payload, nil }
}

func fail(err error) func() (any, error) {
	return func() (any, error) { return nil, err }
}

func TestClientRetriesTransientFailures(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){
		fail(&TransportError{Kind: ErrServer, StatusCode: 503, Err: errors.New("overloaded")}),
		fail(&TransportError{Kind: ErrTimeout, Err: context.DeadlineExceeded}),
		ok("all good"),
	}}
	client := NewClient(transport, nil, fastConfig())

	payload, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "all good", payload)
	assert.Equal(t, 3, transport.callCount())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){
		fail(&TransportError{Kind: ErrClient, StatusCode: 401, Err: errors.New("bad key")}),
	}}
	client := NewClient(transport, nil, fastConfig())

	_, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.Error(t, err)
	assert.Equal(t, types.FailureFetch, types.CategoryOf(err))
	assert.Equal(t, 1, transport.callCount())
}

func TestClientRetriesRateLimit(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){
		fail(&TransportError{Kind: ErrServer, StatusCode: 429, Err: errors.New("rate limit")}),
		ok("recovered"),
	}}
	client := NewClient(transport, nil, fastConfig())

	payload, err := client.Call(context.Background(), "repo", "main", ClassGapFill(2), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", payload)
	assert.Equal(t, 2, transport.callCount())
}

func TestClientExhaustsRetries(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){
		fail(&TransportError{Kind: ErrUnreachable, Err: errors.New("connection refused")}),
	}}
	cfg := fastConfig()
	client := NewClient(transport, nil, cfg)

	_, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.Error(t, err)
	assert.Equal(t, types.FailureFetch, types.CategoryOf(err))
	assert.Equal(t, cfg.MaxRetries, transport.callCount())
}

func TestClientCancellationSurfacesAsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transport := &fakeTransport{results: []func() (any, error){ok("unused")}}
	client := NewClient(transport, nil, fastConfig())

	_, err := client.Call(ctx, "repo", "main", ClassComprehensive, "prompt")
	require.Error(t, err)
	assert.Equal(t, types.FailureCancelled, types.CategoryOf(err))
}

func TestClientServesIdenticalRequestsFromCache(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){ok("payload-1")}}
	client := NewClient(transport, cache.NewLRU(10), fastConfig())

	first, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.NoError(t, err)
	second, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, transport.callCount(), "second call must not hit the transport")

	// Different prompt class misses the cache.
	_, err = client.Call(context.Background(), "repo", "main", ClassGapFill(2), "prompt")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.callCount())
}

func TestClientInvalidatesCacheOnFailure(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){
		fail(&TransportError{Kind: ErrClient, StatusCode: 400, Err: errors.New("bad request")}),
		ok("fresh"),
	}}
	lru := cache.NewLRU(10)
	key := cache.NewKey("repo", "main", string(ClassComprehensive), "prompt")
	lru.Set(key, "stale", time.Nanosecond)
	time.Sleep(time.Millisecond)

	client := NewClient(transport, lru, fastConfig())
	_, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.Error(t, err)
	_, ok := lru.Get(key)
	assert.False(t, ok)
}

func TestClientMarkDelivered(t *testing.T) {
	transport := &fakeTransport{results: []func() (any, error){ok("payload")}}
	lru := cache.NewLRU(1)
	client := NewClient(transport, lru, fastConfig())

	_, err := client.Call(context.Background(), "repo", "main", ClassComprehensive, "prompt")
	require.NoError(t, err)
	client.MarkDelivered()

	// A delivered entry is the preferred eviction victim.
	lru.Set(cache.NewKey("r2", "b", "comprehensive", "p"), "other", time.Minute)
	key := cache.NewKey("repo", "main", string(ClassComprehensive), "prompt")
	_, ok := lru.Get(key)
	assert.False(t, ok)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 10*time.Millisecond)
	require.NoError(t, cb.Allow())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 10*time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialBackoff: 500 * time.Millisecond,
		MaxBackoff: 15 * time.Second, Jitter: 0.2}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.delay(attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(15*time.Second)*1.2))
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
	// Without jitter the schedule is exactly exponential until the cap.
	p.Jitter = 0
	assert.Equal(t, 500*time.Millisecond, p.delay(1))
	assert.Equal(t, time.Second, p.delay(2))
	assert.Equal(t, 15*time.Second, p.delay(10))
}

func TestClassifyErrorHeuristics(t *testing.T) {
	cases := []struct {
		err       error
		kind      ErrorKind
		retriable bool
	}{
		{context.DeadlineExceeded, ErrTimeout, true},
		{context.Canceled, ErrCancelled, false},
		{errors.New("status 429 rate limit exceeded"), ErrServer, true},
		{errors.New("status 503 service unavailable"), ErrServer, true},
		{errors.New("dial tcp: connection refused"), ErrUnreachable, true},
		{errors.New("status 401 unauthorized"), ErrClient, false},
	}
	for _, tc := range cases {
		te := classifyError(tc.err)
		assert.Equal(t, tc.kind, te.Kind, "err=%v", tc.err)
		assert.Equal(t, tc.retriable, te.Retriable(), "err=%v", tc.err)
	}
}
