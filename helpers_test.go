package goAbuse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Unix(1_700_000_000, 0)

func newTestRedis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	tb.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr:          mr.Addr(),
		PoolSize:      64,
		MaxRetries:    -1,
		DialerRetries: 1,
	})
	tb.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// harness drives the store clock: miniredis answers TIME from SetTime and
// only expires keys on FastForward, so advance moves both together.
type harness struct {
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	limiter *Limiter
	now     time.Time
}

func newHarness(tb testing.TB, opts ...func(*Builder)) *harness {
	tb.Helper()

	mr, rdb := newTestRedis(tb)
	mr.SetTime(testEpoch)

	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	b := New().WithConfig(cfg).WithRedis(rdb).WithMetricsEnabled(true)
	for _, opt := range opts {
		opt(b)
	}

	l, err := b.Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}
	tb.Cleanup(l.Close)

	return &harness{mr: mr, rdb: rdb, limiter: l, now: testEpoch}
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.mr.SetTime(h.now)
	h.mr.FastForward(d)
}

func (h *harness) check(t *testing.T, scope Scope, policy Policy) Decision {
	t.Helper()
	d, err := h.limiter.Check(context.Background(), scope, policy)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	return d
}

// loginPolicy: 5 per 5 minutes blocks 5 minutes, 100 per hour blocks an hour.
func loginPolicy() Policy {
	return NewPolicy(
		TierPolicy{Window: 5 * time.Minute, Threshold: 5, Block: 5 * time.Minute},
		TierPolicy{Window: time.Hour, Threshold: 100, Block: time.Hour},
	)
}

// stubStore is a Store with scripted replies and failures.
type stubStore struct {
	mu      sync.Mutex
	reply   any
	err     error
	nowErr  error
	calls   int
	nowCall int
}

func (s *stubStore) ExecuteScript(ctx context.Context, _ *redis.Script, _ []string, _ ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubStore) Now(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowCall++
	if s.nowErr != nil {
		return time.Time{}, s.nowErr
	}
	return testEpoch, nil
}

func (s *stubStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// blockingStore waits for the context to end, like a store that hangs.
type blockingStore struct{}

func (blockingStore) ExecuteScript(ctx context.Context, _ *redis.Script, _ []string, _ ...any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Now(ctx context.Context) (time.Time, error) {
	<-ctx.Done()
	return time.Time{}, ctx.Err()
}

var errConnRefused = errors.New("dial tcp 10.0.0.9:6379: connect: connection refused")

func newStubLimiter(t *testing.T, st Store, opts ...func(*Builder)) *Limiter {
	t.Helper()
	b := New().WithStore(st).WithMetricsEnabled(true)
	for _, opt := range opts {
		opt(b)
	}
	l, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}
