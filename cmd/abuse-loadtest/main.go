package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/MrEthical07/goAbuse/internal/logger"
	"github.com/MrEthical07/goAbuse/internal/redisconn"
	"github.com/MrEthical07/goAbuse/internal/security"
	"github.com/MrEthical07/goAbuse/internal/settings"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type sample struct {
	scope   int
	latency time.Duration
	d       goAbuse.Decision
	err     error
}

func main() {
	var (
		scopes      = flag.Int("scopes", 1000, "number of distinct subjects")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		attempts    = flag.Int("attempts", 10, "attempts per subject")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, settings or embedded redis are used")
		configFile  = flag.String("config", "", "optional YAML settings file")
		policyName  = flag.String("policy", "newsletter_subscribe", "policy name from settings or presets")
		namespace   = flag.String("namespace", "loadtest", "limiter namespace")
	)
	flag.Parse()

	if *scopes <= 0 || *concurrency <= 0 || *attempts <= 0 {
		fmt.Fprintln(os.Stderr, "scopes, concurrency, and attempts must be > 0")
		os.Exit(2)
	}

	s, err := settings.Load(settings.Options{DotEnv: ".env", File: *configFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(s.App.Env, s.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	policy, err := s.Policy(*policyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy: %v\n", err)
		os.Exit(2)
	}

	report := security.BuildPolicyReport(*policyName, policy)
	fmt.Printf("policy %s: short %d per %s (block %s), long %d per %s (block %s), crossing %s, max %d/day\n",
		report.Name,
		report.Short.AllowedPerWindow, report.Short.Window, report.Short.Block,
		report.Long.AllowedPerWindow, report.Long.Window, report.Long.Block,
		report.Crossing, report.MaxAllowedPerDay,
	)
	for _, w := range report.Warnings {
		log.Warn("policy warning", zap.String("policy", report.Name), zap.String("warning", w))
	}

	ctx := context.Background()
	client, cleanup, err := connect(ctx, s, *redisAddr, *configFile, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := s.LimiterConfig()
	cfg.Metrics.Enabled = true
	limiter, err := goAbuse.New().WithConfig(cfg).WithRedis(client).WithLogger(log).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build limiter: %v\n", err)
		os.Exit(1)
	}
	defer limiter.Close()

	runID := time.Now().UnixNano()
	subjects := make([]goAbuse.Scope, *scopes)
	for i := range subjects {
		subjects[i] = goAbuse.NewScope(*namespace, fmt.Sprintf("run%d-subject%d", runID, i))
	}

	ops := *scopes * *attempts
	fmt.Printf("firing %d attempts over %d subjects with %d workers (policy %s)\n",
		ops, *scopes, *concurrency, *policyName)

	total, samples := run(ctx, limiter, subjects, *attempts, *concurrency, policy)
	stats := computeStats(total, samples)
	violations := verify(samples, *scopes, *attempts, policy)

	fmt.Println("---- results ----")
	printStats("check", stats)
	snap := limiter.MetricsSnapshot()
	fmt.Printf("allowed=%d blocked_short=%d blocked_long=%d unavailable=%d timeout=%d protocol=%d\n",
		snap.Counters[goAbuse.MetricCheckAllowed],
		snap.Counters[goAbuse.MetricCheckBlockedShort],
		snap.Counters[goAbuse.MetricCheckBlockedLong],
		snap.Counters[goAbuse.MetricStoreUnavailable],
		snap.Counters[goAbuse.MetricStoreTimeout],
		snap.Counters[goAbuse.MetricProtocolError],
	)

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "violation:", v)
		}
		os.Exit(1)
	}
	fmt.Println("counting and blocking invariants held")
}

func connect(ctx context.Context, s *settings.Settings, addr, configFile string, log *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		s.Redis.Addrs = []string{addr}
	} else if configFile == "" && os.Getenv(settings.EnvPrefix+"_REDIS_ADDRS") == "" {
		e, err := redisconn.StartEmbedded(log)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("using embedded redis at %s\n", e.Server.Addr())
		return e.Client, func() { _ = e.Close() }, nil
	}

	client, err := redisconn.Open(ctx, s.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("using redis at %v\n", s.Redis.Addrs)
	return client, func() { _ = client.Close() }, nil
}

func run(ctx context.Context, l *goAbuse.Limiter, subjects []goAbuse.Scope, attempts, concurrency int, policy goAbuse.Policy) (time.Duration, []sample) {
	ops := len(subjects) * attempts
	var (
		wg      sync.WaitGroup
		cursor  int64
		samples = make([]sample, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := i % len(subjects)
				t0 := time.Now()
				d, err := l.Check(ctx, subjects[idx], policy)
				samples[i] = sample{scope: idx, latency: time.Since(t0), d: d, err: err}
			}
		}()
	}
	wg.Wait()
	return time.Since(start), samples
}

// verify checks that every subject saw each count exactly once and that
// exactly the attempts below the lowest crossing count were allowed.
func verify(samples []sample, scopes, attempts int, policy goAbuse.Policy) []string {
	crossAt := crossingCount(policy)
	wantAllowed := attempts
	if crossAt-1 < wantAllowed {
		wantAllowed = crossAt - 1
	}

	seen := make([]map[int64]struct{}, scopes)
	allowed := make([]int, scopes)
	var violations []string
	for _, s := range samples {
		if s.err != nil {
			violations = append(violations, fmt.Sprintf("subject %d: %v", s.scope, s.err))
			continue
		}
		if seen[s.scope] == nil {
			seen[s.scope] = make(map[int64]struct{}, attempts)
		}
		if _, dup := seen[s.scope][s.d.ShortCount]; dup {
			violations = append(violations, fmt.Sprintf("subject %d: count %d observed twice", s.scope, s.d.ShortCount))
		}
		seen[s.scope][s.d.ShortCount] = struct{}{}
		if s.d.Allowed {
			allowed[s.scope]++
		}
	}
	for i, n := range allowed {
		if n != wantAllowed {
			violations = append(violations, fmt.Sprintf("subject %d: %d attempts allowed, want %d", i, n, wantAllowed))
		}
	}
	if len(violations) > 20 {
		violations = append(violations[:20], fmt.Sprintf("... and %d more", len(violations)-20))
	}
	return violations
}

// crossingCount is the first count that blocks, across both tiers.
func crossingCount(p goAbuse.Policy) int {
	short, long := p.Short.Threshold, p.Long.Threshold
	if p.Crossing == goAbuse.CrossAboveThreshold {
		short++
		long++
	}
	if long < short {
		return long
	}
	return short
}

type phaseStats struct {
	total   time.Duration
	ops     int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []sample) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	latencies := make([]time.Duration, len(samples))
	for i, s := range samples {
		latencies[i] = s.latency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return phaseStats{
		total:   total,
		ops:     len(latencies),
		p50:     percentile(latencies, 50),
		p95:     percentile(latencies, 95),
		p99:     percentile(latencies, 99),
		opsPerS: float64(len(latencies)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
