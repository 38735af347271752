package goAbuse

import (
	"context"
	"time"

	"github.com/MrEthical07/goAbuse/internal/audit"
	"github.com/MrEthical07/goAbuse/internal/clock"
	"github.com/MrEthical07/goAbuse/internal/keyspace"
	"github.com/MrEthical07/goAbuse/internal/logger"
	"github.com/MrEthical07/goAbuse/internal/script"
	"github.com/MrEthical07/goAbuse/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store is the shared state the limiter runs against. ExecuteScript must
// run sc atomically against keys; Now must return the store's clock.
//
// The Redis implementation is installed by Builder.WithRedis. Other
// implementations are mostly useful for failure injection in tests.
type Store interface {
	ExecuteScript(ctx context.Context, sc *redis.Script, keys []string, args ...any) (any, error)
	Now(ctx context.Context) (time.Time, error)
}

// Limiter records attempts and decides whether they are allowed. It holds
// no per-scope state in process; every decision is made by one atomic
// script execution in the store. Safe for concurrent use.
type Limiter struct {
	config  Config
	store   Store
	clock   *clock.Source
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics
	audit   *audit.Dispatcher
}

// Check records one attempt for scope and returns the decision under
// policy. Blocked attempts are recorded too.
//
// A failure to reach the store, a timeout, a malformed reply or an invalid
// policy yields a *LimiterError and a zero Decision. The caller decides
// what a failure means; see Gate and GateWithMode.
//
//	Performance: 1 store round trip (EVALSHA, EVAL on a cold script cache).
func (l *Limiter) Check(ctx context.Context, scope Scope, policy Policy) (Decision, error) {
	const op = "check"
	if l == nil || l.store == nil {
		return Decision{}, configError(op, scope.Namespace, ErrLimiterNotReady, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	keys, err := l.prepare(op, scope, policy)
	if err != nil {
		return Decision{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()
	callCtx, span := l.tracer.Start(callCtx, "goAbuse.Check",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("abuse.namespace", scope.Namespace),
			attribute.String("abuse.crossing", policy.Crossing.String()),
		),
	)
	defer span.End()

	start := time.Now()
	reply, err := l.store.ExecuteScript(callCtx, script.Decision, keys.Slice(), policy.scriptArgs().Values()...)
	l.metrics.Observe(MetricCheckLatency, time.Since(start))
	if err != nil {
		lerr := l.storeFailure(ctx, op, scope, err)
		span.RecordError(lerr)
		span.SetStatus(codes.Error, lerr.Kind.String())
		return Decision{}, lerr
	}

	res, err := script.Parse(reply)
	if err != nil {
		l.metrics.Inc(MetricProtocolError)
		l.logger.Error("malformed decision reply",
			zap.String("namespace", scope.Namespace),
			zap.String("subject", logger.MaskSubject(scope.Subject)),
			zap.String("script_sha", script.Decision.Hash()),
			zap.Any("reply", reply),
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		lerr := newLimiterError(KindProtocol, op, scope.Namespace, err)
		span.RecordError(lerr)
		span.SetStatus(codes.Error, lerr.Kind.String())
		return Decision{}, lerr
	}

	d := decisionFromResult(res)
	span.SetAttributes(
		attribute.Bool("abuse.allowed", d.Allowed),
		attribute.String("abuse.tier", d.Tier.String()),
		attribute.Int64("abuse.short_count", d.ShortCount),
		attribute.Int64("abuse.long_count", d.LongCount),
	)

	if d.Allowed {
		l.metrics.Inc(MetricCheckAllowed)
		return d, nil
	}

	if d.Tier == TierShort {
		l.metrics.Inc(MetricCheckBlockedShort)
	} else {
		l.metrics.Inc(MetricCheckBlockedLong)
	}
	if res.NoExpiry {
		l.logger.Warn("block flag has no expiry",
			zap.String("namespace", scope.Namespace),
			zap.String("subject", logger.MaskSubject(scope.Subject)),
			zap.String("block_key", keys.Block),
			zap.String("request_id", RequestIDFromContext(ctx)),
		)
	}
	l.logger.Info("attempt blocked",
		zap.String("namespace", scope.Namespace),
		zap.String("subject", logger.MaskSubject(scope.Subject)),
		zap.String("tier", d.Tier.String()),
		zap.Duration("retry_after", d.RetryAfter),
		zap.Int64("short_count", d.ShortCount),
		zap.Int64("long_count", d.LongCount),
		zap.String("request_id", RequestIDFromContext(ctx)),
	)
	l.emitBlocked(ctx, scope, d)

	return d, nil
}

// Now returns the store clock, clamped so that it never goes backwards
// within this process.
func (l *Limiter) Now(ctx context.Context) (time.Time, error) {
	const op = "now"
	if l == nil || l.store == nil {
		return time.Time{}, configError(op, "", ErrLimiterNotReady, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	callCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	t, err := l.clock.Now(callCtx)
	if err != nil {
		return time.Time{}, l.storeFailure(ctx, op, Scope{}, err)
	}
	return t, nil
}

// Inspect returns the current state of scope without recording an
// attempt. Never base an allow/deny choice on it.
func (l *Limiter) Inspect(ctx context.Context, scope Scope, policy Policy) (Inspection, error) {
	const op = "inspect"
	if l == nil || l.store == nil {
		return Inspection{}, configError(op, scope.Namespace, ErrLimiterNotReady, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	keys, err := l.prepare(op, scope, policy)
	if err != nil {
		return Inspection{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	reply, err := l.store.ExecuteScript(callCtx, script.Inspect, keys.Slice(),
		seconds(policy.Short.Window), seconds(policy.Long.Window))
	if err != nil {
		return Inspection{}, l.storeFailure(ctx, op, scope, err)
	}

	snap, err := script.ParseSnapshot(reply)
	if err != nil {
		l.metrics.Inc(MetricProtocolError)
		l.logger.Error("malformed inspect reply",
			zap.String("namespace", scope.Namespace),
			zap.Any("reply", reply),
			zap.Error(err),
		)
		return Inspection{}, newLimiterError(KindProtocol, op, scope.Namespace, err)
	}

	tier := tierFromString(snap.Tier)
	return Inspection{
		Scope:      scope,
		At:         l.clock.Observe(snap.Now),
		ShortCount: snap.ShortCount,
		LongCount:  snap.LongCount,
		Sequence:   snap.Sequence,
		Blocked:    tier != TierNone,
		Tier:       tier,
		RetryAfter: snap.BlockTTL,
	}, nil
}

// MetricsSnapshot returns a copy of the limiter's counters.
func (l *Limiter) MetricsSnapshot() MetricsSnapshot {
	if l == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return l.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (l *Limiter) AuditDropped() uint64 {
	if l == nil {
		return 0
	}
	return l.audit.Dropped()
}

// Close flushes pending audit events. The store client is owned by the
// caller and is not closed.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.audit.Close()
}

func (l *Limiter) prepare(op string, scope Scope, policy Policy) (keyspace.Keys, error) {
	if err := policy.Validate(); err != nil {
		l.metrics.Inc(MetricConfigRejected)
		l.logger.Warn("policy rejected",
			zap.String("op", op),
			zap.String("namespace", scope.Namespace),
			zap.Error(err),
		)
		return keyspace.Keys{}, configError(op, scope.Namespace, ErrInvalidPolicy, err)
	}

	keys, err := keyspace.For(l.config.KeyPrefix, scope.Namespace, scope.Subject)
	if err != nil {
		l.metrics.Inc(MetricConfigRejected)
		l.logger.Warn("scope rejected",
			zap.String("op", op),
			zap.String("namespace", scope.Namespace),
			zap.Error(err),
		)
		return keyspace.Keys{}, configError(op, scope.Namespace, ErrInvalidScope, err)
	}
	return keys, nil
}

func (l *Limiter) storeFailure(ctx context.Context, op string, scope Scope, err error) *LimiterError {
	var kind ErrorKind
	switch store.Classify(err) {
	case store.KindTimeout:
		kind = KindTimeout
		l.metrics.Inc(MetricStoreTimeout)
	case store.KindProtocol:
		kind = KindProtocol
		l.metrics.Inc(MetricProtocolError)
	default:
		kind = KindConnectivity
		l.metrics.Inc(MetricStoreUnavailable)
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("kind", kind.String()),
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.Error(err),
	}
	if scope.Namespace != "" {
		fields = append(fields, zap.String("namespace", scope.Namespace))
	}
	if kind == KindProtocol {
		l.logger.Error("store rejected script", fields...)
	} else {
		l.logger.Warn("store call failed", fields...)
	}

	return newLimiterError(kind, op, scope.Namespace, err)
}

func decisionFromResult(res script.Result) Decision {
	return Decision{
		Allowed:    res.Allowed,
		Tier:       tierFromString(res.Tier),
		RetryAfter: res.RetryAfter,
		ShortCount: res.ShortCount,
		LongCount:  res.LongCount,
	}
}

func tierFromString(s string) Tier {
	switch s {
	case script.TierShort:
		return TierShort
	case script.TierLong:
		return TierLong
	default:
		return TierNone
	}
}
