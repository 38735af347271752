package goAbuse

import (
	"errors"

	"github.com/MrEthical07/goAbuse/internal/clock"
	"github.com/MrEthical07/goAbuse/internal/logger"
	"github.com/MrEthical07/goAbuse/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/goAbuse"

// Builder assembles a Limiter. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config         Config
	redis          redis.UniversalClient
	store          Store
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	auditSink      AuditSink

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis uses client as the shared store. Standalone, sentinel
// (failover) and cluster clients are all accepted.
//
// The client must have command retries disabled (MaxRetries -1, plus
// MaxRedirects -1 on cluster clients): a script re-sent after a lost
// reply records the attempt twice. Build logs a warning otherwise.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore installs a custom Store. It takes precedence over WithRedis.
func (b *Builder) WithStore(s Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithTracerProvider enables spans around store round trips.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithAuditSink sets the destination of audit events. Auditing also
// has to be enabled in Config.Audit.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the check latency histogram. It has no
// effect unless metrics are enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Limiter. No store
// call is made.
func (b *Builder) Build() (*Limiter, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := b.store
	if st == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or store required")
		}
		st = store.NewRedis(b.redis)
	}

	src, err := clock.New(st)
	if err != nil {
		return nil, err
	}

	log := logger.OrNop(b.logger).Named("goAbuse")
	if b.store == nil && store.RetriesCommands(b.redis) {
		log.Warn("redis client retries commands, a lost reply can record an attempt twice")
	}

	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	l := &Limiter{
		config:  cfg,
		store:   st,
		clock:   src,
		logger:  log,
		tracer:  tp.Tracer(tracerName),
		metrics: NewMetrics(cfg.Metrics),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink, log),
	}

	b.built = true

	return l, nil
}
