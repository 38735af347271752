package goAbuse

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/goAbuse/internal/audit"
	"github.com/MrEthical07/goAbuse/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEvent is a block or degradation record delivered to an AuditSink.
// Subjects are masked before they reach the event.
type AuditEvent = audit.Event

// AuditSink receives audit events from the limiter's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

const (
	// AuditEventBlocked is emitted for rejected attempts. Rejections of a
	// scope whose previous block event is still buffered are merged into
	// it and counted in Repeats.
	AuditEventBlocked = audit.EventBlocked
	// AuditEventDegraded is emitted when a FailOpen gate lets an attempt
	// through because the store failed.
	AuditEventDegraded = audit.EventDegraded
)

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, log *zap.Logger) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
		OnDrop: func(ev audit.Event) {
			log.Debug("audit event dropped",
				zap.String("event_type", ev.EventType),
				zap.String("namespace", ev.Namespace),
			)
		},
	}, sink)
}

func (l *Limiter) emitBlocked(ctx context.Context, scope Scope, d Decision) {
	if l.audit == nil {
		return
	}
	l.audit.Blocked(ctx, scope.String(), l.newEvent(ctx, AuditEventBlocked, scope, func(ev *audit.Event) {
		ev.Tier = d.Tier.String()
		ev.RetryAfter = retryAfterSeconds(d.RetryAfter)
		ev.ShortCount = d.ShortCount
		ev.LongCount = d.LongCount
	}))
}

func (l *Limiter) emitDegraded(ctx context.Context, scope Scope, err error) {
	if l.audit == nil {
		return
	}
	l.audit.Degraded(ctx, l.newEvent(ctx, AuditEventDegraded, scope, func(ev *audit.Event) {
		ev.Error = err.Error()
		if kind, ok := KindOf(err); ok {
			ev.Metadata = map[string]string{"kind": kind.String()}
		}
	}))
}

func (l *Limiter) newEvent(ctx context.Context, eventType string, scope Scope, fill func(*audit.Event)) audit.Event {
	ev := audit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Namespace: scope.Namespace,
		Subject:   logger.MaskSubject(scope.Subject),
		RequestID: RequestIDFromContext(ctx),
		IP:        logger.MaskIP(ClientIPFromContext(ctx)),
	}
	if fill != nil {
		fill(&ev)
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	ev.Metadata["key_prefix"] = l.config.KeyPrefix
	return ev
}
