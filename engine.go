package stepauth

import (
	"context"
	"time"

	"github.com/sabq4org/stepauth/permission"
	"github.com/sabq4org/stepauth/token"
)

// Engine orchestrates the two-factor lifecycle and step-up login. Build
// one with [New]; it is immutable after construction and safe for
// concurrent use when its store is.
type Engine struct {
	config  Config
	store   EnrollmentStore
	totp    *totpEngine
	tokens  *token.Manager
	roles   *permission.Resolver
	limiter *stepUpLimiter
	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Permissions exposes the role → capability resolver for callers composing
// their own guards.
func (e *Engine) Permissions() *permission.Resolver {
	if e == nil {
		return nil
	}
	return e.roles
}

// AuditDropped reports how many audit events were dropped under
// back-pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit queues one event. The meta closure is only invoked when a
// dispatcher is running, keeping the disabled path allocation-free.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	cause error,
	meta func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  time.Now(),
		EventType:  eventType,
		IdentityID: identityID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}

	e.audit.Emit(ctx, event)
}
