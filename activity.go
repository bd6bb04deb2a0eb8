package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountActivated    ActivityEventType = "account.activated"
	ActivityEventAccountDeactivated  ActivityEventType = "account.deactivated"
	ActivityEventAccountBlocked      ActivityEventType = "account.blocked"
	ActivityEventAccountUnblocked    ActivityEventType = "account.unblocked"
	ActivityEventAccountDeleted      ActivityEventType = "account.deleted"
	ActivityEventPermissionsReplaced ActivityEventType = "account.permissions.replaced"
	ActivityEventMagicLinkIssued     ActivityEventType = "auth.magic_link.issued"
	ActivityEventMagicLinkVerified   ActivityEventType = "auth.magic_link.verified"
	ActivityEventMagicLinkRejected   ActivityEventType = "auth.magic_link.rejected"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  int64
	Identity   string
	Before     *AccountState
	After      *AccountState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort: sink failures are logged, never returned.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
