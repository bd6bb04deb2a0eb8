package activitymap_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-admin"
	"github.com/goliatone/go-auth-admin/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventAccountBlocked,
		Actor:     auth.ActorRef{ID: "admin-42", Type: "admin"},
		AccountID: 100,
		Before:    &auth.AccountState{Active: true},
		After:     &auth.AccountState{Active: true, Blocked: true, Reason: "fraude detectado"},
		Metadata: map[string]any{
			"ticket": "SEC-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "admin-42" {
		t.Fatalf("expected actor_id admin-42, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventAccountBlocked) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventAccountBlocked, out.Verb)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "100" {
		t.Fatalf("expected object_id 100, got %q", out.ObjectID)
	}
	if out.Channel != "admin" {
		t.Fatalf("expected channel admin, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "SEC-204" {
		t.Fatalf("expected metadata ticket SEC-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "admin" {
		t.Fatalf("expected metadata actor_type admin, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}

	before, ok := out.Metadata[activitymap.MetadataKeyBefore].(map[string]any)
	if !ok || before["blocked"] != false || before["active"] != true {
		t.Fatalf("unexpected before state %#v", out.Metadata[activitymap.MetadataKeyBefore])
	}
	after, ok := out.Metadata[activitymap.MetadataKeyAfter].(map[string]any)
	if !ok || after["blocked"] != true || after["reason"] != "fraude detectado" {
		t.Fatalf("unexpected after state %#v", out.Metadata[activitymap.MetadataKeyAfter])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := auth.ActivityEvent{
		EventType: auth.ActivityEventMagicLinkIssued,
		Actor:     auth.ActorRef{Type: "account"},
		AccountID: 7,
		Identity:  "ana@example.com",
		Metadata: map[string]any{
			"request_id":                     "req-1",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("magic_link"),
		activitymap.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			if v, ok := e.Metadata["request_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "magic_link" {
		t.Fatalf("expected object_type magic_link, got %q", out.ObjectType)
	}
	if out.ObjectID != "req-1" {
		t.Fatalf("expected object_id req-1, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type preserved, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if out.Metadata[activitymap.MetadataKeyIdentity] != "ana@example.com" {
		t.Fatalf("expected identity in metadata, got %#v", out.Metadata[activitymap.MetadataKeyIdentity])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  auth.ActivityEvent{Actor: auth.ActorRef{ID: "actor-1"}, AccountID: 1},
			expect: "actor-1",
		},
		{
			name:   "uses default fallback when actor missing",
			event:  auth.ActivityEvent{AccountID: 2},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor missing",
			event:  auth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestNormalizeWithoutAccountLeavesObjectIDEmpty(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(auth.ActivityEvent{EventType: auth.ActivityEventMagicLinkRejected})
	if out.ObjectID != "" {
		t.Fatalf("expected empty object_id, got %q", out.ObjectID)
	}
	if out.Metadata != nil {
		t.Fatalf("expected nil metadata, got %#v", out.Metadata)
	}
}

func TestSinkForwardsNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventAccountDeleted,
		AccountID: 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].ObjectID != "9" {
		t.Fatalf("unexpected record %+v", got[0])
	}
}
