package auth

import (
	"context"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// Assignment is what an account holds next to everything it could hold.
type Assignment struct {
	Assigned []Permission
	Catalog  []Permission
}

// PermissionAssigner reads and replaces account permission sets.
type PermissionAssigner interface {
	GetPermissions(ctx context.Context, id int64) (Assignment, error)
	SetPermissions(ctx context.Context, actor ActorRef, id int64, permissionIDs []int64) ([]Permission, error)
}

// AssignerOption customizes a PermissionAssigner.
type AssignerOption func(*permissionAssigner)

func WithAssignerClock(clock func() time.Time) AssignerOption {
	return func(pa *permissionAssigner) {
		if clock != nil {
			pa.now = clock
		}
	}
}

func WithAssignerActivitySink(sink ActivitySink) AssignerOption {
	return func(pa *permissionAssigner) {
		pa.activitySink = normalizeActivitySink(sink)
	}
}

func WithAssignerLogger(logger Logger) AssignerOption {
	return func(pa *permissionAssigner) {
		if logger != nil {
			pa.logger = logger
		}
	}
}

func WithAssignerMetrics(m *Metrics) AssignerOption {
	return func(pa *permissionAssigner) {
		pa.metrics = m
	}
}

// WithAssignerTimeout bounds every operation.
func WithAssignerTimeout(d time.Duration) AssignerOption {
	return func(pa *permissionAssigner) {
		if d > 0 {
			pa.timeout = d
		}
	}
}

// NewPermissionAssigner returns the default assigner backed by repo.
func NewPermissionAssigner(repo RepositoryManager, opts ...AssignerOption) PermissionAssigner {
	pa := &permissionAssigner{
		repo:         repo,
		now:          time.Now,
		timeout:      defaultOperationTimeout,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pa)
		}
	}

	return pa
}

type permissionAssigner struct {
	repo         RepositoryManager
	now          func() time.Time
	timeout      time.Duration
	activitySink ActivitySink
	logger       Logger
	metrics      *Metrics
}

// GetPermissions returns the effective set. Protected accounts hold the whole catalog.
func (pa *permissionAssigner) GetPermissions(ctx context.Context, id int64) (Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, pa.timeout)
	defer cancel()

	account, err := pa.repo.Accounts().GetByID(ctx, id)
	if err != nil {
		return Assignment{}, normalizeError(err, "get account permissions")
	}

	catalog, err := pa.repo.Permissions().Catalog(ctx)
	if err != nil {
		return Assignment{}, normalizeError(err, "get account permissions")
	}

	if account.Protected {
		return Assignment{Assigned: catalog, Catalog: catalog}, nil
	}

	assigned, err := pa.repo.Permissions().Assigned(ctx, id)
	if err != nil {
		return Assignment{}, normalizeError(err, "get account permissions")
	}

	return Assignment{Assigned: assigned, Catalog: catalog}, nil
}

// SetPermissions replaces the account's set. Nothing changes unless every id
// is in the catalog.
func (pa *permissionAssigner) SetPermissions(ctx context.Context, actor ActorRef, id int64, permissionIDs []int64) ([]Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, pa.timeout)
	defer cancel()

	unlock, err := pa.repo.LockAccount(ctx, id)
	if err != nil {
		err = normalizeError(err, "set account permissions")
		pa.metrics.observeAssignment(err)
		return nil, err
	}
	defer unlock()

	requested := dedupeIDs(permissionIDs)

	var before, after []Permission
	err = pa.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := pa.repo.Accounts().LockByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if account.Protected {
			return protectedAccount(id, "set_permissions")
		}

		catalog, err := pa.repo.Permissions().CatalogTx(ctx, tx)
		if err != nil {
			return err
		}

		if unknown := unknownIDs(requested, catalog); len(unknown) > 0 {
			return ErrInvalidPermission.Clone().WithMetadata(map[string]any{
				"account_id": id,
				"unknown":    unknown,
			})
		}

		if before, err = pa.repo.Permissions().AssignedTx(ctx, tx, id); err != nil {
			return err
		}

		if err := pa.repo.Permissions().ReplaceTx(ctx, tx, id, requested); err != nil {
			return err
		}

		after, err = pa.repo.Permissions().AssignedTx(ctx, tx, id)
		return err
	})

	err = normalizeError(err, "set account permissions")
	pa.metrics.observeAssignment(err)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, pa.activitySink, pa.logger, pa.now, ActivityEvent{
		EventType: ActivityEventPermissionsReplaced,
		Actor:     actor,
		AccountID: id,
		Metadata: map[string]any{
			"before": permissionIDsOf(before),
			"after":  permissionIDsOf(after),
		},
	})

	return after, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func unknownIDs(requested []int64, catalog []Permission) []int64 {
	known := make(map[int64]struct{}, len(catalog))
	for _, p := range catalog {
		known[p.ID] = struct{}{}
	}

	var unknown []int64
	for _, id := range requested {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

func permissionIDsOf(perms []Permission) []int64 {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}
