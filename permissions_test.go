package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-auth-admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssigner(t *testing.T, opts ...auth.AssignerOption) (auth.PermissionAssigner, auth.RepositoryManager) {
	t.Helper()
	repo, _ := setupRepository(t)
	opts = append([]auth.AssignerOption{auth.WithAssignerLogger(nopLogger{})}, opts...)
	return auth.NewPermissionAssigner(repo, opts...), repo
}

func permissionIDs(perms []auth.Permission) []int64 {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestSetPermissionsReplacesWholeSet(t *testing.T) {
	assigner, repo := newTestAssigner(t)
	ctx := context.Background()
	acc := createAccount(t, repo, "ana@example.com", true)

	perms, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{1, 3, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, permissionIDs(perms))

	perms, err = assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, permissionIDs(perms))

	assignment, err := assigner.GetPermissions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, permissionIDs(assignment.Assigned))
	assert.Len(t, assignment.Catalog, 6)
}

func TestSetPermissionsIsIdempotent(t *testing.T) {
	assigner, repo := newTestAssigner(t)
	ctx := context.Background()
	acc := createAccount(t, repo, "ana@example.com", true)

	first, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{4, 1})
	require.NoError(t, err)
	second, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{1, 4})
	require.NoError(t, err)

	assert.Equal(t, permissionIDs(first), permissionIDs(second))
	assert.Equal(t, []int64{1, 4}, permissionIDs(second))
}

func TestSetPermissionsCollapsesDuplicates(t *testing.T) {
	assigner, repo := newTestAssigner(t)
	acc := createAccount(t, repo, "ana@example.com", true)

	perms, err := assigner.SetPermissions(context.Background(), auth.ActorRef{}, acc.ID, []int64{2, 2, 6, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 6}, permissionIDs(perms))
}

func TestSetPermissionsEmptyListClearsSet(t *testing.T) {
	assigner, repo := newTestAssigner(t)
	ctx := context.Background()
	acc := createAccount(t, repo, "ana@example.com", true)

	_, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{1, 2})
	require.NoError(t, err)

	perms, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{})
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSetPermissionsIsAllOrNothing(t *testing.T) {
	assigner, repo := newTestAssigner(t)
	ctx := context.Background()
	acc := createAccount(t, repo, "ana@example.com", true)

	_, err := assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{1})
	require.NoError(t, err)

	_, err = assigner.SetPermissions(ctx, auth.ActorRef{}, acc.ID, []int64{2, 99, 3, 100})
	require.Error(t, err)
	assert.True(t, auth.IsInvalidPermission(err))

	assignment, err := assigner.GetPermissions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, permissionIDs(assignment.Assigned))
}

func TestSetPermissionsRejectsProtectedAccount(t *testing.T) {
	assigner, _ := newTestAssigner(t)

	_, err := assigner.SetPermissions(context.Background(), auth.ActorRef{}, 1, []int64{1})
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeProtectedAccount, auth.TextCode(err))
}

func TestGetPermissionsProtectedAccountHoldsCatalog(t *testing.T) {
	assigner, _ := newTestAssigner(t)

	assignment, err := assigner.GetPermissions(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, assignment.Catalog, 6)
	assert.Equal(t, permissionIDs(assignment.Catalog), permissionIDs(assignment.Assigned))
}

func TestPermissionsUnknownAccount(t *testing.T) {
	assigner, _ := newTestAssigner(t)

	_, err := assigner.GetPermissions(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, auth.IsNotFound(err))

	_, err = assigner.SetPermissions(context.Background(), auth.ActorRef{}, 404, []int64{1})
	require.Error(t, err)
	assert.True(t, auth.IsNotFound(err))
}

func TestSetPermissionsRecordsBeforeAndAfter(t *testing.T) {
	sink := &recordingSink{}
	assigner, repo := newTestAssigner(t, auth.WithAssignerActivitySink(sink))
	ctx := context.Background()
	acc := createAccount(t, repo, "ana@example.com", true)

	_, err := assigner.SetPermissions(ctx, auth.ActorRef{ID: "ops"}, acc.ID, []int64{1, 2})
	require.NoError(t, err)
	_, err = assigner.SetPermissions(ctx, auth.ActorRef{ID: "ops"}, acc.ID, []int64{3})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, auth.ActivityEventPermissionsReplaced, events[1].EventType)
	assert.Equal(t, []int64{1, 2}, events[1].Metadata["before"])
	assert.Equal(t, []int64{3}, events[1].Metadata["after"])
}
