package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-admin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// MockAccountFinder implements auth.AccountFinder
type MockAccountFinder struct {
	mock.Mock
}

func (m *MockAccountFinder) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	if acc := args.Get(0); acc != nil {
		return acc.(*auth.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockReplayGuard implements auth.ReplayGuard
type MockReplayGuard struct {
	mock.Mock
}

func (m *MockReplayGuard) MarkUsed(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, token, ttl)
	return args.Bool(0), args.Error(1)
}

// MockMailer implements auth.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendMagicLink(ctx context.Context, msg auth.MagicLinkMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockMachine implements auth.AccountStateMachine
type MockMachine struct {
	mock.Mock
}

func (m *MockMachine) SetActive(ctx context.Context, actor auth.ActorRef, id int64, active bool) (auth.AccountState, error) {
	args := m.Called(ctx, actor, id, active)
	return args.Get(0).(auth.AccountState), args.Error(1)
}

func (m *MockMachine) SetBlocked(ctx context.Context, actor auth.ActorRef, id int64, blocked bool, reason string) (auth.AccountState, error) {
	args := m.Called(ctx, actor, id, blocked, reason)
	return args.Get(0).(auth.AccountState), args.Error(1)
}

func (m *MockMachine) Activate(ctx context.Context, actor auth.ActorRef, id int64) (auth.AccountState, error) {
	return m.SetActive(ctx, actor, id, true)
}

func (m *MockMachine) Deactivate(ctx context.Context, actor auth.ActorRef, id int64) (auth.AccountState, error) {
	return m.SetActive(ctx, actor, id, false)
}

func (m *MockMachine) Block(ctx context.Context, actor auth.ActorRef, id int64, reason string) (auth.AccountState, error) {
	return m.SetBlocked(ctx, actor, id, true, reason)
}

func (m *MockMachine) Unblock(ctx context.Context, actor auth.ActorRef, id int64) (auth.AccountState, error) {
	return m.SetBlocked(ctx, actor, id, false, "")
}

func (m *MockMachine) Delete(ctx context.Context, actor auth.ActorRef, id int64) error {
	args := m.Called(ctx, actor, id)
	return args.Error(0)
}

func (m *MockMachine) Current(ctx context.Context, id int64) (auth.AccountState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(auth.AccountState), args.Error(1)
}

// MockAssigner implements auth.PermissionAssigner
type MockAssigner struct {
	mock.Mock
}

func (m *MockAssigner) GetPermissions(ctx context.Context, id int64) (auth.Assignment, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(auth.Assignment), args.Error(1)
}

func (m *MockAssigner) SetPermissions(ctx context.Context, actor auth.ActorRef, id int64, ids []int64) ([]auth.Permission, error) {
	args := m.Called(ctx, actor, id, ids)
	if perms := args.Get(0); perms != nil {
		return perms.([]auth.Permission), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLinkRequester implements auth.MagicLinkRequester
type MockLinkRequester struct {
	mock.Mock
}

func (m *MockLinkRequester) Request(ctx context.Context, email string) (*auth.IssuedLink, error) {
	args := m.Called(ctx, email)
	if link := args.Get(0); link != nil {
		return link.(*auth.IssuedLink), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTokenChecker implements auth.TokenChecker
type MockTokenChecker struct {
	mock.Mock
}

func (m *MockTokenChecker) Verify(ctx context.Context, token string) (auth.Verification, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(auth.Verification), args.Error(1)
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// setupDatabase opens an isolated in-memory database with every migration applied.
// The seed leaves account 1 (admin@mail.com) protected and six catalog permissions.
func setupDatabase(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, auth.Migrate(context.Background(), db))
	return db
}

func setupRepository(t *testing.T) (auth.RepositoryManager, *bun.DB) {
	t.Helper()
	db := setupDatabase(t)
	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())
	return repo, db
}

func createAccount(t *testing.T, repo auth.RepositoryManager, email string, active bool) *auth.Account {
	t.Helper()
	acc, err := repo.Accounts().Create(context.Background(), &auth.Account{
		Email:  email,
		Name:   email,
		Active: active,
	})
	require.NoError(t, err)
	return acc
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
