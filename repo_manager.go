package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	// LockAccount serializes mutations of a single account inside this process.
	LockAccount(ctx context.Context, id int64) (func(), error)
	Accounts() Accounts
	Permissions() Permissions
}

type mngr struct {
	db          *bun.DB
	accounts    Accounts
	permissions Permissions
	locks       *keyedMutex
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		accounts:    NewAccountsRepository(db),
		permissions: NewPermissionsRepository(db),
		locks:       newKeyedMutex(),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.permissions == nil {
		return errors.New("repository permissions should be initialized")
	}

	return nil
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) LockAccount(ctx context.Context, id int64) (func(), error) {
	return m.locks.Lock(ctx, id)
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Permissions() Permissions {
	return m.permissions
}
