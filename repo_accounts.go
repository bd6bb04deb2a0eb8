package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Accounts is the account store. The *Tx variants run on the given
// transaction so they can be composed inside RepositoryManager.RunInTx.
type Accounts interface {
	AccountFinder
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error)
	LockByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error)
	List(ctx context.Context, criteria ListAccountsCriteria) ([]*Account, int, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	UpdateStateTx(ctx context.Context, tx bun.IDB, account *Account) error
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
}

// ListAccountsCriteria filters account listings.
type ListAccountsCriteria struct {
	Search  string
	Blocked *bool
	Active  *bool
	Limit   int
	Offset  int
}

type accountsRepository struct {
	db *bun.DB
}

// NewAccountsRepository returns the bun backed account store.
func NewAccountsRepository(db *bun.DB) Accounts {
	return &accountsRepository{db: db}
}

func (r *accountsRepository) GetByID(ctx context.Context, id int64) (*Account, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *accountsRepository) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error) {
	account := new(Account)
	err := tx.NewSelect().
		Model(account).
		Where("acc.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, accountLookupError(err, id)
	}
	return account, nil
}

// LockByIDTx loads the row for update. SQLite serializes writers already,
// so the row lock is only requested on PostgreSQL.
func (r *accountsRepository) LockByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error) {
	account := new(Account)
	q := tx.NewSelect().
		Model(account).
		Where("acc.id = ?", id)

	if tx.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, accountLookupError(err, id)
	}
	return account, nil
}

func (r *accountsRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	account := new(Account)
	err := r.db.NewSelect().
		Model(account).
		Where("acc.email = ?", NormalizeEmail(email)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{
				"email": NormalizeEmail(email),
			})
		}
		return nil, normalizeError(err, "get account by email")
	}
	return account, nil
}

func (r *accountsRepository) List(ctx context.Context, criteria ListAccountsCriteria) ([]*Account, int, error) {
	var accounts []*Account
	q := r.db.NewSelect().
		Model(&accounts).
		Order("acc.id ASC")

	if term := strings.TrimSpace(criteria.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("acc.email LIKE ?", like).
				WhereOr("LOWER(acc.name) LIKE ?", like)
		})
	}

	if criteria.Blocked != nil {
		q = q.Where("acc.blocked = ?", *criteria.Blocked)
	}

	if criteria.Active != nil {
		q = q.Where("acc.active = ?", *criteria.Active)
	}

	if criteria.Limit > 0 {
		q = q.Limit(criteria.Limit)
	}

	if criteria.Offset > 0 {
		q = q.Offset(criteria.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, normalizeError(err, "list accounts")
	}
	return accounts, total, nil
}

func (r *accountsRepository) Create(ctx context.Context, account *Account) (*Account, error) {
	return r.CreateTx(ctx, r.db, account)
}

func (r *accountsRepository) CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if account == nil {
		return nil, ErrValidation.Clone().WithMetadata(map[string]any{
			"reason": "account is nil",
		})
	}

	account.Email = NormalizeEmail(account.Email)
	if account.Email == "" {
		return nil, ErrValidation.Clone().WithMetadata(map[string]any{
			"email": "cannot be blank",
		})
	}

	now := time.Now().UTC()
	if account.RegisteredAt == nil {
		account.RegisteredAt = &now
	}
	account.UpdatedAt = &now
	if !account.Blocked {
		account.BlockedReason = ""
	}

	if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken.Clone().WithMetadata(map[string]any{
				"email": account.Email,
			})
		}
		return nil, normalizeError(err, "create account")
	}
	return account, nil
}

// UpdateStateTx persists both lifecycle flags, the reason and updated_at.
func (r *accountsRepository) UpdateStateTx(ctx context.Context, tx bun.IDB, account *Account) error {
	if account == nil {
		return ErrValidation.Clone().WithMetadata(map[string]any{
			"reason": "account is nil",
		})
	}

	res, err := tx.NewUpdate().
		Model(account).
		Column("active", "blocked", "blocked_reason", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return normalizeError(err, "update account state")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accountNotFound(account.ID)
	}
	return nil
}

// DeleteTx removes the account and its permission links.
func (r *accountsRepository) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	if _, err := tx.NewDelete().
		Model((*AccountPermission)(nil)).
		Where("account_id = ?", id).
		Exec(ctx); err != nil {
		return normalizeError(err, "delete account permissions")
	}

	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return normalizeError(err, "delete account")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accountNotFound(id)
	}
	return nil
}

func accountLookupError(err error, id int64) error {
	if isNoRows(err) {
		return accountNotFound(id)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return normalizeError(err, "get account")
}
