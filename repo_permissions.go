package auth

import (
	"context"

	"github.com/uptrace/bun"
)

// Permissions reads the catalog and manages account assignments.
type Permissions interface {
	Catalog(ctx context.Context) ([]Permission, error)
	CatalogTx(ctx context.Context, tx bun.IDB) ([]Permission, error)
	Assigned(ctx context.Context, accountID int64) ([]Permission, error)
	AssignedTx(ctx context.Context, tx bun.IDB, accountID int64) ([]Permission, error)
	ReplaceTx(ctx context.Context, tx bun.IDB, accountID int64, permissionIDs []int64) error
}

type permissionsRepository struct {
	db *bun.DB
}

// NewPermissionsRepository returns the bun backed permission store.
func NewPermissionsRepository(db *bun.DB) Permissions {
	return &permissionsRepository{db: db}
}

func (r *permissionsRepository) Catalog(ctx context.Context) ([]Permission, error) {
	return r.CatalogTx(ctx, r.db)
}

func (r *permissionsRepository) CatalogTx(ctx context.Context, tx bun.IDB) ([]Permission, error) {
	perms := []Permission{}
	err := tx.NewSelect().
		Model(&perms).
		Order("perm.id ASC").
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, normalizeError(err, "load permission catalog")
	}
	return perms, nil
}

func (r *permissionsRepository) Assigned(ctx context.Context, accountID int64) ([]Permission, error) {
	return r.AssignedTx(ctx, r.db, accountID)
}

func (r *permissionsRepository) AssignedTx(ctx context.Context, tx bun.IDB, accountID int64) ([]Permission, error) {
	perms := []Permission{}
	err := tx.NewSelect().
		Model(&perms).
		Join("JOIN account_permissions AS ap ON ap.permission_id = perm.id").
		Where("ap.account_id = ?", accountID).
		Order("perm.id ASC").
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, normalizeError(err, "load account permissions")
	}
	return perms, nil
}

// ReplaceTx drops every link for the account and inserts permissionIDs.
// Callers validate the ids against the catalog first.
func (r *permissionsRepository) ReplaceTx(ctx context.Context, tx bun.IDB, accountID int64, permissionIDs []int64) error {
	if _, err := tx.NewDelete().
		Model((*AccountPermission)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx); err != nil {
		return normalizeError(err, "clear account permissions")
	}

	if len(permissionIDs) == 0 {
		return nil
	}

	links := make([]AccountPermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		links = append(links, AccountPermission{
			AccountID:    accountID,
			PermissionID: id,
		})
	}

	if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return normalizeError(err, "insert account permissions")
	}
	return nil
}
