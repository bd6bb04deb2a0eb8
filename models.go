package auth

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Account is an administrative identity.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	Active        bool       `bun:"active,notnull" json:"active"`
	Blocked       bool       `bun:"blocked,notnull" json:"blocked"`
	BlockedReason string     `bun:"blocked_reason,nullzero" json:"blocked_reason,omitempty"`
	Protected     bool       `bun:"protected,notnull" json:"protected"`
	RegisteredAt  *time.Time `bun:"registered_at,nullzero,default:current_timestamp" json:"registered_at,omitempty"`
	LastSeenAt    *time.Time `bun:"last_seen_at,nullzero" json:"last_seen_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// State returns the account's position on both lifecycle axes.
func (a *Account) State() AccountState {
	if a == nil {
		return AccountState{}
	}
	return AccountState{
		Active:  a.Active,
		Blocked: a.Blocked,
		Reason:  a.BlockedReason,
	}
}

// CanAuthenticate applies the dominance rule: blocked accounts never get a session.
func (a *Account) CanAuthenticate() bool {
	return a != nil && !a.Blocked
}

// AccountState is the pair of orthogonal lifecycle flags.
type AccountState struct {
	Active  bool   `json:"active"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// Permission is a catalog entry.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            int64  `bun:"id,pk,autoincrement" json:"id"`
	Code          string `bun:"code,notnull,unique" json:"code"`
	Name          string `bun:"name,notnull" json:"name"`
	Description   string `bun:"description" json:"description,omitempty"`
}

// AccountPermission links an account to a catalog permission.
type AccountPermission struct {
	bun.BaseModel `bun:"table:account_permissions,alias:ap"`
	AccountID     int64 `bun:"account_id,pk"`
	PermissionID  int64 `bun:"permission_id,pk"`
}

// NormalizeEmail is the canonical form used for storage and comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
