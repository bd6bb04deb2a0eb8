package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	TextCodeUnknownIdentity    = "UNKNOWN_IDENTITY"
	TextCodeProtectedAccount   = "PROTECTED_ACCOUNT"
	TextCodeAccountBlocked     = "ACCOUNT_BLOCKED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenNotYetValid   = "TOKEN_NOT_YET_VALID"
	TextCodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	TextCodeInvalidPermission  = "INVALID_PERMISSION"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeOperationCancelled = "OPERATION_CANCELLED"
	TextCodeInternal           = "INTERNAL_ERROR"
)

// ErrValidation is returned when a payload does not have the expected shape.
var ErrValidation = goerrors.New("invalid request payload", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotFound is returned when no account matches the given id.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUnknownIdentity is returned when a token names an identity with no account.
var ErrUnknownIdentity = goerrors.New("no account registered for token identity", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUnknownIdentity).
	WithCode(goerrors.CodeNotFound)

// ErrProtectedAccount is returned for any administrative mutation of a protected account.
var ErrProtectedAccount = goerrors.New("account is protected and cannot be modified", goerrors.CategoryAuthz).
	WithTextCode(TextCodeProtectedAccount).
	WithCode(goerrors.CodeForbidden)

// ErrAccountBlocked is returned when a blocked account presents a valid token.
var ErrAccountBlocked = goerrors.New("account is blocked", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountBlocked).
	WithCode(goerrors.CodeForbidden)

// ErrTokenExpired is returned when a token is older than its validity window.
var ErrTokenExpired = goerrors.New("access token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrMalformedToken is returned when a token cannot be decoded.
var ErrMalformedToken = goerrors.New("access token is malformed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenNotYetValid is returned when a token was issued further in the future
// than the tolerated clock skew.
var ErrTokenNotYetValid = goerrors.New("access token is not valid yet", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenNotYetValid).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenAlreadyUsed is returned when single-use tokens are enforced and a token is replayed.
var ErrTokenAlreadyUsed = goerrors.New("access token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(goerrors.CodeConflict)

// ErrInvalidPermission is returned when a permission id is not part of the catalog.
var ErrInvalidPermission = goerrors.New("unknown permission referenced", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPermission).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when creating an account with an email already in use.
var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrOperationCancelled is returned when the caller context ends before the operation completes.
var ErrOperationCancelled = goerrors.New("operation cancelled", goerrors.CategoryOperation).
	WithTextCode(TextCodeOperationCancelled).
	WithCode(http.StatusRequestTimeout)

// TextCode returns the text code carried by a rich error, or an empty string.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsNotFound reports whether err means the account or identity does not exist.
func IsNotFound(err error) bool {
	code := TextCode(err)
	return code == TextCodeAccountNotFound || code == TextCodeUnknownIdentity
}

// IsForbidden reports whether err rejects the operation on authorization grounds.
func IsForbidden(err error) bool {
	code := TextCode(err)
	return code == TextCodeProtectedAccount || code == TextCodeAccountBlocked
}

// IsExpired reports whether err is a token expiration.
func IsExpired(err error) bool {
	return TextCode(err) == TextCodeTokenExpired
}

// IsMalformed reports whether err is a token decoding failure.
func IsMalformed(err error) bool {
	return TextCode(err) == TextCodeTokenMalformed
}

// IsInvalidPermission reports whether err references permissions outside the catalog.
func IsInvalidPermission(err error) bool {
	return TextCode(err) == TextCodeInvalidPermission
}

// IsCancelled reports whether err is a cancelled or timed out operation.
func IsCancelled(err error) bool {
	return TextCode(err) == TextCodeOperationCancelled
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

func accountNotFound(id int64) error {
	return ErrAccountNotFound.Clone().WithMetadata(map[string]any{
		"account_id": id,
	})
}

func cancelled(err error, operation string) error {
	return goerrors.Wrap(err, ErrOperationCancelled.Category, ErrOperationCancelled.Message).
		WithTextCode(TextCodeOperationCancelled).
		WithCode(ErrOperationCancelled.Code).
		WithMetadata(map[string]any{
			"operation": operation,
		})
}

// normalizeError keeps rich errors intact, turns context failures into
// ErrOperationCancelled and wraps everything else as an internal error.
func normalizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if isContextError(err) {
		return cancelled(err, operation)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to "+operation).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}
