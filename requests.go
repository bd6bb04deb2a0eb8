package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// BlockRequest payload
type BlockRequest struct {
	Bloqueado *bool   `json:"bloqueado" form:"bloqueado"`
	Razon     *string `json:"razon,omitempty" form:"razon"`
}

// Validate will run validation rules. The reason length is checked by the
// state machine once the account is known not to be protected.
func (r BlockRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Bloqueado, validation.NotNil),
	)
}

// GetReason returns the trimmed reason, empty when absent.
func (r BlockRequest) GetReason() string {
	if r.Razon == nil {
		return ""
	}
	return strings.TrimSpace(*r.Razon)
}

// ActiveRequest payload
type ActiveRequest struct {
	Activo *bool `json:"activo" form:"activo"`
}

// Validate will run validation rules
func (r ActiveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Activo, validation.NotNil),
	)
}

// PermissionsRequest payload. An empty list clears the set.
type PermissionsRequest struct {
	Permisos []int64 `json:"permisos" form:"permisos"`
}

// Validate will run validation rules
func (r PermissionsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Permisos, validation.NotNil),
	)
}

// MagicLinkRequest payload
type MagicLinkRequest struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules
func (r MagicLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// validationError turns ozzo errors into ErrValidation with per field details.
func validationError(err error) error {
	details := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, fieldErr := range errs {
			details[field] = fieldErr.Error()
		}
	} else {
		details["payload"] = err.Error()
	}
	return ErrValidation.Clone().WithMetadata(details)
}
