package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/easyash/trustedby/internal/types"
)

// Validator wraps go-playground/validator for request payload validation.
// A single instance is shared across handlers; the underlying validator
// caches struct metadata and is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct checks dst against its validation tags. The first failed
// field is reported: "required" failures map to a missing-field error, the
// rest to a generic validation error, both carrying the field and rule in
// details.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalError, "invalid validation target", err)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		details := map[string]any{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		}
		if fe.Tag() == "required" {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				"missing required field: "+fe.Field(),
				nil,
				details,
			)
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			"invalid value for field: "+fe.Field(),
			nil,
			details,
		)
	}

	return types.NewAppError(types.ErrCodeValidationFailed, "request validation failed", err)
}
