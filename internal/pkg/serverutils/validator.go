package serverutils

import (
	"errors"
	"strings"

	"watermark-gateway/pkg/apperror"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateRequest runs struct tag validation and reports the first failing
// field as an *apperror.ValidationError.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &apperror.ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: "failed on '" + fe.Tag() + "' rule",
		}
	}
	return &apperror.ValidationError{Message: err.Error()}
}
