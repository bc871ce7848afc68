package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// validateRequest checks struct tags on a decoded body. Any missing required
// field reports "Missing fields"; other failures list the offending fields.
func validateRequest(payload any) *DomainError {
	err := requestValidator.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationError("Invalid request", nil)
	}

	details := make([]fieldError, 0, len(verrs))
	missing := false
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
		if fe.Tag() == "required" {
			missing = true
		}
	}
	if missing {
		return validationError("Missing fields", details)
	}
	return validationError("Invalid request", details)
}
