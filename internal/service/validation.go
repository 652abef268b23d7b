package service

import (
	"errors"

	"storefront-api/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// fieldMessages maps "Field" or "Field.tag" to the message returned to clients.
type fieldMessages map[string]string

// check validates v and turns the first failing field into an apperr validation error.
func check(v any, messages fieldMessages, fallback string) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation(fallback)
	}

	fe := fieldErrs[0]
	if msg, ok := messages[fe.StructField()+"."+fe.Tag()]; ok {
		return apperr.Validation(msg)
	}
	if msg, ok := messages[fe.StructField()]; ok {
		return apperr.Validation(msg)
	}
	return apperr.Validation(fallback)
}
