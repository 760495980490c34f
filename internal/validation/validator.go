// Package validation plugs go-playground/validator into echo and turns its
// errors into client-facing messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/gameverse/internal/model"
)

type Validator struct {
	v *validator.Validate
}

// New returns a Validator that reports fields by their JSON names and knows
// the catalog's "genre" and "platform" tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.Genres, fl.Field().String())
	})
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.Platforms, fl.Field().String())
	})
	return &Validator{v: v}
}

// Validate implements echo.Validator.
func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

// Message renders the first validation failure in err as a sentence.  Errors
// that did not come from the validator yield "Invalid request body".
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s is out of range", field)
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, fe.Param())
	case "genre":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(model.Genres, ", "))
	case "platform":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(model.Platforms, ", "))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}
