package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts validator/v10 to echo.Validator. Field errors are
// keyed by the JSON name of the field.
type RequestValidator struct {
	validate *validator.Validate
}

// NewValidator creates the validator installed on the echo instance
func NewValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &service.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Ensure this field has at least " + fe.Param() + " characters."
	case "max":
		return "Ensure this field has no more than " + fe.Param() + " characters."
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ") + "."
	case "gte":
		return "Ensure this value is greater than or equal to " + fe.Param() + "."
	case "dive":
		return "Invalid item."
	default:
		return "Invalid value."
	}
}
