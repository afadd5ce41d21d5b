package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type FieldErrors map[string][]string

func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// ValidateStruct runs the `validate` tags of s and returns nil or FieldErrors.
func ValidateStruct(s interface{}) FieldErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs := FieldErrors{}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errs.Add("_", err.Error())
		return errs
	}

	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			errs.Add(field, fmt.Sprintf("%s is required", field))
		case "email":
			errs.Add(field, "Invalid email format")
		case "min":
			errs.Add(field, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			errs.Add(field, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "uuid", "uuid4":
			errs.Add(field, fmt.Sprintf("%s must be a valid id", field))
		case "oneof":
			errs.Add(field, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			errs.Add(field, fmt.Sprintf("%s is invalid", field))
		}
	}
	return errs
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
