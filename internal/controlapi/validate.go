package controlapi

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// slugRegex ensures slugs are URL-safe (lowercase, numbers, single hyphens).
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return v
}

// validateStruct runs the struct tags and converts failures to an ErrorResponse.
func validateStruct(s any) *ErrorResponse {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ErrorResponse{Code: codeInvalidInput, Message: err.Error()}
	}

	details := make([]ErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, ErrorDetail{Field: fieldPath(fe), Issue: issue(fe)})
	}
	return &ErrorResponse{Code: codeInvalidInput, Message: "Request validation failed", Details: details}
}

// fieldPath drops the root struct name: "RuleDocument.schedule.days[0]" -> "schedule.days[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func issue(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "iso3166_1_alpha2":
		return "must be an ISO 3166-1 alpha-2 country code"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "alpha":
		return "must contain letters only"
	case "len":
		return fmt.Sprintf("must be %s characters long", fe.Param())
	case "datetime":
		if fe.Param() == "15:04" {
			return "must be a time in HH:MM format"
		}
		return "must be a date in YYYY-MM-DD format"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "url":
		return "must be an absolute URL"
	case "slug":
		return "must contain only lowercase letters, numbers, and hyphens"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
