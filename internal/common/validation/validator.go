// Package validation validates configuration structs with go-playground/validator
// struct tags and converts failures into validation AppErrors.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"grouper-dispatcher/internal/common/errors"
)

// BrokerTypes lists the transports a deployment can select.
var BrokerTypes = []string{"rabbitmq", "redis", "memory"}

// Validator checks struct tags, including the dispatcher-specific
// broker_type and queue_name tags.
type Validator struct {
	validator *validator.Validate
}

// FieldError is one failed struct tag.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// New returns a Validator with the dispatcher tags registered.
func New() *Validator {
	v := validator.New()

	registerDispatcherValidators(v)

	// report env-style names when the struct carries them
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("env"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{
		validator: v,
	}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validator.Struct(s); err != nil {
		return v.toAppError(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	if err := v.validator.Var(field, tag); err != nil {
		return v.toAppError(err)
	}
	return nil
}

// Errors returns the structured failures of s, or nil when it is valid.
func (v *Validator) Errors(s interface{}) []FieldError {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	return v.fieldErrors(err)
}

func (v *Validator) toAppError(err error) error {
	failures := v.fieldErrors(err)
	if len(failures) == 1 {
		return errors.ValidationError(failures[0].Message)
	}

	messages := make([]string, len(failures))
	for i, e := range failures {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (v *Validator) fieldErrors(err error) []FieldError {
	var failures []FieldError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			failures = append(failures, FieldError{
				Field:   fieldError.Field(),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: v.formatFieldError(fieldError),
				Param:   fieldError.Param(),
			})
		}
	} else {
		failures = append(failures, FieldError{
			Field:   "unknown",
			Tag:     "error",
			Message: err.Error(),
		})
	}

	return failures
}

func (v *Validator) formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be host:port", err.Field())
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "broker_type":
		return fmt.Sprintf("field '%s' must be a valid broker type (%s)", err.Field(), strings.Join(BrokerTypes, ", "))
	case "queue_name":
		return fmt.Sprintf("field '%s' must be a queue name without spaces or '|'", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerDispatcherValidators(v *validator.Validate) {
	v.RegisterValidation("broker_type", func(fl validator.FieldLevel) bool {
		brokerType := fl.Field().String()
		for _, valid := range BrokerTypes {
			if brokerType == valid {
				return true
			}
		}
		return false
	})

	// queue names end up in rule lines, which are pipe separated
	v.RegisterValidation("queue_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return name != "" && !strings.ContainsAny(name, "| \t\r\n")
	})
}

var globalValidator = New()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}
