package common

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}

// Validator provides validation utilities
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Error returns the first validation error, or nil
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return v.errors[0]
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *ValidationError

var (
	qlidRegex       = regexp.MustCompile(`^[A-Z]{2}\d{6}$`)
	cityRegex       = regexp.MustCompile(`^[A-Za-zÀ-ÿ ]+$`)
	occurrenceRegex = regexp.MustCompile(`^[A-Z]{2}\d{8}$`)
)

// Required - Common validation rules
func Required(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	return nil
}

// QLID validates the operator identifier (two letters + six digits).
func QLID(fieldName string, value interface{}) *ValidationError {
	s, _ := value.(string)
	if !qlidRegex.MatchString(strings.TrimSpace(s)) {
		return &ValidationError{Field: fieldName, Value: value, Message: "must match AA999999"}
	}
	return nil
}

// City accepts letters (accented included) and spaces only.
func City(fieldName string, value interface{}) *ValidationError {
	s, _ := value.(string)
	s = strings.TrimSpace(s)
	if s == "" || !cityRegex.MatchString(s) {
		return &ValidationError{Field: fieldName, Value: value, Message: "must contain only letters and spaces"}
	}
	return nil
}

// Occurrence validates an occurrence code (two letters + eight digits).
func Occurrence(fieldName string, value interface{}) *ValidationError {
	s, _ := value.(string)
	if !occurrenceRegex.MatchString(s) {
		return &ValidationError{Field: fieldName, Value: value, Message: "must match AA99999999"}
	}
	return nil
}

// PositiveInt accepts a decimal string holding an integer > 0.
func PositiveInt(fieldName string, value interface{}) *ValidationError {
	s, _ := value.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be an integer > 0"}
	}
	return nil
}

// ValidQLID is a shorthand used by the registration flow.
func ValidQLID(s string) bool { return QLID("qlid", s) == nil }

// ValidCity is a shorthand used by the registration flow.
func ValidCity(s string) bool { return City("cidade", s) == nil }
