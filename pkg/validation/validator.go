package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// Custom validator instance
	validate = validator.New()

	// Regex patterns for validation
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	sourcePattern   = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,100}$`)
	isinPattern     = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	wknPattern      = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// ValidationError represents a validation error with field and message
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

func init() {
	validate.RegisterValidation("currency", validateCurrency)
	validate.RegisterValidation("source", validateSource)
	validate.RegisterValidation("price", validatePrice)
	validate.RegisterValidation("isin", validateISIN)
	validate.RegisterValidation("wkn", validateWKN)
}

// validateCurrency accepts any string kind, so named types like models.Currency pass through.
func validateCurrency(fl validator.FieldLevel) bool {
	return currencyPattern.MatchString(fl.Field().String())
}

func validateSource(fl validator.FieldLevel) bool {
	return sourcePattern.MatchString(fl.Field().String())
}

// validatePrice requires a finite, strictly positive price
func validatePrice(fl validator.FieldLevel) bool {
	price := fl.Field().Float()
	return price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}

func validateISIN(fl validator.FieldLevel) bool {
	return isinPattern.MatchString(fl.Field().String())
}

func validateWKN(fl validator.FieldLevel) bool {
	return wknPattern.MatchString(fl.Field().String())
}

// ValidateStruct validates a struct using tags
func ValidateStruct(s interface{}) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "", Message: err.Error()}}
	}

	var errors ValidationErrors
	for _, err := range fieldErrs {
		field := err.Field()
		errors = append(errors, ValidationError{
			Field:   field,
			Message: getErrorMessage(field, err.Tag(), err.Param()),
			Value:   err.Value(),
		})
	}

	return errors
}

// getErrorMessage returns a user-friendly error message
func getErrorMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "currency":
		return fmt.Sprintf("%s must be a 3 letter upper case currency code", field)
	case "source":
		return fmt.Sprintf("%s must be a valid source name (1-100 characters of [a-zA-Z0-9_.:-])", field)
	case "price":
		return fmt.Sprintf("%s must be a positive finite price", field)
	case "isin":
		return fmt.Sprintf("%s must be a valid 12 character ISIN", field)
	case "wkn":
		return fmt.Sprintf("%s must be a valid 6 character WKN", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

// ValidateMap validates a map[string]interface{} against expected schema.
// Supported types are "string", "float64", "int64" and "time".
func ValidateMap(data map[string]interface{}, schema map[string]string) ValidationErrors {
	var errors ValidationErrors

	for field, expectedType := range schema {
		value, exists := data[field]
		if !exists {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s is required", field),
			})
			continue
		}

		if err := validateFieldType(field, value, expectedType); err != nil {
			errors = append(errors, *err)
		}
	}

	return errors
}

// validateFieldType validates a field's type; numeric fields may arrive as strings,
// which is how Redis streams deliver them.
func validateFieldType(field string, value interface{}, expectedType string) *ValidationError {
	invalid := func(msg string) *ValidationError {
		return &ValidationError{Field: field, Message: msg, Value: value}
	}

	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return invalid(fmt.Sprintf("%s must be a string", field))
		}
	case "float64":
		switch v := value.(type) {
		case float64, int64, int:
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return invalid(fmt.Sprintf("%s must be a valid number", field))
			}
		default:
			return invalid(fmt.Sprintf("%s must be a number", field))
		}
	case "int64":
		switch v := value.(type) {
		case int64, int:
		case float64:
			if v != math.Trunc(v) {
				return invalid(fmt.Sprintf("%s must be an integer", field))
			}
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return invalid(fmt.Sprintf("%s must be a valid integer", field))
			}
		default:
			return invalid(fmt.Sprintf("%s must be an integer", field))
		}
	case "time":
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339Nano, v); err != nil {
				return invalid(fmt.Sprintf("%s must be an RFC3339 timestamp", field))
			}
		default:
			return invalid(fmt.Sprintf("%s must be a timestamp", field))
		}
	}

	return nil
}

// SanitizeString removes potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes and control characters
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 { // Keep tab, newline, carriage return
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// SanitizeCode trims and upper-cases identifiers such as currency codes, ISINs and WKNs.
func SanitizeCode(s string) string {
	return strings.ToUpper(SanitizeString(s))
}
