package send

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNoRecipients is returned when every preview is excluded.
	ErrNoRecipients = errors.New("no recipients to send to")

	// ErrSendInFlight is returned when a send is attempted while another one
	// has not finished.
	ErrSendInFlight = errors.New("a send is already in progress")
)

// FieldError is a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aborts a send before any network call.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(msgs, "; "))
}

// TransportError reports a failed round-trip to the send service: a network
// failure, an unreadable response or a request-level rejection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks s against its validation rules and converts failures into
// a ValidationError.
func Validate(v *validator.Validate, s any, message string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &ValidationError{Message: message, Fields: []FieldError{{Message: err.Error()}}}
	}

	fields := make([]FieldError, len(ve))
	for i, fe := range ve {
		fields[i] = FieldError{Field: fe.Field(), Message: msgForTag(fe)}
	}
	return &ValidationError{Message: message, Fields: fields}
}

func msgForTag(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%v is required", field)
	case "hostname_rfc1123":
		return fmt.Sprintf("%v must be a valid host name", field)
	case "gte":
		return fmt.Sprintf("%v must be greater than or equal to %v", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%v must be less than or equal to %v", field, fe.Param())
	case "min":
		return fmt.Sprintf("%v must contain at least %v items", field, fe.Param())
	}
	return fe.Error()
}
