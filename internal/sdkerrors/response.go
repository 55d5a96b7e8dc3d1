package sdkerrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const parseFailedMessage = "Parsing error response failed"

// ErrorWithResponse is the parsed form of a gateway validation failure. It is
// field-addressable: ErrorFor walks one level of the error tree at a time and
// is safe to chain because lookups on an absent node return nil rather than
// panicking.
type ErrorWithResponse struct {
	Message     string
	StatusCode  int
	RawResponse string
	Fields      []FieldError
}

// FieldError is one node of the error tree: either a category (creditCard)
// holding nested field errors, or a leaf field (number) with a message and
// optional gateway error code.
type FieldError struct {
	Field   string
	Code    string
	Message string
	Fields  []FieldError
}

type errorNode struct {
	Field       string      `json:"field"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	FieldErrors []errorNode `json:"fieldErrors"`
}

type errorPayload struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	FieldErrors []errorNode `json:"fieldErrors"`
}

// ParseErrorResponse converts a raw error payload and status code into an
// ErrorWithResponse. It never fails: a body that cannot be decoded, or one
// missing the top-level message, yields the fixed parse-failure message with
// an empty error tree.
func ParseErrorResponse(statusCode int, body []byte) *ErrorWithResponse {
	ewr := &ErrorWithResponse{
		StatusCode:  statusCode,
		RawResponse: string(body),
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		ewr.Message = parseFailedMessage
		return ewr
	}

	ewr.Message = payload.Error.Message
	ewr.Fields = buildFieldErrors(payload.FieldErrors)
	return ewr
}

func buildFieldErrors(nodes []errorNode) []FieldError {
	if len(nodes) == 0 {
		return nil
	}

	fields := make([]FieldError, 0, len(nodes))
	for _, n := range nodes {
		fields = append(fields, FieldError{
			Field:   n.Field,
			Code:    n.Code,
			Message: n.Message,
			Fields:  buildFieldErrors(n.FieldErrors),
		})
	}
	return fields
}

func (e *ErrorWithResponse) Error() string {
	return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
}

// ErrorFor looks up a top-level category or field by name. Returns nil when
// absent.
func (e *ErrorWithResponse) ErrorFor(field string) *FieldError {
	if e == nil {
		return nil
	}
	return errorFor(e.Fields, field)
}

// FieldErrors returns the top-level error nodes, including non-categorized
// validation errors that have no nested fields.
func (e *ErrorWithResponse) FieldErrors() []FieldError {
	if e == nil {
		return nil
	}
	return e.Fields
}

// IsValidation reports whether this error represents a recoverable input
// validation failure rather than an auth or server problem.
func (e *ErrorWithResponse) IsValidation() bool {
	return e != nil && e.StatusCode == http.StatusUnprocessableEntity
}

// ErrorFor performs a single-level lookup in this node's children. Safe to
// call on a nil receiver, which makes chained lookups on absent categories
// return nil instead of panicking.
func (f *FieldError) ErrorFor(field string) *FieldError {
	if f == nil {
		return nil
	}
	return errorFor(f.Fields, field)
}

// FieldErrors returns this node's children. Nil-safe.
func (f *FieldError) FieldErrors() []FieldError {
	if f == nil {
		return nil
	}
	return f.Fields
}

func errorFor(fields []FieldError, field string) *FieldError {
	for i := range fields {
		if fields[i].Field == field {
			return &fields[i]
		}
	}
	return nil
}
