// Package apperr defines the error taxonomy shared by the gate, the store,
// and the service layer. Each failure carries a Kind tag that the HTTP layer
// switches on to pick a status code.
package apperr

import (
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "SERVER_ERROR"
	}
}

// Error is a tagged application failure. Fields is populated only for
// validation failures and maps field names to their messages.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation builds a validation error whose message is assembled from the
// per-field messages, one clause per field, in field-name order.
func Validation(fields map[string][]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: formatFieldErrors(fields),
		Fields:  fields,
	}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Internal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func formatFieldErrors(fields map[string][]string) string {
	if len(fields) == 0 {
		return "Invalid request"
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	clauses := make([]string, 0, len(names))
	for _, name := range names {
		messages := fields[name]
		label := strings.ToUpper(name[:1]) + name[1:]
		if len(messages) == 1 && messages[0] == "Required" {
			clauses = append(clauses, label+" is required")
			continue
		}
		clauses = append(clauses, label+" "+strings.Join(messages, " and "))
	}
	return strings.Join(clauses, ", ")
}
