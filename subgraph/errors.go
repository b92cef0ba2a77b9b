package subgraph

import (
	"context"
	"errors"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error codes put in extensions.code.
const (
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeBadUserInput     = "BAD_USER_INPUT"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	CodeParseFailed      = "GRAPHQL_PARSE_FAILED"
)

const internalMessage = "internal server error"

// PublicError is a resolver error whose message may be shown to clients.
// Any other error is logged and replaced by a generic message.
type PublicError interface {
	error
	ErrorCode() string
}

// Error is the stock PublicError.
type Error struct {
	Code    string
	Message string
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string     { return e.Message }
func (e *Error) ErrorCode() string { return e.Code }

// Extensions is read by graphql-go when it formats the error.
func (e *Error) Extensions() map[string]any {
	return map[string]any{"code": e.Code}
}

// public returns the error a client may see for err. Errors that are not a
// PublicError are logged with their cause and replaced by a generic message.
func public(ctx context.Context, coord Coordinate, path []any, err error) *Error {
	var pe PublicError
	if errors.As(err, &pe) {
		return &Error{Code: pe.ErrorCode(), Message: pe.Error()}
	}

	logger().ErrorContext(ctx, "resolver failed",
		"operation", "resolve",
		"outcome", "failure",
		"field", coord.String(),
		"path", toPath(path).String(),
		"error", err.Error(),
	)
	return &Error{Code: CodeInternal, Message: internalMessage}
}

func withCode(err *gqlerror.Error, code string) *gqlerror.Error {
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	err.Extensions["code"] = code
	return err
}
