package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DispatchErrorBadInput        = "DISPATCH_BAD_INPUT"
	DispatchErrorNotFound        = "DISPATCH_NOT_FOUND"
	DispatchErrorConflict        = "DISPATCH_CONFLICT"
	DispatchErrorUnauthorized    = "DISPATCH_UNAUTHORIZED"
	DispatchErrorConfigInvalid   = "DISPATCH_CONFIG_INVALID"
	DispatchErrorExecutionFailed = "DISPATCH_EXECUTION_FAILED"
	DispatchErrorInternal        = "DISPATCH_INTERNAL_ERROR"
)

func dispatchErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureDispatchErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorNotFound)
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return newDispatchError(err.Error(), goerrors.CategoryAuth, DispatchErrorUnauthorized)
	case strings.Contains(msg, "config"):
		return newDispatchError(err.Error(), goerrors.CategoryValidation, DispatchErrorConfigInvalid)
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "exit"), strings.Contains(msg, "execution"):
		return newDispatchError(err.Error(), goerrors.CategoryOperation, DispatchErrorExecutionFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureDispatchErrorEnvelope(mapped)
}

func newDispatchError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureDispatchErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureDispatchErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = dispatchHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultDispatchTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultDispatchTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DispatchErrorBadInput
	case goerrors.CategoryNotFound:
		return DispatchErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return DispatchErrorUnauthorized
	case goerrors.CategoryConflict:
		return DispatchErrorConflict
	case goerrors.CategoryOperation:
		return DispatchErrorExecutionFailed
	default:
		return DispatchErrorInternal
	}
}

func dispatchHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MapError normalizes any error into the dispatch error envelope.
func MapError(err error) *goerrors.Error {
	return dispatchErrorMapper(err)
}

// BadInputError builds a bad-input envelope with optional metadata.
func BadInputError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(DispatchErrorBadInput)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NotFoundError builds a not-found envelope with optional metadata.
func NotFoundError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(DispatchErrorNotFound)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// ConfigError builds a validation envelope for rejected configuration.
func ConfigError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(DispatchErrorConfigInvalid)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// ExecutionError wraps an action execution failure.
func ExecutionError(source error, message string) error {
	if source == nil {
		return newDispatchError(message, goerrors.CategoryOperation, DispatchErrorExecutionFailed)
	}
	return goerrors.Wrap(source, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(DispatchErrorExecutionFailed)
}
