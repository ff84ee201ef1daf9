package apperror

import (
	"errors"
	"net/http"
)

type Code string

const (
	BadRequest Code = "BAD_REQUEST"
	NotFound   Code = "NOT_FOUND"
	Internal   Code = "INTERNAL"
	Conflict   Code = "CONFLICT"

	ConfigError       Code = "CONFIG_ERROR"
	ResourceExhausted Code = "RESOURCE_EXHAUSTED"
	SessionFailure    Code = "SESSION_FAILURE"
	DownloadTimeout   Code = "DOWNLOAD_TIMEOUT"
	ParseError        Code = "PARSE_ERROR"
	MergeFilterError  Code = "MERGE_FILTER_ERROR"
	PersistenceError  Code = "PERSISTENCE_ERROR"
)

type AppError struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{code: code, message: message, cause: cause}
}

func (e *AppError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *AppError) Unwrap() error   { return e.cause }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest, ConfigError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ResourceExhausted:
		return http.StatusServiceUnavailable
	case SessionFailure, DownloadTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Internal
// when there is none.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code
	}
	return Internal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var ae *AppError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.code == code {
			return true
		}
		err = ae.cause
	}
	return false
}
