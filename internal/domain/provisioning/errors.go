package provisioning

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindPermission
	KindNotFound
	KindTransient
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error carries the failure taxonomy used by the retry scheduler:
// validation, permission, not-found and config errors are never
// retried; transient errors are retried up to the cap.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Permissionf(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Transientf(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

func Configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

var retryableKeywords = []string{
	"timeout",
	"connection",
	"temporary",
	"deadlock",
	"lock wait",
}

// IsRetryable classifies an error as retryable. Typed errors are
// classified by kind; untyped errors fall back to a keyword match so
// that infrastructure failures surfaced by drivers are still caught.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch KindOf(err) {
	case KindTransient:
		return true
	case KindValidation, KindPermission, KindNotFound, KindConfig:
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range retryableKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
