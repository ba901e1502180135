// Package errors wraps errors with the context of the operation that failed,
// and marks errors whose message is meant to be shown to the user as-is.
package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error that formats as the given text.
func New(msg string) error {
	return goerrors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}

type withContext struct {
	context string
	cause   error
}

// WithContext annotates err with a description of what was being attempted
// when it occurred. A nil err stays nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{context: context, cause: err}
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.cause)
}

func (err withContext) Unwrap() error {
	return err.cause
}

// RootCause strips the context added by WithContext and returns the
// original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(withContext)
		if !ok {
			return err
		}
		err = ctxErr.cause
	}
}

// FriendlyError is an error whose message can be shown directly to the
// user. Context added with WithContext is hidden when it's printed.
type FriendlyError struct {
	Template string
	Args     []interface{}
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{Template: template, Args: args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the formatted message.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.Template, err.Args...)
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be shown to the user
// for err. If the root cause knows how to describe itself to the user, its
// message is used without the surrounding context.
func GetPrintableMessage(err error) string {
	if friendly, ok := RootCause(err).(friendlyMessager); ok {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
