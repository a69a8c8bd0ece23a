// Errors that remember where they were first wrapped.
package oops

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Error struct {
	Inner StackTracer
}

func (err *Error) Error() string {
	return err.Inner.Error()
}

// FullString is the message followed by the stack, one frame per line.
func (err *Error) FullString() string {
	var b strings.Builder
	fmt.Fprint(&b, err.Inner.Error())
	for _, frame := range err.StackTrace() {
		frameText, _ := frame.MarshalText()
		fmt.Fprintf(&b, "\n\t%s", string(frameText))
	}
	return b.String()
}

func (err *Error) Unwrap() error {
	return err.Inner
}

func (err *Error) StackTrace() errors.StackTrace {
	return err.Inner.StackTrace()
}

type StackTracer interface {
	Error() string
	StackTrace() errors.StackTrace
}

// Wrap attaches a stack unless the error already carries one from this package.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}

	return &Error{
		Inner: errors.WithStack(err).(StackTracer),
	}
}

func Wrapf(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	inner := fmt.Errorf(format+": %w", append(a, err)...)
	return &Error{
		Inner: errors.WithStack(inner).(StackTracer),
	}
}

func New(message string) error {
	err := errors.New(message)
	return &Error{
		Inner: err.(StackTracer),
	}
}

func Newf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	return &Error{
		Inner: errors.WithStack(err).(StackTracer),
	}
}

// FullString falls back to Error() for errors without a stack.
func FullString(err error) string {
	var sterr *Error
	if errors.As(err, &sterr) {
		return sterr.FullString()
	}
	return err.Error()
}
