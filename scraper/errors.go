package scraper

import (
	"errors"
	"fmt"
)

var ErrMalformedFragment = errors.New("malformed fragment")
var ErrTargetUnavailable = errors.New("target unavailable")
var ErrFetchExhausted = errors.New("fetch retries exhausted")
var ErrCancelled = errors.New("scrape cancelled")
var ErrInvalidTarget = errors.New("invalid target")
var ErrPaginatorExhausted = errors.New("paginator is exhausted")

type MalformedFragmentError struct {
	Reason string
}

func (e *MalformedFragmentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedFragment.Error(), e.Reason)
}

func (e *MalformedFragmentError) Is(target error) bool {
	return target == ErrMalformedFragment
}

func malformed(format string, args ...any) error {
	return &MalformedFragmentError{
		Reason: fmt.Sprintf(format, args...),
	}
}

// TransientFetchError marks a failure the governor may retry: a timeout or a connection
// hiccup while collecting a round.
type TransientFetchError struct {
	Cause error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Cause)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Cause
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientFetchError{
		Cause: err,
	}
}

func IsTransient(err error) bool {
	var transientErr *TransientFetchError
	return errors.As(err, &transientErr)
}

type FetchExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrFetchExhausted.Error(), e.Attempts, e.Cause)
}

func (e *FetchExhaustedError) Is(target error) bool {
	return target == ErrFetchExhausted
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Cause
}
