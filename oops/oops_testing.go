//go:build testing

package oops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireNoError is require.NoError that prints the stack of wrapped errors.
func RequireNoError(t *testing.T, err error, msgAndArgs ...any) {
	if err == nil {
		return
	}

	t.Helper()
	require.Fail(t, "Received unexpected error:\n"+FullString(err), msgAndArgs...)
}
