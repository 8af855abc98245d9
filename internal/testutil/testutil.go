// Package testutil holds helpers shared by the module's tests.
//
// Helpers take testing.TB and call t.Helper(). Require* helpers stop the
// test on failure; Assert* helpers record the failure and continue.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// RequireErrorCode stops the test unless err is an *sserr.Error (anywhere
// in its chain) carrying code.
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// AssertErrorCode is RequireErrorCode without stopping the test.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// TempConfigFile writes content to config<ext> in a per-test directory
// with mode 0600 and returns its path.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write %s", path)
	return path
}
