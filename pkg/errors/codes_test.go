package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_Category(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want string
	}{
		{CodeValidation, "VAL"},
		{CodeMissingToken, "AUTH"},
		{CodeInsufficientScope, "AUTHZ"},
		{CodeNotFound, "NF"},
		{CodeMethodNotAllowed, "METHOD"},
		{CodeCache, "INT"},
		{Code("NOUNDERSCORE"), "NOUNDERSCORE"},
		{Code(""), ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.Category())
		})
	}
}

func TestCode_ClientCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want string
	}{
		{CodeMissingToken, "missing_token"},
		{CodeInvalidToken, "invalid_token"},
		{CodeInsufficientScope, "insufficient_scope"},
		{CodeMetadataUnavailable, "metadata_lookup_failure"},
		{CodeCache, "claims_cache_failure"},
		{CodeUpstreamLookup, "claims_lookup_failure"},
		{CodeUnhandled, "server_error"},
		{CodeConfiguration, "server_error"},
		{CodeValidation, "invalid_request"},
		{CodeNotFound, "not_found"},
		{CodeMethodNotAllowed, "method_not_allowed"},
		{Code("XYZ_999"), "server_error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.ClientCode())
		})
	}
}

func TestCodes_EveryCodeHasClientCode(t *testing.T) {
	t.Parallel()
	all := []Code{
		CodeValidation, CodeValidationRequired, CodeMissingToken, CodeInvalidToken,
		CodeInsufficientScope, CodeNotFound, CodeMethodNotAllowed, CodeUnhandled, CodeMetadataUnavailable,
		CodeCache, CodeUpstreamLookup, CodeConfiguration, CodeDependency,
		CodeDependencyTimeout, CodeDependencyUnavailable, CodeConflict,
	}
	assert.Len(t, clientCodes, len(all))
	for _, c := range all {
		_, ok := clientCodes[c]
		assert.True(t, ok, "no client code for %s", c)
	}
}
