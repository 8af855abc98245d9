package errors

// Code is a stable, machine-readable error code of the form CATEGORY_NNN.
// The category prefix selects the HTTP status; see [Error.HTTPStatus].
type Code string

// Categories:
//
//	VAL_xxx   400 Bad Request
//	AUTH_xxx  401 Unauthorized
//	AUTHZ_xxx 403 Forbidden
//	NF_xxx    404 Not Found
//	METHOD_xxx 405 Method Not Allowed
//	INT_xxx   500 Internal Server Error
const (
	// CodeValidation indicates malformed input or configuration.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required value is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeMissingToken indicates no bearer token was supplied.
	CodeMissingToken Code = "AUTH_001"

	// CodeInvalidToken indicates the bearer token failed verification
	// for any reason: malformed, bad signature, expired, wrong issuer or
	// audience, unknown key id.
	CodeInvalidToken Code = "AUTH_002"

	// CodeInsufficientScope indicates the token lacks a required scope.
	CodeInsufficientScope Code = "AUTHZ_001"

	// CodeNotFound indicates a business resource does not exist or is not
	// visible to the caller.
	CodeNotFound Code = "NF_001"

	// CodeMethodNotAllowed indicates the path exists but does not accept
	// the request method.
	CodeMethodNotAllowed Code = "METHOD_001"

	// CodeUnhandled is the catch-all for failures with no specific kind.
	CodeUnhandled Code = "INT_001"

	// CodeMetadataUnavailable indicates the authorization server's key set
	// or discovery document could not be downloaded.
	CodeMetadataUnavailable Code = "INT_002"

	// CodeCache indicates a claims cache read or write failed.
	CodeCache Code = "INT_003"

	// CodeUpstreamLookup indicates the extra claims provider failed.
	CodeUpstreamLookup Code = "INT_004"

	// CodeConfiguration indicates invalid process configuration.
	CodeConfiguration Code = "INT_005"

	// CodeDependency indicates a Redis or PostgreSQL command failed.
	CodeDependency Code = "INT_006"

	// CodeDependencyTimeout indicates a Redis or PostgreSQL command ran
	// past its deadline.
	CodeDependencyTimeout Code = "INT_007"

	// CodeDependencyUnavailable indicates a backing service could not be
	// reached at all.
	CodeDependencyUnavailable Code = "INT_008"

	// CodeConflict indicates an operation is not allowed in the current
	// lifecycle state.
	CodeConflict Code = "INT_009"
)

// clientCodes maps internal codes to the code written in response bodies.
var clientCodes = map[Code]string{
	CodeValidation:            "invalid_request",
	CodeValidationRequired:    "invalid_request",
	CodeMissingToken:          "missing_token",
	CodeInvalidToken:          "invalid_token",
	CodeInsufficientScope:     "insufficient_scope",
	CodeNotFound:              "not_found",
	CodeMethodNotAllowed:      "method_not_allowed",
	CodeUnhandled:             "server_error",
	CodeMetadataUnavailable:   "metadata_lookup_failure",
	CodeCache:                 "claims_cache_failure",
	CodeUpstreamLookup:        "claims_lookup_failure",
	CodeConfiguration:         "server_error",
	CodeDependency:            "server_error",
	CodeDependencyTimeout:     "server_error",
	CodeDependencyUnavailable: "server_error",
	CodeConflict:              "server_error",
}

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH", "INT").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// ClientCode returns the lowercase code exposed to API clients. Unknown
// codes report "server_error".
func (c Code) ClientCode() string {
	if cc, ok := clientCodes[c]; ok {
		return cc
	}
	return "server_error"
}
