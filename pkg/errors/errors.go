// Package errors defines the closed error taxonomy of the claims pipeline
// and the translation of those errors into client-safe responses.
//
// Every failure raised by the pipeline is an [*Error] carrying a [Code].
// The code decides the HTTP status (by category) and the machine-readable
// code written to the client. Errors are raised where a failure is
// detected and converted exactly once, at the boundary, by [Translator].
//
// # Kinds
//
//	MissingToken         AUTH_001   401  missing_token
//	InvalidToken         AUTH_002   401  invalid_token
//	InsufficientScope    AUTHZ_001  403  insufficient_scope
//	MetadataUnavailable  INT_002    500  metadata_lookup_failure
//	CacheError           INT_003    500  claims_cache_failure
//	UpstreamLookupError  INT_004    500  claims_lookup_failure
//	UnhandledException   INT_001    500  server_error
//
// # Usage
//
//	return errors.Wrap(err, errors.CodeCache, "claims cache read failed")
//
//	if errors.IsServerError(err) {
//	    // 5xx: logged in full, only the id and area reach the caller
//	}
package errors
