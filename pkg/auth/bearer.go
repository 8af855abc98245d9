package auth

import "strings"

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

const bearerScheme = "Bearer"

// ReadBearerToken extracts the token from an Authorization header value.
// It reports false unless the value is exactly the scheme "Bearer", one
// space, and a non-empty token with no further parts. The scheme match is
// case-sensitive.
func ReadBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != bearerScheme || token == "" {
		return "", false
	}
	if strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
