// Package fixtures provides shared values for tests so that subjects,
// scopes and origins read the same across packages.
package fixtures

// Token contents.
const (
	Subject    = "a6b404b1-98af-41a2-8e7f-e4061dc0bf86"
	AltSubject = "77a97e5b-b748-45e5-bb6f-658e85b2df91"
	Audience   = "api.stricklysoft.test"
	Scope      = "openid profile investments"
	ReadScope  = "read"
	WriteScope = "write"
	ManagerID  = "20116"
	Role       = "user"
)

// Extra claims held outside the token.
const (
	Title  = "Regional Manager"
	Region = "USA"
)

// Browser origins.
const (
	TrustedOrigin   = "https://web.stricklysoft.test"
	UntrustedOrigin = "https://evil.example"
)

// APIName is the area reported on 5xx responses.
const APIName = "SampleApi"
