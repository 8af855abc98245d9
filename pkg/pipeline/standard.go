package pipeline

import (
	"log/slog"
	"time"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
)

// Dependencies wires the standard chain.
type Dependencies struct {
	// Authorizer is required. Usually an [auth.AuthorizationFilter].
	Authorizer auth.Authorizer

	// Translator renders failures; its Area names the API in 5xx bodies.
	Translator sserr.Translator

	// Audit receives one record per request. Diagnostic receives failure
	// details. Both default to discarding loggers.
	Audit      *slog.Logger
	Diagnostic *slog.Logger

	CORS CORSConfig

	// RequiredScope applies to operations that do not name one.
	RequiredScope string

	// NewID generates correlation ids.
	NewID func() string

	Now func() time.Time
}

// NewStandardChain returns the scope, logging, exception, authorization
// and CORS stages in that order.
func NewStandardChain(deps Dependencies) (*Chain, error) {
	if deps.Authorizer == nil {
		return nil, sserr.New(sserr.CodeConfiguration, "pipeline: authorizer is required")
	}
	audit := deps.Audit
	if audit == nil {
		audit = logging.Discard()
	}
	diagnostic := deps.Diagnostic
	if diagnostic == nil {
		diagnostic = logging.Discard()
	}
	return NewChain(
		ScopeStage{NewID: deps.NewID},
		LoggingStage{Logger: audit, Now: deps.Now},
		ExceptionStage{Translator: deps.Translator, Logger: diagnostic},
		AuthorizationStage{Authorizer: deps.Authorizer, RequiredScope: deps.RequiredScope},
		CORSStage{Config: deps.CORS},
	), nil
}
