package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

func TestDiscoverJWKSURL(t *testing.T) {
	t.Parallel()
	issuer := testutil.NewTokenIssuer(t)

	url, err := DiscoverJWKSURL(context.Background(), issuer.Issuer(), issuer.Client())
	require.NoError(t, err)
	assert.Equal(t, issuer.JWKSURL(), url)
}

func TestDiscoverJWKSURL_IssuerMismatch(t *testing.T) {
	t.Parallel()
	issuer := testutil.NewTokenIssuer(t)

	_, err := DiscoverJWKSURL(context.Background(), issuer.Issuer()+"/", issuer.Client())
	testutil.RequireErrorCode(t, err, sserr.CodeMetadataUnavailable)
}

func TestDiscoverJWKSURL_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.NotFound(w, nil) },
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("{"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := DiscoverJWKSURL(context.Background(), srv.URL, srv.Client())
			testutil.RequireErrorCode(t, err, sserr.CodeMetadataUnavailable)
			e, ok := sserr.AsError(err)
			require.True(t, ok)
			issuerDetail, ok := e.Detail("issuer")
			require.True(t, ok)
			assert.Equal(t, srv.URL, issuerDetail)
		})
	}
}

func TestDiscoverJWKSURL_MissingJWKSURI(t *testing.T) {
	t.Parallel()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"` + srv.URL + `"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := DiscoverJWKSURL(context.Background(), srv.URL, srv.Client())
	testutil.RequireErrorCode(t, err, sserr.CodeMetadataUnavailable)
}
