package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// DefaultJWKSFetchTimeout bounds a single key set download.
const DefaultJWKSFetchTimeout = 10 * time.Second

// maxJWKSSize caps the key set response body.
const maxJWKSSize = 1 << 20

// HTTPClient is the subset of *http.Client used for key set downloads.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyRetrieverConfig configures a [KeyRetriever].
type KeyRetrieverConfig struct {
	// JWKSURL is the authorization server's key set endpoint. Required.
	JWKSURL string

	// HTTPClient performs downloads. Defaults to http.DefaultClient.
	HTTPClient HTTPClient

	// FetchTimeout bounds each download. Defaults to
	// [DefaultJWKSFetchTimeout].
	FetchTimeout time.Duration
}

// KeyRetriever resolves token signing keys by key id from a JSON Web Key
// Set. The set is downloaded on first use and downloaded again, once,
// whenever a key id is not in the current set, which picks up key
// rotation without a refresh schedule.
//
// KeyRetriever is safe for concurrent use. Concurrent misses share one
// download.
type KeyRetriever struct {
	url     string
	client  HTTPClient
	timeout time.Duration
	tracer  trace.Tracer

	group singleflight.Group
	mu    sync.RWMutex
	keys  map[string]crypto.PublicKey
}

// NewKeyRetriever returns a KeyRetriever for cfg. No request is made
// until the first call to Key.
func NewKeyRetriever(cfg KeyRetrieverConfig) (*KeyRetriever, error) {
	if cfg.JWKSURL == "" {
		return nil, sserr.New(sserr.CodeConfiguration, "auth: JWKS URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultJWKSFetchTimeout
	}
	return &KeyRetriever{
		url:     cfg.JWKSURL,
		client:  client,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Key returns the public key published under kid.
//
// A kid missing from the cached set triggers exactly one download. If the
// kid is still unknown afterwards the token cannot be trusted and an
// InvalidToken error is returned. Download and parse failures are
// reported as MetadataUnavailable.
func (r *KeyRetriever) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	r.mu.RLock()
	key, ok := r.keys[kid]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}

	keys, err := r.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, sserr.InvalidToken(fmt.Errorf("auth: key id %q is not in the key set", kid)).
		WithDetail("reason", "unknown_kid")
}

// refresh downloads the key set and swaps it in. The shared download is
// detached from the caller that started it; each caller stops waiting
// only when its own ctx is done.
func (r *KeyRetriever) refresh(ctx context.Context) (map[string]crypto.PublicKey, error) {
	ch := r.group.DoChan("jwks", func() (any, error) {
		keys, err := r.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.keys = keys
		r.mu.Unlock()
		return keys, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]crypto.PublicKey), nil
	case <-ctx.Done():
		return nil, sserr.Wrap(context.Cause(ctx), sserr.CodeMetadataUnavailable,
			"auth: request ended while waiting for token signing keys").
			WithDetail("jwks_url", r.url)
	}
}

func (r *KeyRetriever) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.FetchJWKS")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks_url", r.url))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	keys, err := r.download(ctx)
	if err != nil {
		err = sserr.Wrap(err, sserr.CodeMetadataUnavailable, "auth: token signing keys could not be downloaded").
			WithDetail("jwks_url", r.url)
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("auth.jwks_key_count", len(keys)))
	return keys, nil
}

func (r *KeyRetriever) download(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}
	return parseJWKS(body)
}

// parseJWKS decodes a key set document. Keys are decoded one at a time so
// that a single malformed or unsupported entry does not hide the others.
// Entries without a kid, or published for a use other than signing, are
// ignored. Only public halves are kept.
func parseJWKS(body []byte) (map[string]crypto.PublicKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("auth: JWKS document has no keys member")
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			continue
		}
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub := jwk.Public()
		if !pub.Valid() {
			continue
		}
		keys[jwk.KeyID] = pub.Key
	}
	return keys, nil
}
