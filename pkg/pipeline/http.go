package pipeline

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// MaxBodyBytes caps request bodies read by [HTTPHandler].
const MaxBodyBytes = 1 << 20

// HTTPHandler adapts op behind chain to net/http. Path parameters are
// taken from the chi route context. A body that cannot be read fails the
// operation with a validation error, after authorization has run.
func HTTPHandler(chain *Chain, op Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Method:         r.Method,
			Path:           r.URL.Path,
			Headers:        r.Header.Clone(),
			PathParameters: pathParameters(r),
		}

		invoked := op
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			invoked.Handler = func(context.Context, *Request) (*Response, error) {
				return nil, sserr.Wrap(err, sserr.CodeValidation, "Request body could not be read")
			}
		}
		req.Body = body

		writeResponse(w, chain.Invoke(r.Context(), invoked, req))
	})
}

func pathParameters(r *http.Request) map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for k, v := range resp.Headers {
		h[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
