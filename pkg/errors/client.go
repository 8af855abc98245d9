package errors

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// serverErrorMessage is the only message a caller sees for 5xx failures.
const serverErrorMessage = "An unexpected problem was encountered"

// ClientError is the client-safe rendering of a failure. Area, ID and
// UTCTime are populated for 5xx responses only so that support staff can
// correlate a report with the diagnostic log without the response leaking
// internals.
type ClientError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Area       string `json:"area,omitempty"`
	ID         string `json:"id,omitempty"`
	UTCTime    string `json:"utcTime,omitempty"`
}

// Body renders the response body.
func (c *ClientError) Body() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		// Only string fields; Marshal cannot fail here.
		return []byte(`{"code":"server_error","message":"` + serverErrorMessage + `"}`)
	}
	return data
}

// IsServerError reports a 5xx status.
func (c *ClientError) IsServerError() bool {
	return c.StatusCode >= http.StatusInternalServerError
}

// Translator converts errors into ClientErrors. Area names the API in 5xx
// bodies. NewID and Now default to uuid.NewString and time.Now.
type Translator struct {
	Area  string
	NewID func() string
	Now   func() time.Time
}

// Translate classifies err (untyped errors become CodeUnhandled) and
// returns its client rendering. It returns nil for a nil error.
func (t Translator) Translate(err error) *ClientError {
	if err == nil {
		return nil
	}
	e := FromError(err)
	status := e.HTTPStatus()
	ce := &ClientError{
		StatusCode: status,
		Code:       e.Code.ClientCode(),
	}
	if status < http.StatusInternalServerError {
		ce.Message = e.Message
		return ce
	}

	newID := t.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}
	ce.Message = serverErrorMessage
	ce.Area = t.Area
	ce.ID = newID()
	ce.UTCTime = now().UTC().Format(time.RFC3339)
	return ce
}
