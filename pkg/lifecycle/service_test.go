package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/logging"
)

func newService(t *testing.T, b *ServiceBuilder) *Service {
	t.Helper()
	svc, err := b.WithLogger(logging.Discard()).Build()
	require.NoError(t, err)
	return svc
}

type transitions struct {
	mu   sync.Mutex
	seen []string
}

func (r *transitions) record(old, next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(old)+"->"+string(next))
}

func (r *transitions) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewServiceBuilder("", "1.0.0").Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)

	_, err = NewServiceBuilder("claimsapi", "").Build()
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)

	svc, err := NewServiceBuilder("claimsapi", "1.0.0").Build()
	require.NoError(t, err)
	assert.Equal(t, "claimsapi", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_StartStop(t *testing.T) {
	t.Parallel()

	var rec transitions
	var calls []string
	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0").
		WithOnStart(func(context.Context) error { calls = append(calls, "start"); return nil }).
		WithOnStop(func(context.Context) error { calls = append(calls, "stop"); return nil }).
		OnStateChange(rec.record))

	ctx := context.Background()
	testutil.AssertErrorCode(t, svc.Health(ctx), sserr.CodeDependencyUnavailable)

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateRunning, svc.State())
	require.NoError(t, svc.Health(ctx))
	info := svc.Info()
	require.NotNil(t, info.StartedAt)
	assert.Equal(t, StateRunning, info.State)

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Info().StartedAt)
	testutil.AssertErrorCode(t, svc.Health(ctx), sserr.CodeDependencyUnavailable)

	assert.Equal(t, []string{"start", "stop"}, calls)
	assert.Equal(t, []string{
		"unknown->starting",
		"starting->running",
		"running->stopping",
		"stopping->stopped",
	}, rec.list())

	// Restart from a terminal state.
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_StartHookFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code sserr.Code
	}{
		{"untyped", errors.New("address already in use"), sserr.CodeUnhandled},
		{"typed", sserr.New(sserr.CodeConfiguration, "bad listen address"), sserr.CodeConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0").
				WithOnStart(func(context.Context) error { return tt.err }))

			err := svc.Start(context.Background())
			testutil.RequireErrorCode(t, err, tt.code)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, StateFailed, svc.State())
		})
	}
}

func TestService_StopHookFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("drain timed out")
	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0").
		WithOnStop(func(context.Context) error { return boom }))

	require.NoError(t, svc.Start(context.Background()))
	err := svc.Stop(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnhandled)
	assert.Equal(t, StateFailed, svc.State())

	// Stop on a terminal service is a no-op.
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_CanceledContext(t *testing.T) {
	t.Parallel()

	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.AssertErrorCode(t, svc.Start(ctx), sserr.CodeDependencyTimeout)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_SetStateRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0"))
	err := svc.SetState(StateRunning)
	testutil.AssertErrorCode(t, err, sserr.CodeConflict)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_StateHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	var rec transitions
	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0").
		OnStateChange(func(State, State) { panic("observer bug") }).
		OnStateChange(rec.record))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	assert.Equal(t, []string{"unknown->starting", "starting->running"}, rec.list())
}

func TestService_Spans(t *testing.T) {
	rec := testutil.RecordSpans(t)

	svc := newService(t, NewServiceBuilder("claimsapi", "1.0.0"))
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	start, ok := testutil.SpanNamed(rec, "lifecycle.Start")
	require.True(t, ok)
	assert.Equal(t, codes.Ok, start.Status.Code)
	_, ok = testutil.SpanNamed(rec, "lifecycle.Stop")
	assert.True(t, ok)
}
