package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newStatusCmd(val string, err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func newStringCmd(val string, err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func newIntCmd(val int64, err error) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// ===========================================================================
// NewFromClient
// ===========================================================================

func TestNewFromClient_WithConfig(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	cfg := &Config{DB: 3}

	client := NewFromClient(m, cfg)

	assert.Same(t, cfg, client.config)
	assert.Equal(t, 3, client.dbIndex)
	assert.NotNil(t, client.tracer)
	assert.Equal(t, m, client.Client())
}

func TestNewFromClient_NilConfig(t *testing.T) {
	t.Parallel()
	client := NewFromClient(new(mockCmdable), nil)
	require.NotNil(t, client.config)
	assert.Equal(t, 0, client.dbIndex)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{URI: "http://localhost:6379"})
	testutil.RequireErrorCode(t, err, sserr.CodeConfiguration)
}

// ===========================================================================
// Commands
// ===========================================================================

func TestClient_Set(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cmdErr   error
		wantCode sserr.Code
	}{
		{name: "success"},
		{name: "server error", cmdErr: errors.New("READONLY You can't write against a read only replica"), wantCode: sserr.CodeDependency},
		{name: "deadline", cmdErr: context.DeadlineExceeded, wantCode: sserr.CodeDependencyTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := new(mockCmdable)
			m.On("Set", mock.Anything, "claims:abc", []byte(`{"a":1}`), 10*time.Minute).
				Return(newStatusCmd("OK", tt.cmdErr))

			err := NewFromClient(m, nil).Set(context.Background(), "claims:abc", []byte(`{"a":1}`), 10*time.Minute)
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				testutil.RequireErrorCode(t, err, tt.wantCode)
				assert.ErrorIs(t, err, tt.cmdErr)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestClient_Get_Success(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	m.On("Get", mock.Anything, "claims:abc").Return(newStringCmd(`{"a":1}`, nil))

	val, err := NewFromClient(m, nil).Get(context.Background(), "claims:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), val)
	m.AssertExpectations(t)
}

func TestClient_Get_MissingKeyMatchesNil(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	m.On("Get", mock.Anything, "claims:missing").Return(newStringCmd("", redis.Nil))

	val, err := NewFromClient(m, nil).Get(context.Background(), "claims:missing")
	require.Error(t, err)
	assert.Nil(t, val)
	assert.ErrorIs(t, err, Nil)
}

func TestClient_Get_Error(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	m.On("Get", mock.Anything, "claims:abc").
		Return(newStringCmd("", errors.New("LOADING Redis is loading the dataset in memory")))

	_, err := NewFromClient(m, nil).Get(context.Background(), "claims:abc")
	testutil.RequireErrorCode(t, err, sserr.CodeDependency)
	assert.NotErrorIs(t, err, Nil)
}

func TestClient_Del(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	m.On("Del", mock.Anything, []string{"k1", "k2"}).Return(newIntCmd(1, nil))

	n, err := NewFromClient(m, nil).Del(context.Background(), "k1", "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		m := new(mockCmdable)
		m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})).Return(newStatusCmd("PONG", nil))
		require.NoError(t, NewFromClient(m, nil).Health(context.Background()))
		m.AssertExpectations(t)
	})
	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		m := new(mockCmdable)
		m.On("Ping", mock.Anything).Return(newStatusCmd("", errors.New("connection refused")))
		err := NewFromClient(m, nil).Health(context.Background())
		testutil.RequireErrorCode(t, err, sserr.CodeDependencyUnavailable)
	})
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := new(mockCmdable)
	m.On("Close").Return(nil)
	require.NoError(t, NewFromClient(m, nil).Close())
	m.AssertExpectations(t)
}

// ===========================================================================
// Tracing
// ===========================================================================

func TestClient_Spans(t *testing.T) {
	exporter := testutil.RecordSpans(t)

	m := new(mockCmdable)
	m.On("Get", mock.Anything, "claims:hit").Return(newStringCmd("v", nil))
	m.On("Get", mock.Anything, "claims:miss").Return(newStringCmd("", redis.Nil))
	m.On("Set", mock.Anything, "claims:x", []byte("v"), time.Minute).
		Return(newStatusCmd("", errors.New("OOM command not allowed")))
	client := NewFromClient(m, &Config{DB: 2})

	_, _ = client.Get(context.Background(), "claims:hit")
	_, _ = client.Get(context.Background(), "claims:miss")
	_ = client.Set(context.Background(), "claims:x", []byte("v"), time.Minute)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "redis.Get", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Ok, spans[1].Status.Code, "a miss is not a failure")
	assert.Equal(t, "redis.Set", spans[2].Name)
	assert.Equal(t, codes.Error, spans[2].Status.Code)

	var statement string
	for _, kv := range spans[2].Attributes {
		if kv.Key == "db.statement" {
			statement = kv.Value.AsString()
		}
	}
	assert.Equal(t, "SET claims:x PX 60000", statement)
}

// ===========================================================================
// wrapError
// ===========================================================================

func TestWrapError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapError(nil, "unused"))

	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeDependencyTimeout},
		{"canceled", context.Canceled, sserr.CodeDependency},
		{"generic", errors.New("WRONGTYPE"), sserr.CodeDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := wrapError(tt.err, "failed")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Code)
			assert.ErrorIs(t, got, tt.err)
			assert.True(t, sserr.IsServerError(got))
		})
	}
}
