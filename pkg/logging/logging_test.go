package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		records = append(records, rec)
	}
	return records
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

func TestNew_FiltersByLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("dropped")
	logger.Warn("kept", "n", 1)

	records := decode(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
	assert.Equal(t, "WARN", records[0]["level"])
	assert.Equal(t, 1.0, records[0]["n"])
}

func TestContextAttrsAreAdded(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug).With("service", "claimsapi")

	ctx := WithAttrs(context.Background(), slog.String("correlation_id", "c-1"))
	ctx = WithAttrs(ctx, slog.String("operation", "GetUserInfo"))
	logger.InfoContext(ctx, "with context")
	logger.Info("without context")

	records := decode(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "c-1", records[0]["correlation_id"])
	assert.Equal(t, "GetUserInfo", records[0]["operation"])
	assert.Equal(t, "claimsapi", records[0]["service"])
	assert.NotContains(t, records[1], "correlation_id")
}

func TestWithAttrs_DoesNotLeakBetweenBranches(t *testing.T) {
	t.Parallel()
	base := WithAttrs(context.Background(), slog.String("a", "1"))
	left := WithAttrs(base, slog.String("b", "2"))
	right := WithAttrs(base, slog.String("c", "3"))

	assert.Len(t, Attrs(base), 1)
	assert.Equal(t, "b", Attrs(left)[1].Key)
	assert.Equal(t, "c", Attrs(right)[1].Key)
	assert.Equal(t, base, WithAttrs(base))
}

func TestContextHandler_WithGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).WithGroup("req")

	logger.InfoContext(WithAttrs(context.Background(), slog.String("id", "x")), "grouped")

	records := decode(t, &buf)
	require.Len(t, records, 1)
	group, ok := records[0]["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", group["id"])
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
