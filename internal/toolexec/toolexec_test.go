package toolexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/retry"
)

func onceOnly() retry.Config {
	cfg := retry.DefaultToolConfig()
	cfg.MaxAttempts = 1
	return cfg
}

func TestExecutor_LocalToolSuccess(t *testing.T) {
	reg := NewLocalRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"status": 200}, nil
	}, nil))

	exec := New(reg)
	result, err := exec.Execute(context.Background(), "http.get", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 200, result.Output["status"])
}

func TestExecutor_ValidatesOutputSchema(t *testing.T) {
	schema := []byte(`{"type":"object","required":["status"],"properties":{"status":{"type":"integer"}}}`)
	reg := NewLocalRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"bogus": "field"}, nil
	}, schema))

	exec := New(reg)
	_, err := exec.Execute(context.Background(), "http.get", nil, time.Second)
	require.Error(t, err)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindValidation, te.Kind)
}

func TestExecutor_RetriesTechnicalErrors(t *testing.T) {
	attempts := 0
	reg := NewLocalRegistry()
	require.NoError(t, reg.Register("flaky.tool", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		attempts++
		if attempts < 2 {
			return nil, &Error{Kind: KindTechnical, Message: "connection reset"}
		}
		return map[string]any{"ok": true}, nil
	}, nil))

	exec := New(reg)
	result, err := exec.Execute(context.Background(), "flaky.tool", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
}

func TestExecutor_DoesNotRetryBusinessErrors(t *testing.T) {
	attempts := 0
	reg := NewLocalRegistry()
	require.NoError(t, reg.Register("biz.tool", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		attempts++
		return nil, &Error{Kind: KindBusiness, Message: "insufficient funds"}
	}, nil))

	exec := New(reg)
	_, err := exec.Execute(context.Background(), "biz.tool", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutor_UnknownToolReturnsNotFound(t *testing.T) {
	exec := New(NewLocalRegistry())
	_, err := exec.Execute(context.Background(), "missing.tool", nil, time.Second)
	require.Error(t, err)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindNotFound, te.Kind)
}

func TestExecutor_TimeoutClassifiedAsTimeout(t *testing.T) {
	reg := NewLocalRegistry()
	require.NoError(t, reg.Register("slow.tool", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil))

	exec := New(reg, WithRetryConfig(onceOnly()))
	_, err := exec.Execute(context.Background(), "slow.tool", nil, 10*time.Millisecond)
	require.Error(t, err)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindTimeout, te.Kind)
}
