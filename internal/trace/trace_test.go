package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHeaders_OmitsEmptyFields(t *testing.T) {
	headers := ToHeaders(Context{TraceParent: "00-abc-def-01", CorrelationID: "exec-1"})
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "exec-1", headers["x-correlation-id"])
	_, hasState := headers["tracestate"]
	assert.False(t, hasState)
}

func TestFromHeaders_RoundTripsToHeaders(t *testing.T) {
	original := map[string]string{
		"traceparent":      "00-abc-def-01",
		"tracestate":       "vendor=1",
		"baggage":          "k=v",
		"x-correlation-id": "exec-1",
	}
	tc := FromHeaders(func(key string) string { return original[key] })
	assert.Equal(t, "00-abc-def-01", tc.TraceParent)
	assert.Equal(t, "vendor=1", tc.TraceState)
	assert.Equal(t, "k=v", tc.Baggage)
	assert.Equal(t, "exec-1", tc.CorrelationID)
}

func TestWithContext_NoopWhenEmpty(t *testing.T) {
	ctx := context.Background()
	out := WithContext(ctx, Context{})
	assert.Equal(t, ctx, out)
}

func TestTraceID_EmptyWithoutActiveSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}
