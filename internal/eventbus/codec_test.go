package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	cases := []Event{
		NewStepStarted("exec1", "s1", "http.get", 2, now),
		NewStepCompleted("exec1", "s1", 250, 1, now),
		NewStepFailed("exec1", "s1", "TECHNICAL_ERROR", "timeout", now),
		NewCheckpointed("exec1", 3, "TIMEOUT_APPROACHING", now),
		NewFailoverPolicyTriggered("exec1", "s1", "retry-then-compensate", "compensate", now),
		NewAutomaticReplanTriggered("exec1", "s1", "plan-2", "plan-1", now),
		NewCompensationExecuted("exec1", "s1", true, false, now),
		NewExecutionCompleted("exec1", now),
		NewExecutionFailed("exec1", "compensation exhausted", now),
		NewExecutionCancelled("exec1", "user requested", now),
		NewMovedToDLQ("exec1", true, now),
	}

	for _, original := range cases {
		raw, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(raw)
		require.NoError(t, err)

		assert.Equal(t, original.Type(), decoded.Type())
		assert.Equal(t, original.ExecutionID(), decoded.ExecutionID())
		assert.Equal(t, original.OccurredAt(), decoded.OccurredAt())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"not_a_real_event","execution_id":"exec1"}`))
	assert.Error(t, err)
}
