package temporalqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"

	"github.com/sagaworks/saga-engine/internal/queue"
)

func TestMapSignalError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantErr error
	}{
		{name: "nil", err: nil, wantNil: true},
		{
			name:    "not found maps to workflow gone",
			err:     serviceerror.NewNotFound("workflow not found"),
			wantErr: queue.ErrExecutionWorkflowGone,
		},
		{
			name:    "failed precondition maps to workflow gone",
			err:     serviceerror.NewFailedPrecondition("workflow execution already completed"),
			wantErr: queue.ErrExecutionWorkflowGone,
		},
		{
			name:    "unknown error does not map to workflow gone",
			err:     errors.New("connection refused"),
			wantErr: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mapSignalError("saga-exec-1", tc.err)
			if tc.wantNil {
				require.NoError(t, got)
				return
			}
			require.Error(t, got)
			if tc.wantErr != nil {
				require.ErrorIs(t, got, tc.wantErr)
			} else {
				require.NotErrorIs(t, got, queue.ErrExecutionWorkflowGone)
			}
		})
	}
}
