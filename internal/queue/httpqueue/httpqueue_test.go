package httpqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/queue"
)

func TestBackendEnqueue_SignsAndDelivers(t *testing.T) {
	secret := []byte("top-secret")
	var received queue.Job

	server := httptest.NewServer(Handler(secret, nil, func(ctx context.Context, job queue.Job) error {
		received = job
		return nil
	}))
	defer server.Close()

	backend := New(server.URL, secret)
	job := queue.Job{ExecutionID: "exec-1", SegmentNumber: 2, Reason: "step success"}
	require.NoError(t, backend.Enqueue(context.Background(), job))
	assert.Equal(t, "exec-1", received.ExecutionID)
	assert.Equal(t, 2, received.SegmentNumber)
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	secret := []byte("top-secret")
	called := false
	server := httptest.NewServer(Handler(secret, nil, func(context.Context, queue.Job) error {
		called = true
		return nil
	}))
	defer server.Close()

	body, err := json.Marshal(queue.Job{ExecutionID: "exec-2"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(signatureHeader, "not-a-real-signature")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, called)
}

func TestBackendEnqueue_RespectsNotBefore(t *testing.T) {
	secret := []byte("top-secret")
	var deliveredAt time.Time
	server := httptest.NewServer(Handler(secret, nil, func(context.Context, queue.Job) error {
		deliveredAt = time.Now()
		return nil
	}))
	defer server.Close()

	backend := New(server.URL, secret)
	notBefore := time.Now().Add(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, backend.Enqueue(context.Background(), queue.Job{ExecutionID: "exec-3", NotBefore: notBefore}))
	assert.True(t, deliveredAt.Sub(start) >= 90*time.Millisecond)
}

func TestVerify(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"execution_id":"exec-4"}`)
	sig := sign(secret, body)
	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify(secret, body, "deadbeef"))
}
