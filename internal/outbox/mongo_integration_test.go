package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sagaworks/saga-engine/internal/model"
)

// TestMongoMirror_Integration exercises NewMongoMirror and its read/write
// paths against a real mongod in a disposable container, skipping if Docker
// isn't reachable from the test environment.
func TestMongoMirror_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := "mongodb://" + host + ":" + port.Port()
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	mirror, err := NewMongoMirror(ctx, Options{
		Client:   client,
		Database: "saga_engine_test",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	execID := "exec-integration-1"
	require.NoError(t, mirror.RecordCheckpoint(ctx, execID, model.Checkpoint{
		Cursor: 1, Reason: "TIMEOUT_APPROACHING", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, mirror.RecordCheckpoint(ctx, execID, model.Checkpoint{
		Cursor: 2, Reason: "STEP_COUNT", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, mirror.RecordTerminal(ctx, execID, model.StatusCompleted, "all steps succeeded"))

	recent, err := mirror.RecentCheckpoints(ctx, execID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, 2, recent[0].Cursor, "newest checkpoint sorts first")
}
