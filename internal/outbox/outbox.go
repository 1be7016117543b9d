// Package outbox mirrors checkpoints and terminal execution events into
// MongoDB as a secondary, queryable record independent of the Redis-backed
// primary store — an operator investigating a stuck execution can inspect
// history here even if the live state document has already expired or been
// overwritten. Grounded on features/runlog/mongo's client/store split in the
// teacher, generalized from an append-only run event log to a checkpoint and
// execution-history mirror collection, and on the same collection interface
// abstraction the teacher uses to keep its Mongo client unit-testable
// without a live server.
package outbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/sagaworks/saga-engine/internal/model"
)

// Mirror records durable history for executions. Implemented by
// *MongoMirror in production; a checkpoint.Manager built without
// checkpoint.WithMirror records nothing.
type Mirror interface {
	RecordCheckpoint(ctx context.Context, executionID string, cp model.Checkpoint) error
	RecordTerminal(ctx context.Context, executionID string, status model.ExecutionStatus, summary string) error
}

type checkpointDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	ExecutionID string        `bson:"execution_id"`
	Cursor      int           `bson:"cursor"`
	Reason      string        `bson:"reason"`
	TraceID     string        `bson:"trace_id,omitempty"`
	CreatedAt   time.Time     `bson:"created_at"`
}

type terminalDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	ExecutionID string        `bson:"execution_id"`
	Status      string        `bson:"status"`
	Summary     string        `bson:"summary,omitempty"`
	RecordedAt  time.Time     `bson:"recorded_at"`
}

// collection is the subset of *mongo.Collection the mirror needs, narrowed
// to an interface so it can be driven by a fake in tests.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// MongoMirror is the MongoDB-backed Mirror.
type MongoMirror struct {
	client      *mongodriver.Client
	checkpoints collection
	terminals   collection
	timeout     time.Duration
}

// Options configures a MongoMirror.
type Options struct {
	Client                *mongodriver.Client
	Database              string
	CheckpointsCollection string
	TerminalsCollection   string
	Timeout               time.Duration
}

const (
	defaultCheckpointsCollection = "saga_checkpoints"
	defaultTerminalsCollection   = "saga_terminal_events"
	defaultTimeout               = 5 * time.Second
)

// NewMongoMirror constructs a MongoMirror and ensures its indexes exist.
func NewMongoMirror(ctx context.Context, opts Options) (*MongoMirror, error) {
	if opts.Client == nil {
		return nil, errors.New("outbox: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("outbox: database name is required")
	}
	checkpointsColl := opts.CheckpointsCollection
	if checkpointsColl == "" {
		checkpointsColl = defaultCheckpointsCollection
	}
	terminalsColl := opts.TerminalsCollection
	if terminalsColl == "" {
		terminalsColl = defaultTerminalsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	m := &MongoMirror{
		client:      opts.Client,
		checkpoints: mongoCollection{coll: db.Collection(checkpointsColl)},
		terminals:   mongoCollection{coll: db.Collection(terminalsColl)},
		timeout:     timeout,
	}
	if err := ensureIndexes(ctx, m, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

func ensureIndexes(ctx context.Context, m *MongoMirror, timeout time.Duration) error {
	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := m.checkpoints.Indexes().CreateOne(idxCtx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "execution_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := m.terminals.Indexes().CreateOne(idxCtx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "execution_id", Value: 1}},
	})
	return err
}

// Ping implements a health.Pinger-shaped check, mirroring the convention the
// teacher's Mongo clients expose for readiness probes.
func (m *MongoMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// RecordCheckpoint appends a checkpoint record.
func (m *MongoMirror) RecordCheckpoint(ctx context.Context, executionID string, cp model.Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.checkpoints.InsertOne(ctx, checkpointDocument{
		ExecutionID: executionID,
		Cursor:      cp.Cursor,
		Reason:      cp.Reason,
		TraceID:     cp.TraceID,
		CreatedAt:   cp.CreatedAt,
	})
	return err
}

// RecordTerminal appends a terminal-status record.
func (m *MongoMirror) RecordTerminal(ctx context.Context, executionID string, status model.ExecutionStatus, summary string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.terminals.InsertOne(ctx, terminalDocument{
		ExecutionID: executionID,
		Status:      string(status),
		Summary:     summary,
		RecordedAt:  time.Now().UTC(),
	})
	return err
}

// RecentCheckpoints returns the most recent checkpoints for executionID,
// newest first, for an operator inspecting a stuck execution.
func (m *MongoMirror) RecentCheckpoints(ctx context.Context, executionID string, limit int) ([]model.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	cur, err := m.checkpoints.Find(ctx, bson.M{"execution_id": executionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.Checkpoint
	for cur.Next(ctx) {
		var doc checkpointDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, model.Checkpoint{
			Cursor:    doc.Cursor,
			Reason:    doc.Reason,
			TraceID:   doc.TraceID,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, cur.Err()
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}

var _ Mirror = (*MongoMirror)(nil)
