package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sagaworks/saga-engine/internal/model"
)

func TestMongoMirror_RecordCheckpoint(t *testing.T) {
	coll := &fakeCollection{}
	m := &MongoMirror{checkpoints: coll, terminals: &fakeCollection{}, timeout: time.Second}

	cp := model.Checkpoint{Cursor: 3, Reason: "TIMEOUT_APPROACHING", CreatedAt: time.Unix(10, 0).UTC()}
	require.NoError(t, m.RecordCheckpoint(context.Background(), "exec-1", cp))
	require.Len(t, coll.inserted, 1)

	doc, ok := coll.inserted[0].(checkpointDocument)
	require.True(t, ok)
	assert.Equal(t, "exec-1", doc.ExecutionID)
	assert.Equal(t, 3, doc.Cursor)
}

func TestMongoMirror_RecordTerminal(t *testing.T) {
	coll := &fakeCollection{}
	m := &MongoMirror{checkpoints: &fakeCollection{}, terminals: coll, timeout: time.Second}

	require.NoError(t, m.RecordTerminal(context.Background(), "exec-1", model.StatusFailed, "compensation incomplete"))
	require.Len(t, coll.inserted, 1)

	doc, ok := coll.inserted[0].(terminalDocument)
	require.True(t, ok)
	assert.Equal(t, "FAILED", doc.Status)
}

func TestMongoMirror_RecentCheckpoints_DecodesEachDocument(t *testing.T) {
	coll := &fakeCollection{
		findDocs: []checkpointDocument{
			{ExecutionID: "exec-1", Cursor: 1, CreatedAt: time.Unix(1, 0).UTC()},
			{ExecutionID: "exec-1", Cursor: 2, CreatedAt: time.Unix(2, 0).UTC()},
		},
	}
	m := &MongoMirror{checkpoints: coll, timeout: time.Second}

	cps, err := m.RecentCheckpoints(context.Background(), "exec-1", 10)
	require.NoError(t, err)
	require.Len(t, cps, 2)
}

type fakeCollection struct {
	inserted []any
	findDocs []checkpointDocument
}

func (c *fakeCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	c.inserted = append(c.inserted, document)
	return &mongodriver.InsertOneResult{InsertedID: bson.NewObjectID()}, nil
}

func (c *fakeCollection) Find(context.Context, any, ...options.Lister[options.FindOptions]) (cursor, error) {
	return &fakeCursor{docs: c.findDocs}, nil
}

func (c *fakeCollection) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "", nil
}

type fakeCursor struct {
	docs []checkpointDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	p, ok := val.(*checkpointDocument)
	if ok && c.pos > 0 && c.pos <= len(c.docs) {
		*p = c.docs[c.pos-1]
	}
	return nil
}

func (c *fakeCursor) Err() error               { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }
