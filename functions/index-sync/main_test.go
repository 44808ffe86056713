package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/inmemory"
	"github.com/letmevibethatforyou/recordx/internal/ddb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *inmemory.Store) {
	t.Helper()
	store := inmemory.New()
	pool := recordx.NewConnectionPool(store.Dial)
	t.Cleanup(func() { pool.Close(context.Background()) })
	return NewHandler("records", pool), store
}

func decodeEvent(t *testing.T, data string) ddb.DynamoDBEvent {
	t.Helper()
	var e ddb.DynamoDBEvent
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	return e
}

const insertEvent = `{
	"Records": [
		{
			"eventID": "1",
			"eventName": "INSERT",
			"dynamodb": {
				"Keys": {"pk": {"S": "a1"}, "sk": {"S": "posts"}},
				"NewImage": {
					"pk": {"S": "a1"},
					"sk": {"S": "posts"},
					"object": {"M": {"subject": {"S": "Hello"}, "views": {"N": "3"}}}
				},
				"StreamViewType": "NEW_IMAGE"
			}
		},
		{
			"eventID": "2",
			"eventName": "MODIFY",
			"dynamodb": {
				"Keys": {"pk": {"S": "c1"}, "sk": {"S": "vehicles/car"}},
				"NewImage": {
					"pk": {"S": "c1"},
					"sk": {"S": "vehicles/car"},
					"object": {"M": {"make": {"S": "Honda"}}}
				},
				"StreamViewType": "NEW_IMAGE"
			}
		}
	]
}`

func TestHandleDynamoDBEvent_Upsert(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHandler(t)

	require.NoError(t, h.HandleDynamoDBEvent(ctx, decodeEvent(t, insertEvent)))

	assert.Equal(t, 1, store.Size("posts", "post"))
	assert.Equal(t, 1, store.Size("vehicles", "car"))

	posts := h.model(ddb.Record{Target: "posts"})
	assert.Equal(t, "Post", posts.Name())

	r, err := posts.Find(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", r.Get("subject"))

	// Replaying the same event replaces rather than duplicates.
	require.NoError(t, h.HandleDynamoDBEvent(ctx, decodeEvent(t, insertEvent)))
	assert.Equal(t, 1, store.Size("posts", "post"))
}

func TestHandleDynamoDBEvent_Remove(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHandler(t)
	require.NoError(t, h.HandleDynamoDBEvent(ctx, decodeEvent(t, insertEvent)))

	remove := `{
		"Records": [
			{
				"eventID": "3",
				"eventName": "REMOVE",
				"dynamodb": {"Keys": {"pk": {"S": "a1"}, "sk": {"S": "posts"}}, "StreamViewType": "KEYS_ONLY"}
			},
			{
				"eventID": "4",
				"eventName": "REMOVE",
				"dynamodb": {"Keys": {"pk": {"S": "gone"}, "sk": {"S": "posts"}}, "StreamViewType": "KEYS_ONLY"}
			}
		]
	}`
	require.NoError(t, h.HandleDynamoDBEvent(ctx, decodeEvent(t, remove)))
	assert.Equal(t, 0, store.Size("posts", "post"))
	assert.Equal(t, 1, store.Size("vehicles", "car"))
}

func TestHandleDynamoDBEvent_SkipsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHandler(t)

	event := `{
		"Records": [
			{
				"eventName": "INSERT",
				"dynamodb": {"Keys": {"pk": {"S": "x"}}, "StreamViewType": "KEYS_ONLY"}
			},
			{
				"eventName": "INSERT",
				"dynamodb": {"NewImage": {"pk": {"S": "x"}, "object": {"M": {}}}}
			},
			{
				"eventName": "INSERT",
				"dynamodb": {"NewImage": {"pk": {"S": "x"}, "sk": {"S": "posts"}}}
			},
			{
				"eventName": "REMOVE",
				"dynamodb": {"Keys": {"sk": {"S": "posts"}}}
			},
			{
				"eventName": "UNKNOWN",
				"dynamodb": {}
			}
		]
	}`
	require.NoError(t, h.HandleDynamoDBEvent(ctx, decodeEvent(t, event)))
	assert.Empty(t, store.Indices())
}

func TestHandleUpsert_InvalidRecordSkipped(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHandler(t)

	m := h.model(ddb.Record{Target: "posts"})
	m.Validates(recordx.PresenceOf("subject"))

	err := h.handleUpsert(ctx, ddb.Record{ID: "a1", Target: "posts", Object: map[string]any{"views": 1}})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Size("posts", "post"))
}

func TestModelCache(t *testing.T) {
	h, _ := newTestHandler(t)

	a := h.model(ddb.Record{Target: "vehicles/car"})
	b := h.model(ddb.Record{Target: "vehicles/car"})
	c := h.model(ddb.Record{Target: "vehicles"})

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "car", a.Mapping().TypeName())
	assert.Equal(t, "vehicle", c.Mapping().TypeName())
}
