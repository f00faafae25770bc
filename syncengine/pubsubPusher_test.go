package syncengine

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakePubSub(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "pos-sync-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPubSubPusherPublishesOrderedByTenant(t *testing.T) {
	client, srv := newFakePubSub(t)
	ctx := context.Background()
	topic, err := client.CreateTopic(ctx, "sync-outbox")
	require.NoError(t, err)

	p := NewPubSubPusher(topic)
	defer p.Stop()

	msg := PushMessage{
		TenantId:       "t-1",
		DeviceId:       "dev",
		EntryId:        42,
		IdempotencyKey: "dev:42",
		EntityType:     "product",
		EntityId:       "p1",
		Operation:      "create",
		Payload:        json.RawMessage(`{"name":"tea"}`),
	}
	require.NoError(t, p.Push(ctx, msg))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "t-1", got.OrderingKey)
	assert.Equal(t, "dev:42", got.Attributes["idempotency_key"])
	assert.Equal(t, "42", got.Attributes["entry_id"])
	assert.Equal(t, "create", got.Attributes["operation"])

	var decoded PushMessage
	require.NoError(t, json.Unmarshal(got.Data, &decoded))
	assert.Equal(t, "p1", decoded.EntityId)
	assert.JSONEq(t, `{"name":"tea"}`, string(decoded.Payload))
}

func TestPubSubPusherReportsPublishFailure(t *testing.T) {
	client, _ := newFakePubSub(t)
	p := NewPubSubPusher(client.Topic("missing-topic"))
	defer p.Stop()

	err := p.Push(context.Background(), PushMessage{TenantId: "t-1", IdempotencyKey: "d:1"})
	assert.Error(t, err)
}
