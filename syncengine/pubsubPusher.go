package syncengine

import (
	"context"
	"strconv"

	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"cloud.google.com/go/pubsub"
)

// PubSubPusher publishes outbox entries to a topic with the tenant id as
// ordering key. A successful publish result is the confirmation.
type PubSubPusher struct {
	topic *pubsub.Topic
}

var _ Pusher = (*PubSubPusher)(nil)

// NewPubSubPusher expects a topic with message ordering enabled.
func NewPubSubPusher(topic *pubsub.Topic) *PubSubPusher {
	topic.EnableMessageOrdering = true
	return &PubSubPusher{topic: topic}
}

func (p *PubSubPusher) Push(ctx context.Context, msg PushMessage) error {
	data, err := utils.MarshalToJSON(msg)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: msg.TenantId,
		Attributes: map[string]string{
			"idempotency_key": msg.IdempotencyKey,
			"device_id":       msg.DeviceId,
			"entry_id":        strconv.FormatUint(msg.EntryId, 10),
			"operation":       msg.Operation,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(msg.TenantId)
		return err
	}
	return nil
}

// Stop flushes pending publishes.
func (p *PubSubPusher) Stop() {
	p.topic.Stop()
}
