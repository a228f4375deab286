package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// publisherFactory returns the publisher for a topic, or nil when the topic
// has none.
type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// pubsubPublishers adapts the shared per-topic publishers of the client.
func pubsubPublishers(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		raw := client.Publisher(topic)
		if raw == nil {
			return nil
		}
		return topicPublisher{raw}
	}
}

type topicPublisher struct {
	p *gcppubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return t.p.Publish(ctx, msg)
}
