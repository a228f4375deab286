// Package notifications hands user-facing messages to the external delivery
// service over Pub/Sub. Delivery mechanics (email, push) live outside.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

type Kind string

const (
	KindOrderPlaced       Kind = "order_placed"
	KindOrderCancelled    Kind = "order_cancelled"
	KindDeliveryRequested Kind = "delivery_requested"
	KindDeliveryClaimed   Kind = "delivery_claimed"
	KindOfferReceived     Kind = "offer_received"
	KindOfferResponded    Kind = "offer_responded"
	KindPaymentFailed     Kind = "payment_failed"
)

// Message is one notification addressed to one or more users.
type Message struct {
	Kind       Kind              `json:"kind"`
	Recipients []uuid.UUID       `json:"recipients"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

// Notifier is what domain services depend on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Sender moves a serialized message onto the transport.
type Sender interface {
	Send(ctx context.Context, data []byte, attrs map[string]string) error
}

type Dispatcher struct {
	sender Sender
	logg   *logger.Logger
	now    func() time.Time
}

// NewDispatcher builds a dispatcher. A nil sender yields a dispatcher that
// only logs, which is how local environments without Pub/Sub run.
func NewDispatcher(sender Sender, logg *logger.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logg: logg, now: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	if msg.Kind == "" {
		return errors.New("notification kind required")
	}
	if len(msg.Recipients) == 0 {
		return nil
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = d.now().UTC()
	}

	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification_kind": string(msg.Kind),
		"recipients":        len(msg.Recipients),
	})
	if d.sender == nil {
		d.logg.Info(ctx, "notification dropped: no sender configured")
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.sender.Send(ctx, data, map[string]string{"kind": string(msg.Kind)}); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	d.logg.Debug(ctx, "notification sent")
	return nil
}

// Deliver sends messages one at a time after a commit. Failures are logged and
// never returned; the state change they describe already happened.
func Deliver(ctx context.Context, n Notifier, logg *logger.Logger, msgs ...Message) {
	if n == nil {
		return
	}
	for _, msg := range msgs {
		if err := n.Notify(ctx, msg); err != nil {
			logg.Error(logg.WithField(ctx, "notification_kind", string(msg.Kind)), "notification failed", err)
		}
	}
}

type pubsubSender struct {
	publisher *pubsub.Publisher
}

// NewPubSubSender publishes notifications on the given topic publisher.
func NewPubSubSender(publisher *pubsub.Publisher) Sender {
	if publisher == nil {
		return nil
	}
	return &pubsubSender{publisher: publisher}
}

func (s *pubsubSender) Send(ctx context.Context, data []byte, attrs map[string]string) error {
	result := s.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err := result.Get(ctx)
	return err
}
