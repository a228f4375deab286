package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

type recordingSender struct {
	sent  [][]byte
	attrs []map[string]string
	err   error
}

func (r *recordingSender) Send(_ context.Context, data []byte, attrs map[string]string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, data)
	r.attrs = append(r.attrs, attrs)
	return nil
}

func TestNotifySerializesMessage(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, logger.Nop())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	user := uuid.New()

	err := d.Notify(context.Background(), Message{
		Kind:       KindOfferReceived,
		Recipients: []uuid.UUID{user},
		Title:      "New offer",
		Data:       map[string]string{"offer_id": "abc"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	if sender.attrs[0]["kind"] != string(KindOfferReceived) {
		t.Fatalf("unexpected attributes %v", sender.attrs[0])
	}
	var decoded Message
	if err := json.Unmarshal(sender.sent[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Recipients[0] != user || !decoded.SentAt.Equal(fixed) {
		t.Fatalf("unexpected message %+v", decoded)
	}
}

func TestNotifyWithoutRecipientsIsNoop(t *testing.T) {
	sender := &recordingSender{}
	if err := NewDispatcher(sender, logger.Nop()).Notify(context.Background(), Message{Kind: KindOrderPlaced}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestNotifyRequiresKind(t *testing.T) {
	if err := NewDispatcher(nil, logger.Nop()).Notify(context.Background(), Message{Recipients: []uuid.UUID{uuid.New()}}); err == nil {
		t.Fatalf("expected error for missing kind")
	}
}

func TestNotifyWithoutSenderOnlyLogs(t *testing.T) {
	if err := NewDispatcher(nil, logger.Nop()).Notify(context.Background(), Message{Kind: KindOrderPlaced, Recipients: []uuid.UUID{uuid.New()}}); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestDeliverSwallowsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("topic unavailable")}
	d := NewDispatcher(sender, logger.Nop())

	Deliver(context.Background(), d, logger.Nop(),
		Message{Kind: KindOrderPlaced, Recipients: []uuid.UUID{uuid.New()}},
		Message{Kind: KindDeliveryRequested, Recipients: []uuid.UUID{uuid.New()}},
	)
}

func TestNewPubSubSenderNilPublisher(t *testing.T) {
	if NewPubSubSender(nil) != nil {
		t.Fatalf("expected nil sender for nil publisher")
	}
}
