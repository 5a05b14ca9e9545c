package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/wizesale/storefront/internal/services"
)

// PubSubCheckoutPublisher announces checkout lifecycle events on a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCheckoutPublisher constructs a publisher bound to topic.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishCheckoutEvent blocks until the server acknowledges the message.
func (p *PubSubCheckoutPublisher) PublishCheckoutEvent(ctx context.Context, event services.CheckoutEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "attemptId", event.AttemptID)
	setAttr(attrs, "paymentMethod", event.PaymentMethod)
	if event.StoreID != 0 {
		attrs["storeId"] = strconv.FormatInt(event.StoreID, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Events of one attempt share an ordering key; ordering is only
		// honoured when the topic enables it.
		OrderingKey: event.AttemptID,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish checkout event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubCheckoutPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
