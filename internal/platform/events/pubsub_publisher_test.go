package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wizesale/storefront/internal/services"
)

func TestPubSubCheckoutPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "checkout-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubCheckoutPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.CheckoutEvent{
		Type:          services.CheckoutEventRedirected,
		AttemptID:     "01HZX0000000000000000000AA",
		StoreID:       42,
		PaymentMethod: "mercadopago",
		TotalToPay:    "180.00",
		ItemCount:     2,
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishCheckoutEvent(ctx, event); err != nil {
		t.Fatalf("PublishCheckoutEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.CheckoutEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.AttemptID != event.AttemptID || payload.TotalToPay != "180.00" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["storeId"]; attr != "42" {
		t.Fatalf("expected storeId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != services.CheckoutEventRedirected {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestNewPubSubCheckoutPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubCheckoutPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
