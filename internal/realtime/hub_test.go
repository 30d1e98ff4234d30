package realtime

import (
	"testing"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

func hubMessage(groupID uuid.UUID, content string) *models.Message {
	return &models.Message{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		Content:    content,
		SentAt:     models.JSONTime(time.Now()),
		SenderKind: models.SenderKindAnonymous,
		DeviceID:   uuid.New().String(),
		Kind:       models.MessageKindText,
	}
}

func TestHubDeliversToGroupSubscribers(t *testing.T) {
	hub := NewHub()
	groupA := uuid.New()
	groupB := uuid.New()

	subA := hub.Subscribe(groupA)
	defer subA.Close()
	subB := hub.Subscribe(groupB)
	defer subB.Close()

	msg := hubMessage(groupA, "hello group a")
	hub.PublishInsert(msg)

	select {
	case got := <-subA.Events():
		if got.ID != msg.ID {
			t.Errorf("delivered message id = %s, want %s", got.ID, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber for the publishing group received nothing")
	}

	select {
	case got := <-subB.Events():
		t.Fatalf("subscriber for another group received message %s", got.ID)
	default:
	}
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := NewHub()
	groupID := uuid.New()
	sub := hub.Subscribe(groupID)
	defer sub.Close()

	first := hubMessage(groupID, "first")
	second := hubMessage(groupID, "second")
	hub.PublishInsert(first)
	hub.PublishInsert(second)

	for _, want := range []*models.Message{first, second} {
		select {
		case got := <-sub.Events():
			if got.ID != want.ID {
				t.Fatalf("out of order: got %s, want %s", got.ID, want.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published message")
		}
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := NewHub()
	groupID := uuid.New()
	sub := hub.Subscribe(groupID)

	sub.Close()
	// Double close is a no-op.
	sub.Close()

	if _, open := <-sub.Events(); open {
		t.Fatal("events channel should be closed after Close")
	}

	// Publishing after close must not panic or block.
	hub.PublishInsert(hubMessage(groupID, "after close"))

	if count := hub.SubscriberCount(groupID); count != 0 {
		t.Errorf("SubscriberCount = %d after close, want 0", count)
	}
}

func TestHubDropsWhenSubscriberLagging(t *testing.T) {
	hub := NewHub()
	groupID := uuid.New()
	sub := hub.Subscribe(groupID)
	defer sub.Close()

	// Overfill the buffer without draining; publishing must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer+10; i++ {
			hub.PublishInsert(hubMessage(groupID, "flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishInsert blocked on a lagging subscriber")
	}

	if got := len(sub.Events()); got != subscriptionBuffer {
		t.Errorf("buffered events = %d, want the full buffer of %d", got, subscriptionBuffer)
	}
}

func TestHubSubscriberCount(t *testing.T) {
	hub := NewHub()
	groupID := uuid.New()

	if count := hub.SubscriberCount(groupID); count != 0 {
		t.Fatalf("fresh hub SubscriberCount = %d, want 0", count)
	}

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = hub.Subscribe(groupID)
	}
	if count := hub.SubscriberCount(groupID); count != 3 {
		t.Errorf("SubscriberCount = %d, want 3", count)
	}
	for _, sub := range subs {
		sub.Close()
	}
	if count := hub.SubscriberCount(groupID); count != 0 {
		t.Errorf("SubscriberCount after closing all = %d, want 0", count)
	}
}
