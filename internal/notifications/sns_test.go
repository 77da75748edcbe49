package notifications

import (
	"context"
	"testing"
)

func TestInMemoryNotifier_Send(t *testing.T) {
	n := NewInMemoryNotifier()

	var seen []Notification
	n.OnNotification(func(notification Notification) {
		seen = append(seen, notification)
	})

	err := n.Send(context.Background(), Notification{
		Type:     NotificationUpstreamUnreachable,
		Resource: "myres",
		Message:  "could not reach resource",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := n.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("got %d notifications", len(got))
	}
	if got[0].Type != NotificationUpstreamUnreachable || got[0].Resource != "myres" {
		t.Errorf("notification %+v", got[0])
	}
	if len(seen) != 1 {
		t.Errorf("handler called %d times", len(seen))
	}
}

func TestInMemoryNotifier_Clear(t *testing.T) {
	n := NewInMemoryNotifier()
	n.Send(context.Background(), Notification{Type: NotificationRateLimited, UserID: "alice"})
	n.Clear()
	if len(n.GetNotifications()) != 0 {
		t.Error("notifications should be empty after Clear")
	}
}
