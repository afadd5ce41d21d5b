package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db/dbtest"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

func TestHub_SendToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	userID := uuid.New()
	c := &Client{ID: "c1", UserID: userID, Send: make(chan []byte, 4)}
	other := &Client{ID: "c2", UserID: uuid.New(), Send: make(chan []byte, 4)}
	hub.RegisterClient(c)
	hub.RegisterClient(other)

	waitFor(t, func() bool { return hub.Connected(userID) == 1 })

	hub.SendToUser(userID, map[string]string{"type": "ping"})

	select {
	case msg := <-c.Send:
		var got map[string]string
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		if got["type"] != "ping" {
			t.Errorf("Expected ping, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for message")
	}

	select {
	case <-other.Send:
		t.Fatal("Other user must not receive the message")
	default:
	}

	hub.UnregisterClient(c)
	waitFor(t, func() bool { return hub.Connected(userID) == 0 })
}

func TestHub_BroadcastJSON(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	a := &Client{ID: "a", UserID: uuid.New(), Send: make(chan []byte, 4)}
	b := &Client{ID: "b", UserID: uuid.New(), Send: make(chan []byte, 4)}
	stuck := &Client{ID: "stuck", UserID: uuid.New(), Send: make(chan []byte)}
	hub.RegisterClient(a)
	hub.RegisterClient(b)
	hub.RegisterClient(stuck)
	waitFor(t, func() bool { return hub.Connected(stuck.UserID) == 1 })

	hub.BroadcastJSON(Message{Kind: "announcement", Title: "Maintenance"})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.Send:
			var got Message
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatalf("Invalid payload: %v", err)
			}
			if got.Kind != "announcement" {
				t.Errorf("Expected announcement for %s, got %+v", c.ID, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for broadcast to %s", c.ID)
		}
	}
	// a client that cannot take the message is dropped
	waitFor(t, func() bool { return hub.Connected(stuck.UserID) == 0 })

	hub.BroadcastJSON(func() {})
	select {
	case <-a.Send:
		t.Fatal("Unmarshalable payload must not be sent")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_PersistsAndPushes(t *testing.T) {
	gdb := dbtest.Open(t)
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	userID := uuid.New()
	c := &Client{ID: "c1", UserID: userID, Send: make(chan []byte, 4)}
	hub.RegisterClient(c)
	waitFor(t, func() bool { return hub.Connected(userID) == 1 })

	n := NewNotifier(gdb, hub, nil, zap.NewNop())
	n.Notify(context.Background(), userID, Message{Kind: "wallet_funded", Title: "Wallet funded", Data: map[string]interface{}{"amount": "5000"}})

	var count int64
	gdb.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&count)
	if count != 1 {
		t.Fatalf("Expected 1 persisted notification, got %d", count)
	}

	select {
	case <-c.Send:
	case <-time.After(time.Second):
		t.Fatal("Expected websocket push")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}
