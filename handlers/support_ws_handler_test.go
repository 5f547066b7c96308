package handlers

import (
	"context"
	"testing"
	"time"
)

func waitForMembership(t *testing.T, room *RoomHub, sessionID string, want bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		room.mu.RLock()
		_, present := room.Clients[sessionID]
		room.mu.RUnlock()
		if present == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session %s membership never became %v", sessionID, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBroadcastDropsSaturatedSession(t *testing.T) {
	hub := NewSessionHub(nil)
	room := hub.GetOrCreateRoom("room-drop")

	ctx, cancel := context.WithCancel(context.Background())
	client := &SessionClient{
		ID:     "session-1",
		UserID: 1,
		Send:   make(chan map[string]interface{}, 1),
		rooms:  make(map[string]*RoomHub),
		ctx:    ctx,
		cancel: cancel,
	}
	client.track(room)
	room.Register <- client
	waitForMembership(t, room, client.ID, true)

	// 第一条占满缓冲，第二条触发丢弃
	hub.PublishEvent("room-drop", "new_message", map[string]interface{}{"seq": 1})
	hub.PublishEvent("room-drop", "new_message", map[string]interface{}{"seq": 2})
	waitForMembership(t, room, client.ID, false)

	if _, still := client.subscribed("room-drop"); still {
		t.Fatal("dropped session must not keep tracking the room")
	}
	select {
	case <-client.ctx.Done():
	default:
		t.Fatal("dropped session must be torn down")
	}
}
