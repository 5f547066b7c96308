package services

import (
	"TripDesk/folding"
	"TripDesk/models"
	"errors"
	"testing"
	"time"
)

func setupMessageTest(t *testing.T) (*MessageService, *RoomService, *recordingPublisher, *models.User) {
	t.Helper()
	db := newTestDB(t)
	locks := NewRoomLocks()
	pub := &recordingPublisher{}
	rooms := NewRoomService(db, locks)
	rooms.SetPublisher(pub)
	messages := NewMessageService(db, locks)
	messages.SetPublisher(pub)
	user := createTestUser(t, db, "sender", models.UserTypeClient)
	return messages, rooms, pub, user
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	messages, rooms, pub, user := setupMessageTest(t)
	room, _, err := rooms.CreateAiRoom(user.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}

	var lastSeq uint64
	for i := 0; i < 5; i++ {
		msg, err := messages.Publish(room, &models.Message{
			SenderKind: models.SenderUser,
			Body:       "你好",
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if msg.Seq != lastSeq+1 {
			t.Fatalf("expected seq %d, got %d", lastSeq+1, msg.Seq)
		}
		lastSeq = msg.Seq
	}

	if got := len(pub.eventsOf(EventNewMessage)); got != 5 {
		t.Fatalf("expected 5 new_message events, got %d", got)
	}
}

func TestPublishToClosedRoomRejected(t *testing.T) {
	messages, rooms, _, user := setupMessageTest(t)
	room, _, err := rooms.CreateAiRoom(user.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}
	if err := rooms.RetireAiRoom(room.ID); err != nil {
		t.Fatalf("RetireAiRoom failed: %v", err)
	}

	retired, err := rooms.GetRoomByID(room.ID)
	if err != nil {
		t.Fatalf("GetRoomByID failed: %v", err)
	}
	_, err = messages.Publish(retired, &models.Message{SenderKind: models.SenderUser, Body: "還在嗎"})
	if !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestPublishWithStaleRoomSnapshotRejected(t *testing.T) {
	messages, rooms, _, user := setupMessageTest(t)
	room, _, err := rooms.CreateAiRoom(user.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}

	// 持有关闭前的旧快照，模拟模型调用期间房间被转人工退场
	snapshot := *room
	if err := rooms.RetireAiRoom(room.ID); err != nil {
		t.Fatalf("RetireAiRoom failed: %v", err)
	}

	_, err = messages.Publish(&snapshot, &models.Message{SenderKind: models.SenderAI, Body: "遲到的回覆"})
	if !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed on stale snapshot, got %v", err)
	}

	history, err := messages.History(room.ID, 10, 0, time.Now())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no message persisted into closed room, got %d", len(history))
	}
}

func TestMarkReadMonotonic(t *testing.T) {
	messages, rooms, pub, user := setupMessageTest(t)
	room, _, err := rooms.CreateAiRoom(user.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}

	first, err := messages.Publish(room, &models.Message{SenderKind: models.SenderAI, Body: "您好"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	second, err := messages.Publish(room, &models.Message{SenderKind: models.SenderAI, Body: "請問需要什麼協助"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	flipped, err := messages.MarkRead(room.ID, []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if len(flipped) != 2 {
		t.Fatalf("expected 2 messages flipped, got %d", len(flipped))
	}

	// 已读消息再次标记是空操作，不广播
	flipped, err = messages.MarkRead(room.ID, []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if len(flipped) != 0 {
		t.Fatalf("expected no-op on already-read ids, got %d", len(flipped))
	}
	if got := len(pub.eventsOf(EventMessagesRead)); got != 1 {
		t.Fatalf("expected 1 messages_read broadcast, got %d", got)
	}

	// read 永远不会回退
	history, err := messages.History(room.ID, 10, 0, time.Now())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for _, msg := range history {
		if !msg.Read {
			t.Fatalf("message %s reverted to unread", msg.ID)
		}
	}
}

func TestHistoryStaleFlag(t *testing.T) {
	messages, rooms, _, user := setupMessageTest(t)
	room, _, err := rooms.CreateAiRoom(user.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}

	now := time.Now()
	old := &models.Message{SenderKind: models.SenderUser, Body: "舊訊息", CreatedAt: now.Add(-folding.Window - time.Second)}
	fresh := &models.Message{SenderKind: models.SenderUser, Body: "新訊息", CreatedAt: now}
	if _, err := messages.Publish(room, old); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if _, err := messages.Publish(room, fresh); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	history, err := messages.History(room.ID, 10, 0, now)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if !history[0].Stale {
		t.Fatal("expected old message to be folded")
	}
	if history[1].Stale {
		t.Fatal("expected fresh message to stay unfolded")
	}
}
