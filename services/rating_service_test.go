package services

import (
	"errors"
	"strings"
	"testing"

	"TripDesk/models"
)

func setupRatingTest(t *testing.T) (*RatingService, *RoomService, *models.User, *models.User) {
	t.Helper()
	db := newTestDB(t)
	locks := NewRoomLocks()
	rooms := NewRoomService(db, locks)
	owner := createTestUser(t, db, "rating_owner", models.UserTypeClient)
	agent := createTestUser(t, db, "rating_agent", models.UserTypeAgent)
	return NewRatingService(db), rooms, owner, agent
}

func closedHumanRoom(t *testing.T, rooms *RoomService, owner, agent *models.User) *models.Room {
	t.Helper()
	room, err := rooms.CreateHumanRoom(owner.ID, "退款問題", models.PriorityMedium, models.RoomSourceDirect)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	if _, err := rooms.AcceptRoom(room.ID, agent); err != nil {
		t.Fatalf("failed to accept room: %v", err)
	}
	if _, err := rooms.CloseRoom(room.ID, agent); err != nil {
		t.Fatalf("failed to close room: %v", err)
	}
	return room
}

func TestRecordRating(t *testing.T) {
	ratings, rooms, owner, agent := setupRatingTest(t)
	room := closedHumanRoom(t, rooms, owner, agent)

	rating, err := ratings.RecordRating(room.ID, 4, "  服務很好  ")
	if err != nil {
		t.Fatalf("failed to record rating: %v", err)
	}
	if rating.Score != 4 {
		t.Fatalf("expected score 4, got %d", rating.Score)
	}
	if rating.Comment != "服務很好" {
		t.Fatalf("expected trimmed comment, got %q", rating.Comment)
	}

	got, err := ratings.GetRating(room.ID)
	if err != nil {
		t.Fatalf("failed to get rating: %v", err)
	}
	if got == nil || got.Score != 4 {
		t.Fatal("expected stored rating to be readable")
	}
}

func TestRecordRatingOnlyOnce(t *testing.T) {
	ratings, rooms, owner, agent := setupRatingTest(t)
	room := closedHumanRoom(t, rooms, owner, agent)

	if _, err := ratings.RecordRating(room.ID, 5, ""); err != nil {
		t.Fatalf("first rating failed: %v", err)
	}
	if _, err := ratings.RecordRating(room.ID, 1, "改主意了"); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	got, _ := ratings.GetRating(room.ID)
	if got.Score != 5 {
		t.Fatalf("first rating must stand, got score %d", got.Score)
	}
}

func TestRecordRatingValidation(t *testing.T) {
	ratings, rooms, owner, agent := setupRatingTest(t)
	room := closedHumanRoom(t, rooms, owner, agent)

	for _, score := range []int{0, 6, -1} {
		if _, err := ratings.RecordRating(room.ID, score, ""); !errors.Is(err, ErrInvalidScore) {
			t.Fatalf("score %d: expected ErrInvalidScore, got %v", score, err)
		}
	}

	long := strings.Repeat("讚", 501)
	if _, err := ratings.RecordRating(room.ID, 5, long); !errors.Is(err, ErrCommentTooLong) {
		t.Fatalf("expected ErrCommentTooLong, got %v", err)
	}

	// 恰好 500 字是合法上限
	boundary := strings.Repeat("讚", 500)
	if _, err := ratings.RecordRating(room.ID, 5, boundary); err != nil {
		t.Fatalf("500-rune comment should be accepted: %v", err)
	}
}

func TestRecordRatingRequiresClosedHumanRoom(t *testing.T) {
	ratings, rooms, owner, _ := setupRatingTest(t)

	open, err := rooms.CreateHumanRoom(owner.ID, "進行中", models.PriorityMedium, models.RoomSourceDirect)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	if _, err := ratings.RecordRating(open.ID, 5, ""); !errors.Is(err, ErrNotRatable) {
		t.Fatalf("open room: expected ErrNotRatable, got %v", err)
	}

	aiRoom, _, err := rooms.CreateAiRoom(owner.ID)
	if err != nil {
		t.Fatalf("failed to create ai room: %v", err)
	}
	if err := rooms.RetireAiRoom(aiRoom.ID); err != nil {
		t.Fatalf("failed to retire ai room: %v", err)
	}
	if _, err := ratings.RecordRating(aiRoom.ID, 5, ""); !errors.Is(err, ErrNotRatable) {
		t.Fatalf("ai room: expected ErrNotRatable, got %v", err)
	}

	if _, err := ratings.RecordRating("no-such-room", 5, ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}
