package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"TripDesk/config"
	"TripDesk/models"
	"TripDesk/services"

	"github.com/labstack/echo/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAIChatTest(t *testing.T) (*AIChatHandler, *services.RoomService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	locks := services.NewRoomLocks()
	rooms := services.NewRoomService(db, locks)
	messages := services.NewMessageService(db, locks)
	transfers := services.NewTransferService(db, rooms, messages)
	ai := services.NewAIService(&config.AIConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1})
	return NewAIChatHandler(ai, rooms, messages, transfers), rooms, db
}

func newAIChatContext(t *testing.T, user *models.User, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai-chat/messages", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", user)
	return c, rec
}

func TestSendMessageRejectsForeignRoom(t *testing.T) {
	handler, rooms, db := setupAIChatTest(t)

	victim := &models.User{Email: "victim@example.com", Username: "victim", Type: models.UserTypeClient}
	attacker := &models.User{Email: "attacker@example.com", Username: "attacker", Type: models.UserTypeClient}
	for _, u := range []*models.User{victim, attacker} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
	}

	victimRoom, _, err := rooms.CreateAiRoom(victim.ID)
	if err != nil {
		t.Fatalf("CreateAiRoom failed: %v", err)
	}

	body := fmt.Sprintf(`{"room_id":%q,"message":"插隊"}`, victimRoom.ID)
	c, rec := newAIChatContext(t, attacker, body)
	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign room id, got %d", rec.Code)
	}
}
