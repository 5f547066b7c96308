package handlers

import (
	"TripDesk/models"
	"TripDesk/redis"
	"TripDesk/services"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type RoomHandler struct {
	rooms    *services.RoomService
	messages *services.MessageService
	ratings  *services.RatingService
	redis    *redis.RedisClient
}

func NewRoomHandler(rooms *services.RoomService, messages *services.MessageService,
	ratings *services.RatingService, redisClient *redis.RedisClient) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		messages: messages,
		ratings:  ratings,
		redis:    redisClient,
	}
}

// CreateRoom 用户直接发起人工客服会话（不经过 AI）
func (h *RoomHandler) CreateRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		Subject  string `json:"subject"`
		Priority string `json:"priority"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	switch req.Priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid priority"})
	}

	room, err := h.rooms.CreateHumanRoom(user.ID, req.Subject, req.Priority, models.RoomSourceDirect)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create room"})
	}
	return c.JSON(http.StatusCreated, room)
}

// ListRooms 客服侧等待队列 / 会话列表
func (h *RoomHandler) ListRooms(c echo.Context) error {
	status := c.QueryParam("status") // waiting, active, closed
	rooms, err := h.rooms.ListRooms(status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch rooms"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// GetRoom 获取单个房间
func (h *RoomHandler) GetRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)
	room, err := h.rooms.GetRoomByID(c.Param("id"))
	if err != nil {
		return h.mapRoomError(c, err)
	}
	if !h.rooms.CanAccess(room, user) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "access denied"})
	}
	return c.JSON(http.StatusOK, room)
}

// AcceptRoom 客服接入等待中的房间
func (h *RoomHandler) AcceptRoom(c echo.Context) error {
	agent := c.Get("user").(*models.User)
	room, err := h.rooms.AcceptRoom(c.Param("id"), agent)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return c.JSON(http.StatusOK, room)
}

// CloseRoom 关闭房间
func (h *RoomHandler) CloseRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)
	room, err := h.rooms.GetRoomByID(c.Param("id"))
	if err != nil {
		return h.mapRoomError(c, err)
	}
	if !h.rooms.CanAccess(room, user) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "access denied"})
	}

	room, err = h.rooms.CloseRoom(room.ID, user)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return c.JSON(http.StatusOK, room)
}

// RecordRating 提交关闭后的满意度评价
func (h *RoomHandler) RecordRating(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	room, err := h.rooms.GetRoomByID(c.Param("id"))
	if err != nil {
		return h.mapRoomError(c, err)
	}
	if room.OwnerUserID != user.ID {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "access denied"})
	}

	rating, err := h.ratings.RecordRating(room.ID, req.Score, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyRated):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, services.ErrInvalidScore), errors.Is(err, services.ErrCommentTooLong):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, services.ErrNotRatable):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to record rating"})
		}
	}
	return c.JSON(http.StatusCreated, rating)
}

// GetMessages 获取房间历史消息，带折叠标记
func (h *RoomHandler) GetMessages(c echo.Context) error {
	user := c.Get("user").(*models.User)
	room, err := h.rooms.GetRoomByID(c.Param("roomId"))
	if err != nil {
		return h.mapRoomError(c, err)
	}
	if !h.rooms.CanAccess(room, user) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "access denied"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	messages, err := h.messages.History(room.ID, limit, offset, time.Now())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch messages"})
	}
	return c.JSON(http.StatusOK, messages)
}

// GetStats 客服面板：审计事件计数（由 Kafka 消费端累加）
func (h *RoomHandler) GetStats(c echo.Context) error {
	counts, err := h.redis.GetEventCounts(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch stats"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"event_counts": counts})
}

// 将 service error 映射为 HTTP 状态码
func (h *RoomHandler) mapRoomError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
