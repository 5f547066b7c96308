package handlers

import (
	"TripDesk/folding"
	"TripDesk/models"
	"TripDesk/services"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// 命中关键词时的确认文案，不经过模型
const transferAckText = "好的，正在為您轉接真人客服，請稍候…"

// AI 房间首条欢迎语
const welcomeText = "您好，我是智慧客服小遊，可以協助您查詢訂單、行程與商品問題。需要真人協助時，隨時輸入「轉人工」。"

type AIChatHandler struct {
	ai        *services.AIService
	rooms     *services.RoomService
	messages  *services.MessageService
	transfers *services.TransferService
}

func NewAIChatHandler(ai *services.AIService, rooms *services.RoomService,
	messages *services.MessageService, transfers *services.TransferService) *AIChatHandler {
	return &AIChatHandler{
		ai:        ai,
		rooms:     rooms,
		messages:  messages,
		transfers: transfers,
	}
}

type aiChatRequest struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type aiChatResponse struct {
	RoomID              string                `json:"room_id"`
	AIResponse          string                `json:"ai_response,omitempty"`
	ShouldTransfer      bool                  `json:"should_transfer"`
	SpecialAction       string                `json:"special_action,omitempty"`
	CustomerServiceRoom *models.Room          `json:"customer_service_room,omitempty"`
	Transfer            *models.TransferEvent `json:"transfer,omitempty"`
	Queued              bool                  `json:"queued,omitempty"`
}

// SendMessage AI 对话入口：自动建房、调模型、按策略转人工。
// 转接进行中到达的消息排队等转接完成后投进人工房间，不丢给用户一个错误。
func (h *AIChatHandler) SendMessage(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req aiChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	// 转接窗口期的竞态：等转接收尾，把这条消息转投人工房间。
	// 等待前先验房间归属，避免拿别人的房间 id 蹭转接
	if req.RoomID != "" {
		source, err := h.rooms.GetRoomByID(req.RoomID)
		if err != nil && !errors.Is(err, services.ErrRoomNotFound) {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to load room",
			})
		}
		if source != nil {
			if source.OwnerUserID != user.ID {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "access denied",
				})
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
			targetID, inFlight := h.transfers.AwaitInFlight(ctx, req.RoomID)
			cancel()
			if inFlight {
				return h.redirectToHumanRoom(c, user, targetID, req.Message)
			}
		}
	}

	room, created, err := h.rooms.CreateAiRoom(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create room",
		})
	}
	if created {
		_, err = h.messages.Publish(room, &models.Message{
			SenderKind: models.SenderAI,
			Body:       welcomeText,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to send message",
			})
		}
	}

	// 模型上下文只带新鲜窗口内的消息，过期上下文已经折叠掉了
	now := time.Now()
	recent, err := h.messages.Recent(room.ID, folding.WindowStart(now), now)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load history",
		})
	}

	senderID := user.ID
	_, err = h.messages.Publish(room, &models.Message{
		SenderKind: models.SenderUser,
		SenderID:   &senderID,
		SenderName: user.Username,
		Body:       req.Message,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to send message",
		})
	}

	// 关键词命中时不调模型，直接给转接确认
	var aiResult services.AIResult
	if trigger, hit := services.ShouldTransfer(req.Message, services.AIResult{}); hit && trigger == models.TransferTriggerKeyword {
		aiResult = services.AIResult{Text: transferAckText}
	} else {
		history := make([]services.HistoryEntry, 0, len(recent))
		for i := range recent {
			switch recent[i].SenderKind {
			case models.SenderUser:
				history = append(history, services.HistoryEntry{FromUser: true, Body: recent[i].Body})
			case models.SenderAI:
				history = append(history, services.HistoryEntry{Body: recent[i].Body})
			}
		}
		aiResult = h.ai.Respond(c.Request().Context(), history, req.Message)
	}

	_, willTransfer := services.ShouldTransfer(req.Message, aiResult)
	_, err = h.messages.Publish(room, &models.Message{
		SenderKind:        models.SenderAI,
		Body:              aiResult.Text,
		IsTransferRequest: willTransfer,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to send message",
		})
	}

	resp := aiChatResponse{
		RoomID:        room.ID,
		AIResponse:    aiResult.Text,
		SpecialAction: aiResult.SpecialAction,
	}

	event, target, err := h.transfers.MaybeTransfer(room, user, req.Message, aiResult)
	if err != nil {
		if errors.Is(err, services.ErrTransferFailed) {
			// 重试过一次仍失败，明确告知用户，不能让请求悄悄石沉大海
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error": "轉接失敗，請稍後再試",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to transfer",
		})
	}
	if target != nil {
		resp.ShouldTransfer = true
		resp.CustomerServiceRoom = target
		resp.Transfer = event
	}

	return c.JSON(http.StatusOK, resp)
}

// redirectToHumanRoom 把排队的消息投进转接产生的人工房间
func (h *AIChatHandler) redirectToHumanRoom(c echo.Context, user *models.User, targetRoomID, body string) error {
	target, err := h.rooms.GetRoomByID(targetRoomID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load room",
		})
	}

	senderID := user.ID
	_, err = h.messages.Publish(target, &models.Message{
		SenderKind: models.SenderUser,
		SenderID:   &senderID,
		SenderName: user.Username,
		Body:       body,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to send message",
		})
	}

	return c.JSON(http.StatusOK, aiChatResponse{
		RoomID:              target.ID,
		ShouldTransfer:      true,
		CustomerServiceRoom: target,
		Queued:              true,
	})
}
