package handlers

import (
	"TripDesk/models"
	"TripDesk/redis"
	"TripDesk/scheduler"
	"TripDesk/services"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 输入中状态的静默超时：客户端断线或丢失 stop 信号时自动清除
const typingTimeout = 2 * time.Second

// 广播消息结构
type BroadcastMessage struct {
	Data      map[string]interface{} // 要广播的消息数据
	ExceptIDs map[string]bool        // 排除的会话ID（不发送给这些会话）
}

// SessionClient 一条 WebSocket 连接对应的会话。
// 会话可以同时订阅多个房间（转接期间同时挂在 AI 房和人工房上）。
type SessionClient struct {
	ID       string          // 会话唯一标识（UUID）
	UserID   uint            // 用户数据库ID
	Username string          // 用户名
	IsAgent  bool            // 是否客服会话
	Conn     *websocket.Conn // WebSocket连接
	Send     chan map[string]interface{} // 发送消息队列（缓冲256条）

	mu    sync.Mutex
	rooms map[string]*RoomHub // 已订阅的房间

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *SessionClient) subscribed(roomID string) (*RoomHub, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hub, ok := c.rooms[roomID]
	return hub, ok
}

func (c *SessionClient) track(hub *RoomHub) {
	c.mu.Lock()
	c.rooms[hub.ID] = hub
	c.mu.Unlock()
}

func (c *SessionClient) untrack(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *SessionClient) trackedRooms() []*RoomHub {
	c.mu.Lock()
	defer c.mu.Unlock()
	hubs := make([]*RoomHub, 0, len(c.rooms))
	for _, hub := range c.rooms {
		hubs = append(hubs, hub)
	}
	return hubs
}

// RoomHub 一个房间内的订阅分发循环
type RoomHub struct {
	ID         string
	Clients    map[string]*SessionClient
	mu         sync.RWMutex
	Broadcast  chan *BroadcastMessage
	Register   chan *SessionClient
	Unregister chan *SessionClient
	ctx        context.Context
	cancel     context.CancelFunc
	redis      *redis.RedisClient
}

// SessionHub 全部房间的注册表，同时实现 services.EventPublisher
type SessionHub struct {
	rooms map[string]*RoomHub
	mu    sync.RWMutex
	redis *redis.RedisClient
}

func NewSessionHub(redisClient *redis.RedisClient) *SessionHub {
	return &SessionHub{
		rooms: make(map[string]*RoomHub),
		redis: redisClient,
	}
}

func (h *SessionHub) GetOrCreateRoom(roomID string) *RoomHub {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[roomID]; exists {
		return room
	}

	ctx, cancel := context.WithCancel(context.Background())
	room := &RoomHub{
		ID:         roomID,
		Clients:    make(map[string]*SessionClient),
		Broadcast:  make(chan *BroadcastMessage, 256),
		Register:   make(chan *SessionClient, 16),
		Unregister: make(chan *SessionClient, 16),
		ctx:        ctx,
		cancel:     cancel,
		redis:      h.redis,
	}
	h.rooms[roomID] = room

	go room.run()

	return room
}

func (h *SessionHub) getRoom(roomID string) *RoomHub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// PublishEvent 把 service 层事件投进房间广播循环。
// 房间没有任何订阅会话时直接丢弃（历史接口兜底）。
func (h *SessionHub) PublishEvent(roomID string, event string, payload map[string]interface{}) {
	room := h.getRoom(roomID)
	if room == nil {
		return
	}
	room.Broadcast <- &BroadcastMessage{
		Data: map[string]interface{}{
			"type":    event,
			"payload": payload,
		},
	}
}

// 房间的核心消息分发循环
func (room *RoomHub) run() {
	for {
		select {
		case <-room.ctx.Done():
			return

		case client := <-room.Register:
			room.mu.Lock()
			room.Clients[client.ID] = client
			room.mu.Unlock()

			room.addUserToRedis(client)

		case client := <-room.Unregister:
			room.mu.Lock()
			_, ok := room.Clients[client.ID]
			if ok {
				delete(room.Clients, client.ID)
			}
			room.mu.Unlock()

			if ok {
				room.removeUserFromRedis(client)
			}

		case message := <-room.Broadcast:
			room.mu.RLock()
			clients := make([]*SessionClient, 0, len(room.Clients))
			for _, client := range room.Clients {
				clients = append(clients, client)
			}
			room.mu.RUnlock()

			for _, client := range clients {
				if message.ExceptIDs != nil && message.ExceptIDs[client.ID] {
					continue
				}

				select {
				case client.Send <- message.Data:
				default:
					log.Printf("Session %s send buffer full, dropping from room %s", client.ID, room.ID)
					room.dropClient(client)
				}
			}
		}
	}
}

// dropClient 就地摘除发送缓冲已打满的会话并切断连接。
// 不能回投 Unregister 通道：run 循环自己消费那个通道，极端积压时会自锁。
// 切断后 readPump 的收尾会清掉其余房间的订阅。
func (room *RoomHub) dropClient(client *SessionClient) {
	room.mu.Lock()
	_, ok := room.Clients[client.ID]
	if ok {
		delete(room.Clients, client.ID)
	}
	room.mu.Unlock()
	if !ok {
		return
	}

	client.untrack(room.ID)
	room.removeUserFromRedis(client)

	client.cancel()
	if client.Conn != nil {
		client.Conn.Close()
	}
}

func (room *RoomHub) addUserToRedis(client *SessionClient) {
	if room.redis == nil {
		return
	}
	kind := "user"
	if client.IsAgent {
		kind = "agent"
	}
	err := room.redis.AddOnlineUser(context.Background(), room.ID, redis.OnlineUser{
		UserID:   client.UserID,
		Username: client.Username,
		Kind:     kind,
	})
	if err != nil {
		log.Printf("Failed to add user to Redis: %v", err)
	}
}

func (room *RoomHub) removeUserFromRedis(client *SessionClient) {
	if room.redis == nil {
		return
	}

	// 同一用户还有其他连接时不摘在线标记
	room.mu.RLock()
	hasOtherConnection := false
	for _, c := range room.Clients {
		if c.UserID == client.UserID && c.ID != client.ID {
			hasOtherConnection = true
			break
		}
	}
	room.mu.RUnlock()

	if !hasOtherConnection {
		if err := room.redis.RemoveOnlineUser(context.Background(), room.ID, client.UserID); err != nil {
			log.Printf("Failed to remove user from Redis: %v", err)
		}
	}
}

// 客户端事件载荷
type joinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type sendMessagePayload struct {
	RoomID      string `json:"room_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
}

type typingPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type messageReadPayload struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
}

type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SupportWSHandler struct {
	db       *gorm.DB
	redis    *redis.RedisClient
	hub      *SessionHub
	rooms    *services.RoomService
	messages *services.MessageService
	sched    *scheduler.Scheduler

	// 事件分发表：事件名 -> 处理函数，协议在这里一处可见
	events map[string]func(*SessionClient, json.RawMessage)
}

func NewSupportWSHandler(db *gorm.DB, redisClient *redis.RedisClient, hub *SessionHub,
	rooms *services.RoomService, messages *services.MessageService, sched *scheduler.Scheduler) *SupportWSHandler {
	h := &SupportWSHandler{
		db:       db,
		redis:    redisClient,
		hub:      hub,
		rooms:    rooms,
		messages: messages,
		sched:    sched,
	}
	h.events = map[string]func(*SessionClient, json.RawMessage){
		"join_room":    h.onJoinRoom,
		"leave_room":   h.onLeaveRoom,
		"send_message": h.onSendMessage,
		"typing":       h.onTyping,
		"message_read": h.onMessageRead,
	}
	return h
}

// HandleWebSocket 建立会话连接
func (h *SupportWSHandler) HandleWebSocket(c echo.Context) error {
	user := c.Get("user").(*models.User)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SessionClient{
		ID:       uuid.New().String(),
		UserID:   user.ID,
		Username: user.Username,
		IsAgent:  user.Agent(),
		Conn:     ws,
		Send:     make(chan map[string]interface{}, 256),
		rooms:    make(map[string]*RoomHub),
		ctx:      ctx,
		cancel:   cancel,
	}

	go h.writePump(client)
	h.readPump(client)

	return nil
}

// 读取客户端事件并分发
func (h *SupportWSHandler) readPump(client *SessionClient) {
	defer func() {
		// 断开只做订阅清理，绝不改动房间状态
		client.cancel()
		for _, hub := range client.trackedRooms() {
			h.sched.Cancel(typingKey(hub.ID, client.ID))
			hub.Unregister <- client
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var envelope clientEnvelope
		err := client.Conn.ReadJSON(&envelope)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		handler, ok := h.events[envelope.Type]
		if !ok {
			continue
		}
		handler(client, envelope.Payload)
	}
}

// 向客户端写入消息
func (h *SupportWSHandler) writePump(client *SessionClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			return

		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteJSON(message); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *SupportWSHandler) onJoinRoom(client *SessionClient, raw json.RawMessage) {
	var payload joinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == "" {
		return
	}
	if _, ok := client.subscribed(payload.RoomID); ok {
		return
	}

	room, err := h.rooms.GetRoomByID(payload.RoomID)
	if err != nil {
		h.sendError(client, "room not found")
		return
	}
	user := &models.User{ID: client.UserID}
	user.Type = models.UserTypeClient
	if client.IsAgent {
		user.Type = models.UserTypeAgent
	}
	if !h.rooms.CanAccess(room, user) {
		h.sendError(client, "access denied")
		return
	}

	hub := h.hub.GetOrCreateRoom(room.ID)
	hub.Register <- client
	client.track(hub)

	h.sendInitData(client, hub)
}

func (h *SupportWSHandler) onLeaveRoom(client *SessionClient, raw json.RawMessage) {
	var payload joinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == "" {
		return
	}
	hub, ok := client.subscribed(payload.RoomID)
	if !ok {
		return
	}
	h.sched.Cancel(typingKey(hub.ID, client.ID))
	hub.Unregister <- client
	client.untrack(payload.RoomID)
}

func (h *SupportWSHandler) onSendMessage(client *SessionClient, raw json.RawMessage) {
	var payload sendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	if payload.Message == "" && payload.FileURL == "" {
		return
	}
	if _, ok := client.subscribed(payload.RoomID); !ok {
		h.sendError(client, "not subscribed to room")
		return
	}

	room, err := h.rooms.GetRoomByID(payload.RoomID)
	if err != nil {
		h.sendError(client, "room not found")
		return
	}

	senderKind := models.SenderUser
	if client.IsAgent && room.OwnerUserID != client.UserID {
		senderKind = models.SenderAgent
	}
	messageType := payload.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	senderID := client.UserID
	msg := &models.Message{
		SenderKind: senderKind,
		SenderID:   &senderID,
		SenderName: client.Username,
		Type:       messageType,
		Body:       payload.Message,
		FileURL:    payload.FileURL,
		FileName:   payload.FileName,
	}
	if _, err := h.messages.Publish(room, msg); err != nil {
		if err == services.ErrRoomClosed {
			h.sendError(client, "room is closed")
			return
		}
		log.Printf("Failed to publish message to room %s: %v", room.ID, err)
		h.sendError(client, "failed to send message")
	}
}

func (h *SupportWSHandler) onTyping(client *SessionClient, raw json.RawMessage) {
	var payload typingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	hub, ok := client.subscribed(payload.RoomID)
	if !ok {
		return
	}

	h.broadcastTyping(hub, client, payload.IsTyping)

	key := typingKey(hub.ID, client.ID)
	if payload.IsTyping {
		// 静默 2 秒自动清除，不依赖客户端的 stop 信号
		h.sched.Schedule(key, typingTimeout, func() {
			h.broadcastTyping(hub, client, false)
		})
	} else {
		h.sched.Cancel(key)
	}
}

func (h *SupportWSHandler) broadcastTyping(hub *RoomHub, client *SessionClient, isTyping bool) {
	hub.Broadcast <- &BroadcastMessage{
		Data: map[string]interface{}{
			"type": services.EventUserTyping,
			"payload": map[string]interface{}{
				"user_id":   client.UserID,
				"username":  client.Username,
				"is_typing": isTyping,
			},
		},
		ExceptIDs: map[string]bool{client.ID: true},
	}
}

func (h *SupportWSHandler) onMessageRead(client *SessionClient, raw json.RawMessage) {
	var payload messageReadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	if _, ok := client.subscribed(payload.RoomID); !ok {
		return
	}
	if _, err := h.messages.MarkRead(payload.RoomID, payload.MessageIDs); err != nil {
		log.Printf("Failed to mark messages read in room %s: %v", payload.RoomID, err)
	}
}

// 发送初始化数据（从Redis获取在线用户列表）
func (h *SupportWSHandler) sendInitData(client *SessionClient, hub *RoomHub) {
	var users []redis.OnlineUser
	if h.redis != nil {
		var err error
		users, err = h.redis.GetOnlineUsers(context.Background(), hub.ID)
		if err != nil {
			log.Printf("Failed to get online users from Redis: %v", err)
		}
	}
	if users == nil {
		users = []redis.OnlineUser{}
	}

	client.Send <- map[string]interface{}{
		"type": "init",
		"payload": map[string]interface{}{
			"room_id": hub.ID,
			"users":   users,
		},
	}
}

func (h *SupportWSHandler) sendError(client *SessionClient, message string) {
	select {
	case client.Send <- map[string]interface{}{
		"type": "error",
		"payload": map[string]interface{}{
			"message": message,
		},
	}:
	default:
	}
}

func typingKey(roomID, sessionID string) string {
	return fmt.Sprintf("typing:%s:%s", roomID, sessionID)
}

// GetOnlineUsers HTTP接口：获取房间在线用户列表
func (h *SupportWSHandler) GetOnlineUsers(c echo.Context) error {
	roomID := c.Param("roomId")

	users, err := h.redis.GetOnlineUsers(c.Request().Context(), roomID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch online users",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"count":   len(users),
		"users":   users,
	})
}
