package server

import (
	"TripDesk/limiter"
	custommiddleware "TripDesk/middleware"
	"TripDesk/models"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc, agentMiddleware echo.MiddlewareFunc,
	aiLimiter *limiter.Manager, loginLimiter *limiter.Manager) {
	e := s.Echo
	api := e.Group("/api/v1")

	// Auth routes (unprotected)
	auth := api.Group("/auth")
	{
		auth.POST("/register", s.AuthHandler.Register)
		// 登录按 IP 限流
		auth.POST("/login", s.AuthHandler.Login, custommiddleware.NewRateLimitMiddleware(loginLimiter, custommiddleware.RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		}))
	}

	// 需要认证
	protected := api.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/user", s.AuthHandler.GetCurrentUser)

		// AI 对话入口，按用户限流
		protected.POST("/ai-chat/messages", s.AIChatHandler.SendMessage,
			custommiddleware.NewRateLimitMiddleware(aiLimiter, custommiddleware.RateLimitConfig{
				Limit:  20,
				Window: time.Minute,
				KeyFunc: func(c echo.Context) string {
					if user, ok := c.Get("user").(*models.User); ok {
						return fmt.Sprintf("ai-chat:%d", user.ID)
					}
					return ""
				},
			}))

		// Rooms routes
		rooms := protected.Group("/rooms")
		{
			rooms.POST("", s.RoomHandler.CreateRoom)                // 直接发起人工会话
			rooms.GET("/:id", s.RoomHandler.GetRoom)                // 获取单个房间
			rooms.POST("/:id/close", s.RoomHandler.CloseRoom)       // 关闭房间
			rooms.POST("/:id/rating", s.RoomHandler.RecordRating)   // 提交评价
		}

		// Chat routes
		chat := protected.Group("/chat")
		{
			chat.GET("/:roomId/messages", s.RoomHandler.GetMessages)            // 历史消息（带折叠标记）
			chat.GET("/:roomId/online-users", s.SupportWSHandler.GetOnlineUsers) // 在线用户列表
		}
		protected.GET("/chat/ws", s.SupportWSHandler.HandleWebSocket)

		// 客服侧接口
		agent := protected.Group("/agent")
		agent.Use(agentMiddleware)
		{
			agent.GET("/rooms", s.RoomHandler.ListRooms)             // 等待队列 / 会话列表
			agent.POST("/rooms/:id/accept", s.RoomHandler.AcceptRoom) // 接入房间
			agent.GET("/stats", s.RoomHandler.GetStats)               // 审计事件计数
		}
	}
}
