package server

import (
	"TripDesk/config"
	"TripDesk/handlers"
	"TripDesk/kafka"
	"TripDesk/limiter"
	custommiddleware "TripDesk/middleware"
	"TripDesk/models"
	"TripDesk/redis"
	"TripDesk/scheduler"
	"TripDesk/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Server struct {
	Echo             *echo.Echo
	DB               *gorm.DB
	Config           *config.Config
	Redis            *redis.RedisClient
	Scheduler        *scheduler.Scheduler
	AuthHandler      *handlers.AuthHandler
	RoomHandler      *handlers.RoomHandler
	AIChatHandler    *handlers.AIChatHandler
	SupportWSHandler *handlers.SupportWSHandler
	AuthService      *services.AuthService
	AuditProducer    *kafka.Producer
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	// 初始化 Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	// service 层，全部显式构造注入，不走全局状态
	locks := services.NewRoomLocks()
	authService := services.NewAuthService(db, &cfg.Auth)
	roomService := services.NewRoomService(db, locks)
	messageService := services.NewMessageService(db, locks)
	aiService := services.NewAIService(&cfg.AI)
	transferService := services.NewTransferService(db, roomService, messageService)
	ratingService := services.NewRatingService(db)

	// 会话中心在 service 之后构造，再注入回去做事件扇出
	hub := handlers.NewSessionHub(redisClient)
	roomService.SetPublisher(hub)
	messageService.SetPublisher(hub)

	// Kafka 审计流（可选）
	var auditProducer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		saramaCfg, err := kafka.NewSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to build kafka config:", err)
		}
		auditProducer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, saramaCfg)
		if err != nil {
			log.Fatal("Failed to create kafka producer:", err)
		}
		roomService.SetAuditProducer(auditProducer)
		transferService.SetAuditProducer(auditProducer)
	}

	sched := scheduler.New()

	authHandler := handlers.NewAuthHandler(authService)
	roomHandler := handlers.NewRoomHandler(roomService, messageService, ratingService, redisClient)
	aiChatHandler := handlers.NewAIChatHandler(aiService, roomService, messageService, transferService)
	supportWSHandler := handlers.NewSupportWSHandler(db, redisClient, hub, roomService, messageService, sched)

	s := &Server{
		Echo:             e,
		DB:               db,
		Config:           &cfg,
		Redis:            redisClient,
		Scheduler:        sched,
		AuthHandler:      authHandler,
		RoomHandler:      roomHandler,
		AIChatHandler:    aiChatHandler,
		SupportWSHandler: supportWSHandler,
		AuthService:      authService,
		AuditProducer:    auditProducer,
	}

	// --- 设置路由 ---
	authMiddleware := custommiddleware.AuthMiddleware(authService)
	agentMiddleware := custommiddleware.AgentMiddleware()
	rateLimiter := limiter.NewManager(redisClient.Client, &limiter.FixedWindowStrategy{})
	loginLimiter := limiter.NewManager(redisClient.Client, &limiter.TokenBucketStrategy{})
	s.SetupRoutes(authMiddleware, agentMiddleware, rateLimiter, loginLimiter)
	return s
}

func (s *Server) Start() {
	addr := s.Config.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	log.Fatal(s.Echo.Start(addr))
}
