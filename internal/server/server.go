// Package server wires the stores, services and HTTP routes together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"pomelo/internal/ai"
	"pomelo/internal/channel"
	"pomelo/internal/config"
	"pomelo/internal/handler"
	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/jwt"
	"pomelo/internal/pkg/mongodb"
	"pomelo/internal/repository"
	learningrepo "pomelo/internal/repository/learning"
	"pomelo/internal/server/middleware"
	"pomelo/internal/service"
)

// Server HTTP server
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	mongo    *mongodb.Client
	redis    *cache.RedisCache
	learning *service.LearningService
}

// New creates the server and wires the full ingestion pipeline
func New(cfg *config.Config) (*Server, error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mongodb.EnsureAllIndexes(indexCtx, mongoClient.Database(),
		&model.Session{},
		&model.Conversation{},
		&model.Message{},
		&model.Plan{},
		&model.UsageCounter{},
		&model.AgentProfile{},
		&model.MemoryEntry{},
		&model.FAQEntry{},
		&model.PatternEntry{},
		&model.ConversationContext{},
	); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	redisCache, err := cache.NewRedisCache(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	channelClient, err := channel.NewClient(&cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("channel client: %w", err)
	}

	gateway, err := ai.NewGateway(context.Background(), &cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("AI gateway: %w", err)
	}

	db := mongoClient.Database()
	sessionRepo := repository.NewSessionRepo(db)
	conversationRepo := repository.NewConversationRepo(db)
	messageRepo := repository.NewMessageRepo(db)
	planRepo := repository.NewPlanRepo(db)
	usageRepo := repository.NewUsageRepo(db)
	agentRepo := repository.NewAgentRepo(db)
	memoryRepo := learningrepo.NewMemoryRepo(db)
	faqRepo := learningrepo.NewFAQRepo(db)
	patternRepo := learningrepo.NewPatternRepo(db)
	contextRepo := learningrepo.NewContextRepo(db)

	learningSvc := service.NewLearningService(memoryRepo, faqRepo, patternRepo, contextRepo, redisCache, cfg.Learning)
	learningSvc.Start()

	quotaSvc := service.NewQuotaService(planRepo, usageRepo, redisCache, cfg.Quota)
	resolverSvc := service.NewResolverService(conversationRepo)
	messageSvc := service.NewMessageService(messageRepo, conversationRepo, channelClient)
	responderSvc := service.NewResponderService(
		agentRepo, messageRepo, messageSvc, gateway, quotaSvc, learningSvc,
		redisCache, redisCache, cfg.Responder,
	)
	webhookSvc := service.NewWebhookService(sessionRepo, resolverSvc, messageSvc, responderSvc)
	sessionSvc := service.NewSessionService(sessionRepo)
	conversationSvc := service.NewConversationService(conversationRepo)

	srv := &Server{
		cfg:      cfg,
		engine:   engine,
		mongo:    mongoClient,
		redis:    redisCache,
		learning: learningSvc,
	}

	srv.setupRoutes(webhookSvc, sessionSvc, conversationSvc, messageSvc)

	return srv, nil
}

// setupRoutes registers middleware and routes
func (s *Server) setupRoutes(
	webhookSvc *service.WebhookService,
	sessionSvc *service.SessionService,
	conversationSvc *service.ConversationService,
	messageSvc *service.MessageService,
) {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// channel provider callbacks, authenticated by per-session token
	webhookHandler := handler.NewWebhookHandler(webhookSvc)
	s.engine.POST("/webhook/:sessionId", webhookHandler.Receive)

	// management API, authenticated by JWT
	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	tokenExpiry := s.cfg.Auth.TokenExpiry
	if tokenExpiry == 0 {
		tokenExpiry = 24 * time.Hour
	}
	jwtUtil := jwt.NewJWT(jwtSecret, tokenExpiry)

	sessionHandler := handler.NewSessionHandler(sessionSvc)
	conversationHandler := handler.NewConversationHandler(conversationSvc, messageSvc)
	learningHandler := handler.NewLearningHandler(s.learning)

	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.Auth(jwtUtil))
	{
		v1.POST("/sessions", sessionHandler.Create)
		v1.GET("/sessions", sessionHandler.List)
		v1.GET("/sessions/:id", sessionHandler.Get)
		v1.DELETE("/sessions/:id", sessionHandler.Remove)

		v1.GET("/conversations", conversationHandler.List)
		v1.GET("/conversations/:id/messages", conversationHandler.Messages)
		v1.POST("/conversations/:id/messages", conversationHandler.Send)
		v1.POST("/conversations/:id/assign", conversationHandler.Assign)
		v1.POST("/conversations/:id/release", conversationHandler.Release)

		v1.POST("/memories", learningHandler.CreateMemory)
		v1.POST("/memories/reinforce", learningHandler.ReinforceMemory)
	}
}

// Run starts the server and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		// stop accepting learning feedback and drain the queue first so
		// in-flight writes land before the stores close
		s.learning.Close()

		if err := s.mongo.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis connection")
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine returns the Gin engine (used in tests)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
