// Package main runs the approval polls HTTP server with live results and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/approval-polls/backend/config"
	"github.com/approval-polls/backend/internal/admin"
	"github.com/approval-polls/backend/internal/auth"
	"github.com/approval-polls/backend/internal/emaillogs"
	"github.com/approval-polls/backend/internal/invitations"
	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/internal/realtime"
	"github.com/approval-polls/backend/internal/results"
	"github.com/approval-polls/backend/internal/subscriptions"
	"github.com/approval-polls/backend/internal/tags"
	"github.com/approval-polls/backend/internal/voting"
	"github.com/approval-polls/backend/internal/worker"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/mailer"
	"github.com/approval-polls/backend/pkg/queue"
	"github.com/approval-polls/backend/pkg/redis"
	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.ExportsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled, exports will be streamed", zap.Error(err))
		}
	}

	mail, err := mailer.New(mailer.Config{
		Provider:       cfg.Email.Provider,
		FromAddress:    cfg.Email.FromAddress,
		FromName:       cfg.Email.FromName,
		MailgunAPIKey:  cfg.Email.MailgunAPIKey,
		MailgunDomain:  cfg.Email.MailgunDomain,
		MailgunBaseURL: cfg.Email.MailgunBaseURL,
		SendGridAPIKey: cfg.Email.SendGridAPIKey,
	}, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}

	baseURL := strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	pageSize := cfg.Pagination.PageSize
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Live results
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(redisPubSub, logger)
	defer hub.Close()

	// Polls and ballots
	pollRepo := polls.NewRepository(pool)
	votingRepo := voting.NewRepository(pool)
	resultsService := results.NewService(pollRepo, results.NewRepository(pool), results.NewRedisCache(rdb.Client, 0), hub, logger)
	votingService := voting.NewService(pollRepo, votingRepo, resultsService, logger)

	// Invitations and their delivery log
	emailLogsRepo := emaillogs.NewRepository(pool)
	invitationRepo := invitations.NewRepository(pool)
	invitationService := invitations.NewService(invitationRepo, emailLogsRepo, jobQueue, baseURL, logger)
	emailProcessor := worker.NewEmailProcessor(mail, emailLogsRepo, invitationRepo, jobQueue, logger)

	// Accounts
	authRepo := auth.NewRepository(pool)
	subscriptionRepo := subscriptions.NewRepository(pool)
	google := auth.NewIDTokenVerifier(cfg.Google.ClientID)

	tagRepo := tags.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	authHandler := auth.NewHandler(authRepo, subscriptionRepo, pollRepo, google, jwtService, logger)
	pollHandler := polls.NewHandler(pollRepo, votingRepo, invitationService, resultsService, baseURL, pageSize, logger)
	voteHandler := voting.NewHandler(votingService, baseURL, logger)
	resultsHandler := results.NewHandler(resultsService, logger)
	tagHandler := tags.NewHandler(tagRepo, pollRepo, resultsService, pageSize, logger)
	invitationHandler := invitations.NewHandler(pollRepo, invitationService, invitationRepo, logger)
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo, pollRepo, logger)
	var adminHandler *admin.Handler
	if s3Client != nil {
		adminHandler = admin.NewHandler(pollRepo, adminRepo, s3Client, pageSize, logger)
	} else {
		adminHandler = admin.NewHandler(pollRepo, adminRepo, nil, pageSize, logger)
	}

	voteLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.VotesPerSecond, cfg.RateLimit.Burst)
	upgrader := realtime.NewUpgrader(strings.Split(cfg.Server.CORSAllowedOrigins, ","))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/google", authHandler.Google)
	}

	// Public (optional auth: the detail page reports the caller's approvals)
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/polls", pollHandler.Index)
		public.GET("/polls/:id", pollHandler.Detail)
		public.GET("/invitation/:id", pollHandler.Detail)
		public.GET("/polls/:id/embed", pollHandler.Embed)
		public.POST("/polls/:id/vote", middleware.RateLimit(voteLimiter), voteHandler.Vote)
		public.GET("/polls/:id/results", resultsHandler.Results)
		public.GET("/polls/:id/raw", resultsHandler.Raw)

		public.GET("/tags", tagHandler.List)
		public.GET("/tags/cloud", tagHandler.Cloud)
		public.GET("/tags/:tag/polls", tagHandler.Polls)
	}

	// WebSocket (results are public; no token required)
	router.GET("/polls/:id/ws", realtime.ServeWs(hub, pollRepo, upgrader, logger))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/accounts/me", authHandler.Me)
		api.PUT("/accounts/username", authHandler.ChangeUsername)
		api.PUT("/accounts/password", authHandler.ChangePassword)
		api.POST("/accounts/timezone", authHandler.SetTimezone)
		api.GET("/accounts/subscription", authHandler.GetSubscription)
		api.PUT("/accounts/subscription", authHandler.UpdateSubscription)

		// Polls (ownership is checked in the handlers)
		api.GET("/polls/mine", pollHandler.Mine)
		api.POST("/polls", pollHandler.Create)
		api.PUT("/polls/:id", pollHandler.Update)
		api.DELETE("/polls/:id", pollHandler.Delete)
		api.POST("/polls/:id/suspension", pollHandler.Suspension)

		api.POST("/polls/:id/tags", tagHandler.Add)
		api.DELETE("/polls/:id/tags/:tag", tagHandler.Remove)

		api.POST("/polls/:id/invitations", invitationHandler.Invite)
		api.GET("/polls/:id/invitations", invitationHandler.List)
		api.GET("/polls/:id/emails", emailLogsHandler.ListByPoll)

		// Admin (staff only)
		staff := api.Group("/admin", middleware.RequireStaff())
		staff.GET("/polls", adminHandler.Search)
		staff.GET("/export/polls", adminHandler.ExportPolls)
		staff.GET("/export/polls/:id/ballots", adminHandler.ExportBallots)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background jobs (invitation email, newsletter sync)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Worker.EmbeddedEmailWorker {
		go emailProcessor.Run(workerCtx)
		logger.Info("email worker started")
	}
	if cfg.Mailchimp.SyncIntervalMin > 0 {
		members, err := subscriptions.NewMailchimpClient(cfg.Mailchimp.APIKey, cfg.Mailchimp.ListID, "")
		if err != nil {
			logger.Info("mailchimp sync disabled", zap.Error(err))
		} else {
			syncer := subscriptions.NewSyncer(members, subscriptionRepo, logger)
			go syncer.Run(workerCtx, time.Duration(cfg.Mailchimp.SyncIntervalMin)*time.Minute)
		}
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
