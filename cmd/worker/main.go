// Package main runs the background job worker (invitation email delivery, newsletter sync).
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/approval-polls/backend/config"
	"github.com/approval-polls/backend/internal/emaillogs"
	"github.com/approval-polls/backend/internal/invitations"
	"github.com/approval-polls/backend/internal/subscriptions"
	"github.com/approval-polls/backend/internal/worker"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/mailer"
	"github.com/approval-polls/backend/pkg/queue"
	"github.com/approval-polls/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

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

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewEmailProcessor(mail, emaillogs.NewRepository(pool), invitations.NewRepository(pool), jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	members, err := subscriptions.NewMailchimpClient(cfg.Mailchimp.APIKey, cfg.Mailchimp.ListID, "")
	switch {
	case errors.Is(err, subscriptions.ErrMailchimpNotConfigured):
		logger.Info("mailchimp sync skipped: not configured")
	case err != nil:
		logger.Warn("mailchimp sync disabled", zap.Error(err))
	default:
		interval := time.Duration(cfg.Mailchimp.SyncIntervalMin) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}
		syncer := subscriptions.NewSyncer(members, subscriptions.NewRepository(pool), logger)
		go syncer.Run(workerCtx, interval)
		logger.Info("mailchimp sync started", zap.Duration("interval", interval))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
