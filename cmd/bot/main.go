package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokengate/internal/application/export"
	"github.com/tokengate/internal/application/invites"
	"github.com/tokengate/internal/application/notify"
	"github.com/tokengate/internal/application/onboarding"
	"github.com/tokengate/internal/application/reverify"
	"github.com/tokengate/internal/application/status"
	"github.com/tokengate/internal/application/verification"
	"github.com/tokengate/internal/config"
	"github.com/tokengate/internal/infrastructure/dynamo"
	jwtinfra "github.com/tokengate/internal/infrastructure/jwt"
	"github.com/tokengate/internal/infrastructure/moralis"
	s3infra "github.com/tokengate/internal/infrastructure/s3"
	"github.com/tokengate/internal/infrastructure/smtp"
	"github.com/tokengate/internal/infrastructure/sns"
	"github.com/tokengate/internal/infrastructure/telegram"
	"github.com/tokengate/internal/pkg/keymutex"
	"github.com/tokengate/internal/pkg/logger"
	transporthttp "github.com/tokengate/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	zlog, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables, zlog)

	groupRepo := dynamo.NewGroupRepo(dynamoClient, cfg.DynamoTables.Groups)
	linkRepo := dynamo.NewLinkRepo(dynamoClient, cfg.DynamoTables.Links)
	userRepo := dynamo.NewUserRecordRepo(dynamoClient, cfg.DynamoTables.UserRecords)
	whitelistRepo := dynamo.NewWhitelistRepo(dynamoClient, cfg.DynamoTables.Whitelist)
	pendingRepo := dynamo.NewPendingRequestRepo(dynamoClient, cfg.DynamoTables.PendingRequests)
	rejectedRepo := dynamo.NewRejectedGroupRepo(dynamoClient, cfg.DynamoTables.RejectedGroups)
	inviteRepo := dynamo.NewInviteRepo(dynamoClient, cfg.DynamoTables.Invites)

	// JWT provider is optional; without keys the ops API runs open.
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		zlog.Warn("JWT provider not available, ops API is unauthenticated", zap.Error(err))
	}

	gateway := telegram.NewGateway(cfg)
	chain := moralis.NewClient(cfg)

	s3Client := s3infra.NewClient(cfg)
	s3Store := s3infra.NewStore(s3Client, cfg.S3BucketName)

	mailer := smtp.NewMailer(cfg)

	alertPub, err := sns.NewPublisher(cfg)
	if err != nil {
		zlog.Fatal("sns publisher", zap.Error(err))
	}

	// One lock space shares member-record keys between the verification
	// engine and the re-verification sweep.
	locks := keymutex.New()

	notifySvc := notify.NewService(notify.ServiceDeps{
		Gateway:    gateway,
		Mailer:     mailer,
		Publisher:  alertPub,
		OwnerID:    cfg.OwnerUserID,
		OwnerEmail: cfg.OwnerEmail,
		Logger:     zlog,
	})

	inviteSvc := invites.NewService(invites.ServiceDeps{
		InviteRepo:  inviteRepo,
		UserRepo:    userRepo,
		LinkRepo:    linkRepo,
		Gateway:     gateway,
		InviteTTL:   cfg.InviteTTL,
		OwnerUserID: cfg.OwnerUserID,
		BotUsername: cfg.BotUsername,
		Logger:      zlog,
	})

	engine := verification.NewService(verification.ServiceDeps{
		LinkRepo:    linkRepo,
		GroupRepo:   groupRepo,
		UserRepo:    userRepo,
		Chain:       chain,
		Gateway:     gateway,
		Inviter:     inviteSvc,
		Locks:       locks,
		OwnerUserID: cfg.OwnerUserID,
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxAttempts: cfg.TransferMaxAttempts,
		Cooldown:    cfg.TransferRetryCooldown,
		Logger:      zlog,
	})

	onboardingSvc := onboarding.NewService(onboarding.ServiceDeps{
		GroupRepo:     groupRepo,
		LinkRepo:      linkRepo,
		WhitelistRepo: whitelistRepo,
		PendingRepo:   pendingRepo,
		RejectedRepo:  rejectedRepo,
		Gateway:       gateway,
		Alerts:        notifySvc,
		OwnerUserID:   cfg.OwnerUserID,
		BotUsername:   cfg.BotUsername,
		ChainID:       cfg.ChainID,
		IdleTimeout:   cfg.SessionIdleTimeout,
		Logger:        zlog,
	})

	sweeper := reverify.NewService(reverify.ServiceDeps{
		GroupRepo:   groupRepo,
		UserRepo:    userRepo,
		Chain:       chain,
		Gateway:     gateway,
		Invites:     inviteSvc,
		Alerts:      notifySvc,
		Locks:       locks,
		Interval:    cfg.SweepInterval,
		OwnerUserID: cfg.OwnerUserID,
		Logger:      zlog,
	})

	statusSvc := status.NewService(status.ServiceDeps{
		GroupRepo:     groupRepo,
		UserRepo:      userRepo,
		WhitelistRepo: whitelistRepo,
		LinkRepo:      linkRepo,
		Sessions:      engine,
	})

	exportSvc := export.NewService(export.ServiceDeps{
		GroupRepo:     groupRepo,
		UserRepo:      userRepo,
		WhitelistRepo: whitelistRepo,
		PendingRepo:   pendingRepo,
		RejectedRepo:  rejectedRepo,
		ObjectStore:   s3Store,
		Logger:        zlog,
	})

	if err := sweeper.Start(); err != nil {
		zlog.Fatal("sweep scheduler", zap.Error(err))
	}

	// Janitor: expire idle verification sessions and setup dialogs.
	janitor := cron.New()
	if _, err := janitor.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n := engine.ExpireIdleSessions(ctx); n > 0 {
			zlog.Info("expired idle sessions", zap.Int("count", n))
		}
		if n := onboardingSvc.ExpireIdleDialogs(ctx); n > 0 {
			zlog.Info("expired idle dialogs", zap.Int("count", n))
		}
	}); err != nil {
		zlog.Fatal("janitor schedule", zap.Error(err))
	}
	janitor.Start()

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Engine:      engine,
		Onboarding:  onboardingSvc,
		Invites:     inviteSvc,
		Status:      statusSvc,
		Export:      exportSvc,
		Sweeper:     sweeper,
		Gateway:     gateway,
		JWTProvider: jwtProvider,
		Logger:      zlog,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("server starting",
			zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("forced shutdown", zap.Error(err))
	}
	<-janitor.Stop().Done()
	sweeper.Stop()
	zlog.Info("stopped")
}
