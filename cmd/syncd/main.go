package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"aqardesk/sync/internal/app"
	"aqardesk/sync/internal/archive"
	"aqardesk/sync/internal/config"
	"aqardesk/sync/internal/email"
	"aqardesk/sync/internal/feed"
	"aqardesk/sync/internal/notify"
	"aqardesk/sync/internal/presence"
	"aqardesk/sync/internal/search"
	"aqardesk/sync/internal/session"
	"aqardesk/sync/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	sessions := session.NewRedisStoreWithClient(redisClient, cfg.SessionTTL)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPostgres(db))

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveService, err = archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, app.Deps{
		Store:     dataStore,
		Sessions:  sessions,
		Feed:      feed.NewSubscriber(redisClient),
		Publisher: feed.NewPublisher(redisClient),
		Search:    searchService,
		Archive:   archiveService,
		Email:     emailService,
		NewTracker: func(userID string) app.PresenceTracker {
			return presence.NewTracker(redisClient, cfg.PresenceTopic, userID, dataStore, presence.Options{
				TTL:               cfg.PresenceTTL,
				HeartbeatInterval: cfg.HeartbeatInterval,
				SnapshotInterval:  cfg.SnapshotInterval,
			})
		},
		NewPlayer: func(userID string) notify.Player {
			return notify.NewRedisPlayer(redisClient, userID)
		},
	})
	if err := service.Start(ctx); err != nil {
		log.Fatalf("service start failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("AqarDesk sync listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	service.Stop(shutdownCtx)
}
