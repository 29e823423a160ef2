package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/clients/redis"
	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/data/repos/session"
	"github.com/yungbote/counselbridge-backend/internal/db"
	"github.com/yungbote/counselbridge-backend/internal/handlers"
	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/platform/openai"
	"github.com/yungbote/counselbridge-backend/internal/server"
	"github.com/yungbote/counselbridge-backend/internal/services"
)

func main() {
	log, err := logger.New(envutil.Str("APP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx)
	if err != nil {
		log.Fatal("init otel", "error", err.Error())
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	policy, err := config.Load()
	if err != nil {
		log.Fatal("load policy", "error", err.Error())
	}

	dbService, err := db.NewService(log)
	if err != nil {
		log.Fatal("open database", "error", err.Error())
	}
	defer dbService.Close()
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Fatal("migrate database", "error", err.Error())
	}

	var cache redis.SessionCache
	if envutil.Bool("REDIS_ENABLED", true) {
		cache, err = redis.NewSessionCache(log)
		if err != nil {
			log.Warn("redis unavailable, continuing without snapshot cache", "error", err.Error())
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("init openai client", "error", err.Error())
	}

	var matcher services.ContentMatcher
	if strings.EqualFold(envutil.Str("BOUNDARY_MATCHER", "token"), "embedding") {
		matcher = services.NewEmbeddingMatcher(ai, policy, log)
	} else {
		matcher = services.NewTokenMatcher(policy)
	}

	sessionRepo := session.NewRepo(dbService.DB(), log)
	registry := services.NewSessionRegistry(policy, cache, log)
	extractor := services.NewBoundaryExtractor(ai, policy, log)
	store := services.NewBoundaryStore(matcher, services.NewExclusiveSubtypePolicy(policy), log)
	tracker := services.NewStateTracker(policy, log)
	generator := services.NewResponseGenerator(ai, policy, log)
	dialogue := services.NewDialogueService(policy, sessionRepo, cache, registry, extractor, store, tracker, generator, log)

	go registry.Run(ctx)

	router := server.NewRouter(server.RouterConfig{
		SessionHandler: handlers.NewSessionHandler(dialogue, log),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}
