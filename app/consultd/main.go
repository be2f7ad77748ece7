package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/consultly/mobile-core/config"
	"github.com/consultly/mobile-core/internal/booking"
	"github.com/consultly/mobile-core/internal/cache"
	"github.com/consultly/mobile-core/internal/connection"
	"github.com/consultly/mobile-core/internal/identity"
	"github.com/consultly/mobile-core/internal/logger"
	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/store"
	"github.com/consultly/mobile-core/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	baseLog := logger.New()

	// Cache backend: redis when configured, otherwise the on-device
	// sqlite file.
	var msgCache cache.MessageCache
	if cfg.RedisAddr != "" {
		rdb, err := config.NewRedisClient(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis init error: %v", err)
		}
		msgCache = cache.NewRedisCache(rdb, cfg.CacheTTL)
		fmt.Println("redis cache connected")
	} else {
		sq, err := cache.NewSQLiteCache(cfg.CachePath)
		if err != nil {
			log.Fatalf("sqlite cache init error: %v", err)
		}
		defer sq.Close()
		msgCache = sq
		fmt.Println("sqlite cache opened at", cfg.CachePath)
	}

	ids := identity.NewStatic()
	tr := transport.NewWSTransport(cfg.WSURL, logger.Component(baseLog, "transport"))
	mgr := connection.NewManager(connection.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		MaxAttempts:       cfg.MaxReconnectAttempts,
	}, tr, ids, logger.Component(baseLog, "connection"))
	defer mgr.Teardown()

	sessions := store.NewSessionStore(msgCache, logger.Component(baseLog, "store"), cfg.PersistDebounce)
	defer sessions.Flush()

	bookings := booking.NewReconciler(mgr, nil, logger.Component(baseLog, "booking"))
	bookings.Start()
	defer bookings.Stop()

	// Wire server pushes into the stores. Each subscriber owns its
	// unsubscribe; duplicate delivery across reconnects is on us.
	unsubs := []func(){
		mgr.On(models.EventChatMessage, func(payload json.RawMessage) {
			var push models.ChatMessagePush
			if err := json.Unmarshal(payload, &push); err != nil {
				return
			}
			_ = sessions.InitializeSession(context.Background(), push.SessionID)
			_ = sessions.AddMessage(context.Background(), push.SessionID, push.Message)
		}),
		mgr.On(models.EventTyping, func(payload json.RawMessage) {
			var push models.TypingPush
			if err := json.Unmarshal(payload, &push); err != nil {
				return
			}
			sessions.SetSessionStatus(push.SessionID, models.SessionStatusPatch{RemoteTyping: &push.Typing})
		}),
		mgr.On(models.EventTimer, func(payload json.RawMessage) {
			var push models.TimerPush
			if err := json.Unmarshal(payload, &push); err != nil {
				return
			}
			sessions.SetTimerData(push.SessionID, models.TimerPatch{
				ElapsedSeconds:  &push.ElapsedSeconds,
				DurationSeconds: &push.DurationSeconds,
				IsActive:        &push.IsActive,
			})
		}),
		mgr.OnStateChange(func(s connection.State) {
			baseLog.WithField("state", s.String()).Info("connection state changed")
			if s == connection.StateConnected {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					defer cancel()
					if err := bookings.Refresh(ctx); err != nil {
						baseLog.WithError(err).Warn("pending bookings refresh failed")
					}
				}()
			}
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	ids.Set(models.Identity{
		UserID:     os.Getenv("USER_ID"),
		Credential: os.Getenv("USER_TOKEN"),
		Role:       "consumer",
	})

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		baseLog.WithError(err).Error("shutdown error")
	}
	baseLog.Info("shutting down")
}
