package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/omnichannel-engine/internal/api"
	"github.com/ignite/omnichannel-engine/internal/capping"
	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/config"
	"github.com/ignite/omnichannel-engine/internal/gateway"
	"github.com/ignite/omnichannel-engine/internal/journey"
	"github.com/ignite/omnichannel-engine/internal/orchestrator"
	"github.com/ignite/omnichannel-engine/internal/personalize"
	"github.com/ignite/omnichannel-engine/internal/pkg/distlock"
	"github.com/ignite/omnichannel-engine/internal/pkg/logger"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Info("starting omnichannel engine", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Optional Postgres for journey persistence and restart recovery.
	var store journey.Store
	var db *sql.DB
	var pgStore *journey.PostgresStore
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("Database unreachable: %v", err)
		}
		cancel()
		pgStore = journey.NewPostgresStore(db)
		store = pgStore
		logger.Info("journey persistence enabled")
	}

	// Optional Redis: multi-process send history + distributed capping locks.
	var history capping.History
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		retention := time.Duration(cfg.Redis.RetentionHours) * time.Hour
		redisHistory, err := capping.NewRedisHistoryFromURL(cfg.Redis.URL, retention)
		if err != nil {
			log.Fatalf("Redis unreachable: %v", err)
		}
		history = redisHistory
		opts, _ := redis.ParseURL(cfg.Redis.URL)
		redisClient = redis.NewClient(opts)
		logger.Info("redis send history enabled", "retention_hours", cfg.Redis.RetentionHours)
	}

	// Delivery gateways: SES for email when configured, webhook for push/web,
	// log fallback for everything else.
	router := gateway.NewRouter(gateway.LogGateway{})
	if cfg.SES.Enabled() {
		sesGW, err := gateway.NewSESGateway(context.Background(), gateway.SESConfig{
			AccessKey:   cfg.SES.AccessKey,
			SecretKey:   cfg.SES.SecretKey,
			Region:      cfg.SES.Region,
			FromName:    cfg.SES.FromName,
			FromAddress: cfg.SES.FromEmail,
		}, resolveAddress)
		if err != nil {
			log.Fatalf("Failed to build SES gateway: %v", err)
		}
		router.Register(channel.TypeEmail, sesGW)
		logger.Info("ses email gateway enabled", "region", cfg.SES.Region)
	}
	if cfg.Webhook.Endpoint != "" {
		hook := gateway.NewWebhookGateway(cfg.Webhook.Endpoint, cfg.Webhook.MaxRetries)
		router.Register(channel.TypePush, hook)
		router.Register(channel.TypeWeb, hook)
		logger.Info("webhook gateway enabled", "endpoint", cfg.Webhook.Endpoint)
	}

	orch := orchestrator.New(orchestrator.Options{
		CappingRules:    cfg.Capping.Rules(),
		CappingHistory:  history,
		Gateway:         router,
		Store:           store,
		CleanupInterval: cfg.Cleanup.Interval(),
		StaleAfter:      cfg.Cleanup.StaleAfter(),
	})
	orch.Executor.SetTick(cfg.Journeys.Tick())
	orch.Executor.SetDeferInterval(cfg.Journeys.DeferInterval())
	orch.Realtime.SetRefresh(cfg.Realtime.Refresh())

	if cfg.Journeys.DistributedLocks && (redisClient != nil || db != nil) {
		ttl := cfg.Journeys.LockTTL()
		orch.Capping.SetLockFactory(func(key string) distlock.DistLock {
			return distlock.NewLock(redisClient, db, "cap:"+key, ttl)
		})
		logger.Info("distributed capping locks enabled", "ttl", ttl.String())
	}

	registerBuiltinTemplates(orch)

	// Rebuild in-flight journeys after a restart.
	if pgStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		recovered, err := pgStore.LoadActive(ctx)
		cancel()
		if err != nil {
			log.Printf("[recovery] loading active journeys: %v", err)
		} else if n := orch.Executor.Restore(recovered); n > 0 {
			logger.Info("recovered in-flight journeys", "count", n)
		}
	}

	orch.Start()
	defer orch.Stop()

	server := api.NewServer(orch)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[shutdown] http server: %v", err)
	}
}

// resolveAddress maps a customer id to its email address. Production wires
// this to the customer-data service; the default derives a placeholder.
func resolveAddress(_ context.Context, customerID string) (string, error) {
	if addr := os.Getenv("TEST_RECIPIENT_EMAIL"); addr != "" {
		return addr, nil
	}
	return customerID + "@customers.invalid", nil
}

// registerBuiltinTemplates seeds the starter journey templates.
func registerBuiltinTemplates(orch *orchestrator.Orchestrator) {
	orch.RegisterJourneyTemplate("welcome", []journey.Step{
		{ID: "welcome_email", Name: "Welcome email", Type: journey.StepMessage, Channel: "email",
			Content: personalize.Content{Template: "Welcome, {{first_name}}! Glad you joined."}},
		{ID: "settle_in", Name: "Let things settle", Type: journey.StepWait, WaitDuration: 48 * time.Hour},
		{ID: "tips_push", Name: "Getting-started tips", Type: journey.StepMessage, Channel: "push",
			Content: personalize.Content{Template: "3 tips to get the most out of your account"}},
	})

	lapsed := []journey.Condition{{Field: "days_since_visit", Operator: journey.OpGreaterThan, Value: 30}}
	orch.RegisterJourneyTemplate("winback", []journey.Step{
		{ID: "winback_offer", Name: "Winback offer", Type: journey.StepMessage, Channel: "email",
			Conditions: lapsed,
			Content:    personalize.Content{Template: "We miss you, {{first_name}}! Here is 20% off your next order."}},
		{ID: "offer_breather", Name: "Give the offer time", Type: journey.StepWait, WaitDuration: 72 * time.Hour},
		{ID: "winback_reminder", Name: "Offer reminder", Type: journey.StepMessage, Channel: "push",
			Conditions: lapsed,
			Content:    personalize.Content{Template: "Your 20% discount expires soon"}},
	})
}
