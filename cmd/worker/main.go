package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifybridge/internal/config"
	"notifybridge/internal/domain/notification"
	"notifybridge/internal/infra/chat"
	"notifybridge/internal/infra/queue"
	"notifybridge/internal/infra/ratelimit"
	"notifybridge/internal/infra/source"
	"notifybridge/internal/infra/store"
	"notifybridge/internal/infra/template"
	"notifybridge/internal/metrics"
	"notifybridge/internal/router"
	"notifybridge/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	problems := cfg.Validate()
	if errs := problems["store"]; len(errs) > 0 {
		slog.Error("record store misconfigured", "error", errors.Join(errs...))
		os.Exit(1)
	}
	slog.Info("worker configuration loaded", "store", cfg.Store.Backend)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Redis (queue, limiter and optionally the record store)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Record Store
	notifStore, err := store.Open(store.Options{
		Backend:     cfg.Store.Backend,
		SupabaseURL: cfg.Supabase.URL,
		SupabaseKey: cfg.Supabase.ServiceKey,
		Redis:       redisClient,
		KeyPrefix:   cfg.Store.KeyPrefix,
	})
	if err != nil {
		slog.Error("failed to initialize record store", "error", err)
		os.Exit(1)
	}
	slog.Info("record store initialized", "backend", cfg.Store.Backend)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	loopMetrics := metrics.NewLoopMetrics(registry)
	reconcileMetrics := metrics.NewReconcileMetrics(registry)

	// Template Engine
	renderer, err := template.NewEngine(cfg.Discord.Footer)
	if err != nil {
		slog.Error("failed to initialize template engine", "error", err)
		os.Exit(1)
	}

	// Discord
	var discord *chat.Discord
	if cfg.Discord.Token != "" {
		session, err := chat.NewSession(cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to initialize discord session", "error", err)
			os.Exit(1)
		}
		discord = chat.NewDiscord(session, renderer, cfg.Discord.RequestsPerSecond, cfg.Discord.Burst)
	}

	// Scheduler
	sched := scheduler.New(scheduler.Config{
		SkipLogInterval: config.Seconds(cfg.Scheduler.SkipLogIntervalSec),
		Metrics:         loopMetrics,
	})

	deps := loopDeps{
		cfg:     cfg,
		store:   notifStore,
		discord: discord,
		limiter: ratelimit.NewRedisRecipientLimiter(redisClient, cfg.Store.KeyPrefix, cfg.Reminders.MaxPerHour, time.Hour),
		metrics: reconcileMetrics,
	}
	for _, loop := range []string{config.LoopLobby, config.LoopCompletedGame, config.LoopReminder} {
		if errs := problems[loop]; len(errs) > 0 {
			slog.Warn("loop disabled", "loop", loop, "error", errors.Join(errs...))
			continue
		}
		rec, interval, err := deps.reconciler(loop)
		if err != nil {
			slog.Error("loop disabled", "loop", loop, "error", err)
			continue
		}
		if rec == nil {
			slog.Info("loop disabled by configuration", "loop", loop)
			continue
		}
		addLoop(sched, rec, interval)
	}

	// Garbage collectors run for every instance, enabled or not, so records
	// of a disabled loop still age out.
	for _, instance := range []notification.Instance{
		notification.InstanceLobby,
		notification.InstanceCompletedGame,
		notification.InstanceReminder,
	} {
		name := config.CollectorLoop(string(instance))
		if errs := problems[name]; len(errs) > 0 {
			slog.Warn("loop disabled", "loop", name, "error", errors.Join(errs...))
			continue
		}
		interval, retention := cfg.Collector(string(instance))
		collector := notification.NewCollector(notifStore, notification.CollectorConfig{
			Instance:  instance,
			Retention: retention,
			BatchSize: cfg.GC.BatchSize,
		})
		addLoop(sched, collector, interval)
	}

	// ==========================================
	// Asynq Server (manual loop runs)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
	)

	// ==========================================
	// Health and Metrics
	// ==========================================

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:      router.NewWorker(sched, registry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("worker http listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker http server failed", "error", err)
		}
	}()

	// ==========================================
	// Run
	// ==========================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler failed", "error", err)
			stop()
		}
	}()

	if err := asynqServer.Start(queue.NewServeMux(sched)); err != nil {
		slog.Error("task server failed to start", "error", err)
		stop()
	} else {
		slog.Info("task server started", "concurrency", cfg.Queue.Concurrency, "redis", cfg.Redis.Address)
	}

	<-ctx.Done()

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	slog.Info("shutting down worker...")
	asynqServer.Shutdown()
	<-schedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker http server forced to shutdown", "error", err)
	}
	slog.Info("worker exited gracefully")
}

// addLoop registers a loop; a rejected loop is logged and left out so the
// other loops still run.
func addLoop(sched *scheduler.Scheduler, job scheduler.Job, interval time.Duration) {
	if err := sched.Add(job, interval); err != nil {
		slog.Error("loop disabled", "loop", job.Name(), "error", err)
		return
	}
	slog.Info("loop registered", "loop", job.Name(), "interval", interval)
}

type loopDeps struct {
	cfg     *config.Config
	store   notification.NotificationStore
	discord *chat.Discord
	limiter notification.RecipientRateLimiter
	metrics *metrics.ReconcileMetrics
}

// reconciler builds the reconciler for one loop. It returns nil when the
// loop is switched off.
func (d loopDeps) reconciler(loop string) (*notification.Reconciler, time.Duration, error) {
	cfg := d.cfg
	rc := notification.ReconcilerConfig{
		Store:   d.store,
		Metrics: d.metrics,
	}

	var interval time.Duration
	switch loop {
	case config.LoopLobby:
		if !cfg.Lobby.Enabled {
			return nil, 0, nil
		}
		interval = cfg.Lobby.Interval()
		rc.Params = notification.Params{
			Instance:       notification.InstanceLobby,
			Mode:           notification.ModeChannel,
			SupportsUpdate: true,
			SupportsRetire: true,
			RetireGrace:    config.Seconds(cfg.Lobby.RetireGraceSec),
			ActiveWindow:   config.Seconds(cfg.Lobby.ActiveWindowSec),
		}
		rc.Source = source.NewLobbySource(cfg.Lobby.APIBase, cfg.Lobby.MapPrefix, config.Seconds(cfg.Lobby.TimeoutSec))
		rc.Channel = d.discord.Channel(cfg.Lobby.ChannelID)

	case config.LoopCompletedGame:
		if !cfg.CompletedGames.Enabled {
			return nil, 0, nil
		}
		interval = cfg.CompletedGames.Interval()
		rc.Params = notification.Params{
			Instance:     notification.InstanceCompletedGame,
			Mode:         notification.ModeChannel,
			ActiveWindow: config.Seconds(cfg.CompletedGames.ActiveWindowSec),
		}
		rc.Source = source.NewCompletedGameSource(cfg.CompletedGames.APIBase, cfg.CompletedGames.Limit, config.Seconds(cfg.CompletedGames.TimeoutSec))
		rc.Channel = d.discord.Channel(cfg.CompletedGames.ChannelID)

	case config.LoopReminder:
		if !cfg.Reminders.Enabled {
			return nil, 0, nil
		}
		interval = cfg.Reminders.Interval()
		rc.Params = notification.Params{
			Instance:     notification.InstanceReminder,
			Mode:         notification.ModeDirect,
			MaxLookback:  config.Seconds(cfg.Reminders.MaxLookbackSec),
			Horizon:      config.Seconds(cfg.Reminders.HorizonSec),
			ActiveWindow: config.Seconds(cfg.Reminders.ActiveWindowSec),
		}
		rc.Source = source.NewReminderSource(cfg.Reminders.APIBase, cfg.Reminders.Limit, config.Seconds(cfg.Reminders.LeadSec), config.Seconds(cfg.Reminders.TimeoutSec))
		rc.Direct = d.discord
		if cfg.Reminders.MaxPerHour > 0 {
			rc.Limiter = d.limiter
		}

	default:
		return nil, 0, fmt.Errorf("unknown loop %q", loop)
	}

	rec, err := notification.NewReconciler(rc)
	if err != nil {
		return nil, 0, err
	}
	return rec, interval, nil
}
