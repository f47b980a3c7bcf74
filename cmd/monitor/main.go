// Package main is the entry point of the attention monitor CLI.
//
// Usage:
//
//	monitor watch <resource-id>     mount a resource, ask for consent and monitor it
//	monitor score <resource-id>     print the combined grade of a resource
//	monitor history [-limit N]      list recorded monitoring runs
//
// Configuration comes from the environment and an optional .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnwatch/attention-monitor/config"
	"github.com/learnwatch/attention-monitor/internal/application/monitor"
	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/camera"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/external/backend"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/messaging"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/memory"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/postgres"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/redis"
	"github.com/learnwatch/attention-monitor/internal/interface/cli"
	httpserver "github.com/learnwatch/attention-monitor/internal/interface/http"
	"github.com/learnwatch/attention-monitor/pkg/logger"
	"github.com/learnwatch/attention-monitor/pkg/timeutil"
)

// exitDeclined is the exit status when the user declines monitoring.
const exitDeclined = 3

var errDeclined = errors.New("monitoring declined")

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errDeclined) {
			os.Exit(exitDeclined)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  monitor watch <resource-id>")
	fmt.Fprintln(w, "  monitor score <resource-id>")
	fmt.Fprintln(w, "  monitor history [-limit N]")
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]

	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.App.Debug && cfg.Observability.LogLevel == "debug",
	})
	log.Debug("starting attention monitor",
		"version", cfg.App.Version,
		"env", cfg.App.Environment,
		"command", cmd,
	)

	if tz := os.Getenv("TZ"); tz != "" {
		if loc, err := timeutil.LoadLocation(tz); err != nil {
			log.Warn("unknown time zone, using local time", "tz", tz, logger.Err(err))
		} else {
			timeutil.SetLocation(loc)
		}
	}

	student := shared.StudentID(cfg.Backend.StudentID)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. JOURNAL (PostgreSQL, optional)
	// ─────────────────────────────────────────────────────────────────────────
	journal, closeJournal, err := openJournal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeJournal()

	if cmd == "history" {
		return runHistory(ctx, journal, student, args)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var cache monitoring.SessionCache
	var redisCache *redis.Cache

	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.URL = cfg.Redis.URL
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix

		redisCache, err = redis.NewCache(ctx, redisCfg)
		if err != nil {
			log.Warn("redis unavailable, using in-process cache", logger.Err(err))
		} else {
			defer redisCache.Close()
			cache = redis.NewSessionCache(redisCache, cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.CacheTTL)
			log.Debug("redis connected")
		}
	}
	if cache == nil {
		cache = memory.NewSessionCache(redis.TTLSession, cfg.Backend.CacheTTL)
	}
	if !cfg.Features.IsEnabled(config.FeatureSessionCache) {
		cache = nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. BACKEND CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := backend.DefaultClientConfig(cfg.Backend.BaseURL, cfg.Backend.Token, student)
	clientCfg.Timeout = cfg.Backend.RequestTimeout
	clientCfg.MaxAttempts = cfg.Backend.MaxRetries
	clientCfg.RetryBaseDelay = cfg.Backend.RetryBaseDelay
	clientCfg.RetryMaxDelay = cfg.Backend.RetryMaxDelay
	clientCfg.BreakerThreshold = cfg.Backend.CircuitBreakerThreshold
	clientCfg.BreakerCooldown = cfg.Backend.CircuitBreakerTimeout
	clientCfg.BreakerProbes = cfg.Backend.CircuitBreakerHalfOpenMax
	clientCfg.FrameLimiter.PerMinute = cfg.Backend.FrameRateLimit
	clientCfg.FrameLimiter.Burst = cfg.Backend.FrameBurst
	clientCfg.Logger = log
	client := backend.NewClient(clientCfg)

	registry := monitor.NewRegistry(monitor.RegistryConfig{
		Student:   student,
		Resources: client,
		Sessions:  client,
		Cache:     cache,
		Logger:    log,
	})
	reconciler := monitor.NewReconciler(student, client, log)
	if !cfg.Features.IsEnabled(config.FeatureRecommendations) {
		reconciler.ScoreOnly()
	}

	switch cmd {
	case "score":
		return runScore(ctx, registry, reconciler, args)
	case "watch":
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}

	resourceID, err := resourceArg(args)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. CAMERA
	// ─────────────────────────────────────────────────────────────────────────
	device, err := camera.New(cfg.Camera, log)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	quality := cfg.Monitoring.JPEGQuality

	captureCfg := monitor.DefaultCaptureConfig(func(img image.Image) (string, error) {
		return camera.EncodeDataURL(img, quality)
	})
	captureCfg.Interval = cfg.Monitoring.CaptureInterval
	captureCfg.FrameTimeout = cfg.Monitoring.FrameTimeout
	captureCfg.Logger = log

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENTS
	// ─────────────────────────────────────────────────────────────────────────
	// The presenter needs events in order, so the main bus runs handlers on
	// the publisher's goroutine. The Redis mirror gets its own async bus.
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	defer bus.Close()

	presenter := cli.NewPresenter(os.Stdout, cli.PresenterOptions{
		LiveReadout: cfg.Features.IsEnabled(config.FeatureLiveReadout),
		Terminal:    cli.IsTerminal(os.Stdout),
		Width:       cli.TerminalWidth(os.Stdout),
	})
	if err := bus.SubscribeAll(presenter.Handle); err != nil {
		return err
	}

	if redisCache != nil {
		mirrorCfg := messaging.DefaultInMemoryEventBusConfig()
		mirrorCfg.Logger = log
		mirrorBus := messaging.NewInMemoryEventBus(mirrorCfg)
		defer mirrorBus.Close()

		mirror := messaging.NewRedisMirror(redisCache.Client(), "")
		if err := mirrorBus.SubscribeAll(mirror.Handle); err != nil {
			return err
		}
		if err := bus.SubscribeAll(mirrorBus.Publish); err != nil {
			return err
		}
		log.Debug("mirroring events to redis", "instance", mirror.InstanceID())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. VIEWER
	// ─────────────────────────────────────────────────────────────────────────
	viewer := monitor.NewViewer(monitor.ViewerConfig{
		Registry:        registry,
		Sessions:        client,
		Media:           monitor.NewMedia(device, log),
		Capture:         monitor.NewCaptureScheduler(client, captureCfg),
		Countdown:       monitor.NewCountdown(cfg.Monitoring.CountdownTick),
		Reconciler:      reconciler,
		Journal:         journal,
		Events:          bus,
		DefaultDuration: cfg.Monitoring.DefaultDuration,
		ReadyTimeout:    cfg.Monitoring.ReadyTimeout,
		Logger:          log,
	})
	defer viewer.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. STATUS SERVER (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.App.StatusAddr != "" {
		server := httpserver.NewServer(httpserver.DefaultConfig(cfg.App.StatusAddr), httpserver.Dependencies{
			Viewer:  viewer,
			History: monitor.NewGetHistoryHandler(journal),
			Student: student,
			Backend: func() (string, float64) {
				st := client.Status()
				return st.Breaker, st.FramesAvailable
			},
			Version: cfg.App.Version,
			Logger:  log,
		})
		errCh := server.StartAsync()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Warn("status server shutdown failed", logger.Err(err))
			}
			if err := <-errCh; err != nil {
				log.Warn("status server stopped", logger.Err(err))
			}
		}()
	}

	prompt := cli.NewConsentPrompt(os.Stdin, os.Stdout)
	return watch(ctx, viewer, prompt, resourceID, cfg.Monitoring.ConsentTimeout,
		!cfg.Features.IsEnabled(config.FeatureRecommendations))
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func watch(ctx context.Context, viewer *monitor.Viewer, prompt *cli.ConsentPrompt, id shared.ResourceID, consentTimeout time.Duration, scoreOnly bool) error {
	if err := viewer.Mount(ctx, id); err != nil {
		return err
	}

	snap, err := viewer.WaitFor(ctx, func(s monitor.Snapshot) bool {
		return s.CanBegin || s.Err != nil ||
			(s.Resource != nil && !s.Resource.CanOfferMonitoring())
	})
	if err != nil {
		return err
	}
	if snap.Err != nil {
		return snap.Err
	}
	if !snap.CanBegin {
		fmt.Println("This resource does not use attention monitoring.")
		return nil
	}
	fmt.Printf("%s (%s, %s)\n", snap.Resource.Name, snap.Resource.Kind, timeutil.FormatCountdown(snap.Duration))

	if err := viewer.Begin(); err != nil {
		return err
	}

	askCtx := ctx
	if consentTimeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, consentTimeout)
		defer cancel()
	}
	ok, err := prompt.Ask(askCtx, monitoring.ConsentNotice)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		_ = viewer.Decline()
		return err
	}
	if !ok {
		_ = viewer.Decline()
		fmt.Println("Monitoring declined. The camera was not used.")
		return errDeclined
	}

	if err := viewer.Accept(); err != nil {
		return err
	}

	snap, err = viewer.WaitFor(ctx, func(s monitor.Snapshot) bool {
		return s.Err != nil || (s.Completed && s.State == monitoring.StateIdle)
	})
	if err != nil {
		return err
	}
	if snap.Err != nil {
		fmt.Println(snap.Message)
		return snap.Err
	}

	if snap.Resource != nil && snap.Resource.ShouldReconcile() {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if s, err := viewer.WaitFor(waitCtx, reconciled(scoreOnly)); err == nil {
			snap = s
		} else {
			snap = viewer.Snapshot()
		}
	}

	fmt.Println()
	cli.WriteResult(os.Stdout, snap)
	return nil
}

func reconciled(scoreOnly bool) func(monitor.Snapshot) bool {
	return func(s monitor.Snapshot) bool {
		switch {
		case s.ScoreErr != nil:
			return true
		case s.Score == nil:
			return false
		case scoreOnly:
			return true
		default:
			return s.Recommendation != nil || s.RecommendationErr != nil
		}
	}
}

func runScore(ctx context.Context, registry *monitor.Registry, reconciler *monitor.Reconciler, args []string) error {
	id, err := resourceArg(args)
	if err != nil {
		return err
	}
	res, err := registry.Resource(ctx, id)
	if err != nil {
		return err
	}
	score, err := reconciler.FetchScore(ctx, *res)
	if err != nil {
		return err
	}
	if score == nil {
		fmt.Printf("%s is not graded.\n", res.Name)
		return nil
	}
	cli.WriteScore(os.Stdout, score.AttentionOrZero().Rounded(), score.AcademicOrZero().Rounded(), score.Combined)
	return nil
}

func runHistory(ctx context.Context, journal monitoring.JournalRepository, student shared.StudentID, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, err := monitor.NewGetHistoryHandler(journal).Handle(ctx, monitor.GetHistoryQuery{
		StudentID: student,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	return cli.WriteHistory(os.Stdout, h, time.Now())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func resourceArg(args []string) (shared.ResourceID, error) {
	if len(args) != 1 {
		usage(os.Stderr)
		return "", errors.New("expected one resource id")
	}
	return shared.ParseResourceID(args[0])
}

// openJournal returns the PostgreSQL journal when a database is configured
// and the journal feature is on, otherwise an in-process one.
func openJournal(ctx context.Context, cfg *config.Config, log *slog.Logger) (monitoring.JournalRepository, func(), error) {
	if !cfg.Database.Enabled() || !cfg.Features.IsEnabled(config.FeatureJournal) {
		return memory.NewJournal(), func() {}, nil
	}

	dbCfg := postgres.DefaultConfig(cfg.Database.URL)
	dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	dbCfg.QueryTimeout = cfg.Database.QueryTimeout
	dbCfg.LogQueries = cfg.Database.LogQueries
	dbCfg.Logger = log

	conn, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if status, err := migrator.Status(ctx); err != nil {
		log.Warn("failed to get migration status", logger.Err(err))
	} else {
		applied := 0
		for _, m := range status {
			if m.IsApplied {
				applied++
			}
		}
		log.Debug("migrations completed", "applied", applied, "total", len(status))
	}

	return postgres.NewJournalRepository(conn), conn.Close, nil
}
