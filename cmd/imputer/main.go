package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/imputation"
	"github.com/smukkama/flow-imputer/internal/metrics"
	"github.com/smukkama/flow-imputer/internal/queue"
	"github.com/smukkama/flow-imputer/internal/runlock"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/timer"
	"github.com/smukkama/flow-imputer/internal/window"
	"github.com/smukkama/flow-imputer/pkg/config"
)

const pushJob = "flow_imputer"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	daemon := flag.Bool("daemon", cfg.Imputation.Daemon, "run every day at IMPUTATION_DAILY_TIME instead of once")
	targets := flag.String("targets", "", "comma separated client:location pairs (default: every pair)")
	lookback := flag.Int("lookback", cfg.Imputation.LookbackDays, "history window in days")
	date := flag.String("date", "", "target date YYYY-MM-DD (default: latest day with data)")
	workers := flag.Int("workers", cfg.Imputation.Workers, "client locations processed concurrently")
	reportPath := flag.String("report", "", "write a CSV report of the run to this file")
	createTopic := flag.Bool("create-topic", false, "create the run events topic before publishing")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)

	tz, err := time.LoadLocation(cfg.Imputation.TimeZone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Imputation.TimeZone).Msg("Invalid time zone")
	}

	pairs, err := resolveTargets(*targets, cfg.Imputation.Targets)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid targets")
	}

	targetDate, err := parseTargetDate(*date, *daemon, tz)
	if err != nil {
		logger.Fatal().Err(err).Str("date", *date).Msg("Invalid target date")
	}

	fmt.Println("Starting Flow Imputer...")

	// Connect to database
	db, err := database.Connect(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	fmt.Printf("Connected to %s database\n", db.Driver())

	r := &runner{
		db:       db,
		logger:   logger,
		metrics:  metrics.New(),
		tz:       tz,
		cfg:      cfg,
		resolver: schedule.NewResolver(schedule.HourRange{Start: cfg.Imputation.DefaultStart, End: cfg.Imputation.DefaultEnd}),
		thresholds: detection.Thresholds{
			MinHistory:       cfg.Imputation.Thresholds.MinHistory,
			OrderOfMagnitude: cfg.Imputation.Thresholds.OrderOfMagnitude,
			MeanFraction:     cfg.Imputation.Thresholds.MeanFraction,
			SigmaLimit:       cfg.Imputation.Thresholds.SigmaLimit,
			InsideShareMin:   cfg.Imputation.Thresholds.InsideShareMin,
			InsideShareMax:   cfg.Imputation.Thresholds.InsideShareMax,
			AbsoluteFloor:    cfg.Imputation.Thresholds.AbsoluteFloor,
		},
	}

	// Run events are optional
	if len(cfg.Kafka.Brokers) > 0 {
		if *createTopic {
			if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicRuns, 3, 1); err != nil {
				logger.Warn().Err(err).Str("topic", cfg.Kafka.TopicRuns).Msg("Failed to create topic")
			}
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRuns)
		defer producer.Close()
		r.publisher = producer
		fmt.Printf("Publishing run events to %s\n", cfg.Kafka.TopicRuns)
	}

	// Single-instance lock is optional
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		r.lock = runlock.New(redisClient, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		fmt.Println("Connected to Redis")
	}

	opts := imputation.Options{
		Pairs:        pairs,
		LookbackDays: *lookback,
		TargetDate:   targetDate,
		Workers:      *workers,
	}

	if !*daemon {
		report, err := r.run(ctx, opts)
		if err != nil {
			logger.Error().Err(err).Msg("Imputation run failed")
			os.Exit(1)
		}
		report.Summary(os.Stdout)
		warnFailures(logger, report)
		if *reportPath != "" {
			if err := writeReport(*reportPath, report); err != nil {
				logger.Error().Err(err).Msg("Failed to write report")
			}
		}
		return
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux(r.metrics)}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	defer server.Shutdown(context.Background())

	scheduler, err := timer.NewDailyScheduler(cfg.Imputation.DailyTime, tz, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid daily run time")
	}

	fmt.Printf("\n✓ Flow Imputer is running (daily at %s %s)\n", cfg.Imputation.DailyTime, tz)
	fmt.Printf("✓ Metrics on %s/metrics\n", cfg.Metrics.ListenAddr)
	fmt.Println("✓ Press Ctrl+C to stop")

	// each scheduled run targets the latest confirmed day of every pair
	err = scheduler.Run(ctx, func(ctx context.Context, _ time.Time) {
		fmt.Println("\n--- Running Imputation ---")
		report, err := r.run(ctx, opts)
		if err != nil {
			logger.Error().Err(err).Msg("Imputation run failed")
			return
		}
		report.Summary(os.Stdout)
		warnFailures(logger, report)
		fmt.Println("--- Imputation Complete ---")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Scheduler stopped")
	}
}

// runner holds the long-lived collaborators; each run gets a fresh Env.
type runner struct {
	db         *database.DB
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	publisher  imputation.Publisher
	lock       *runlock.Lock
	tz         *time.Location
	cfg        *config.Config
	resolver   *schedule.Resolver
	thresholds detection.Thresholds
}

func (r *runner) run(ctx context.Context, opts imputation.Options) (*imputation.Report, error) {
	if r.lock != nil {
		if err := r.lock.Acquire(ctx); err != nil {
			if errors.Is(err, runlock.ErrHeld) {
				if holder, herr := r.lock.Holder(ctx); herr == nil {
					r.logger.Warn().Str("holder", holder).Msg("Another imputer instance holds the run lock")
				}
			}
			return nil, err
		}
		r.logger.Debug().Str("token", r.lock.Token()).Msg("Acquired run lock")
		defer func() {
			if err := r.lock.Release(context.Background()); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	loader := window.NewLoader(r.db, r.cfg.Imputation.MinLookbackDays, r.tz)
	env := imputation.NewEnv(r.db, loader, r.logger)
	env.Publisher = r.publisher
	env.Metrics = r.metrics

	report, err := imputation.NewEngine(env, r.resolver, r.thresholds).Run(ctx, opts)

	if url := r.cfg.Metrics.PushgatewayURL; url != "" {
		if perr := r.metrics.Push(context.Background(), url, pushJob); perr != nil {
			r.logger.Warn().Err(perr).Msg("Failed to push metrics")
		}
	}

	return report, err
}

func warnFailures(logger zerolog.Logger, report *imputation.Report) {
	if report.HasFailures() {
		logger.Warn().
			Str("run_id", report.RunID).
			Int("failed", report.Totals().Failed).
			Msg("Some client locations failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

// parseTargetDate reads -date in tz. Daemon runs always follow the latest
// confirmed day, so a fixed date is rejected there.
func parseTargetDate(value string, daemon bool, tz *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if daemon {
		return nil, errors.New("-date cannot be combined with -daemon")
	}
	d, err := time.ParseInLocation("2006-01-02", value, tz)
	if err != nil {
		return nil, fmt.Errorf("invalid -date: %w", err)
	}
	return &d, nil
}

func resolveTargets(flagValue string, fromConfig []config.Target) ([]database.Pair, error) {
	targets := fromConfig
	if flagValue != "" {
		parsed, err := config.ParseTargets(flagValue)
		if err != nil {
			return nil, err
		}
		targets = parsed
	}

	pairs := make([]database.Pair, len(targets))
	for i, t := range targets {
		pairs[i] = database.Pair{Client: t.Client, Location: t.Location}
	}
	return pairs, nil
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func writeReport(path string, report *imputation.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := report.WriteCSV(f); err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
