package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tripslake/lake/builder/pkg/clickhouse"
	"github.com/tripslake/lake/builder/pkg/config"
	"github.com/tripslake/lake/builder/pkg/metrics"
	"github.com/tripslake/lake/builder/pkg/mirror"
	"github.com/tripslake/lake/builder/pkg/obt"
	"github.com/tripslake/lake/builder/pkg/postgres"
	"github.com/tripslake/lake/builder/pkg/report"
	"github.com/tripslake/lake/utils/pkg/dberror"
	"github.com/tripslake/lake/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := dberror.Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func run() error {
	modeFlag := flag.String("mode", string(obt.ModeFull), "Build mode: 'full' or 'by-partition'")
	yearStartFlag := flag.Int("year-start", config.DefaultYearStart, "First year to build (inclusive)")
	yearEndFlag := flag.Int("year-end", config.DefaultYearEnd, "Last year to build (inclusive)")
	servicesFlag := flag.String("services", config.DefaultServices, "Comma-separated services to build")
	runIDFlag := flag.String("run-id", config.DefaultRunID, "Identifier for this run, used in logs and metrics")
	overwriteFlag := flag.Bool("overwrite", false, "Replace existing partitions (by-partition) or truncate the table first (full)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to serve prometheus metrics on while running (disabled if empty)")
	noProgressFlag := flag.Bool("no-progress", false, "Disable the progress bar")

	// ClickHouse mirror configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) for the optional mirror (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run the ClickHouse mirror migrations and exit")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse mirror migration status and exit")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := config.LoadEnvFile(*envFileFlag); err != nil {
		return err
	}

	chCfg := config.ClickHouseConfig{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	config.ApplyClickHouseEnv(&chCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *clickhouseMigrateFlag {
		if !chCfg.Enabled() {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.Up(ctx, log, chCfg)
	}
	if *clickhouseMigrateStatusFlag {
		if !chCfg.Enabled() {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return clickhouse.Status(ctx, log, chCfg)
	}

	req, err := config.RunFlags{
		Mode:      *modeFlag,
		YearStart: *yearStartFlag,
		YearEnd:   *yearEndFlag,
		Services:  *servicesFlag,
		RunID:     *runIDFlag,
		Overwrite: *overwriteFlag,
	}.Request()
	if err != nil {
		return err
	}
	pgCfg, err := config.LoadPostgres()
	if err != nil {
		return err
	}

	flushSentry := initSentry(log)
	defer flushSentry()

	err = build(ctx, log, pgCfg, chCfg, req, *metricsAddrFlag, !*noProgressFlag)
	if err != nil {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("mode", string(req.Mode))
			scope.SetTag("run_id", req.RunID)
			scope.SetTag("error_type", dberror.Classify(err).String())
			sentry.CaptureException(err)
		})
	}
	return err
}

func build(
	ctx context.Context,
	log *slog.Logger,
	pgCfg config.PostgresConfig,
	chCfg config.ClickHouseConfig,
	req obt.Request,
	metricsAddr string,
	progress bool,
) error {
	clock := clockwork.NewRealClock()
	reporterCfg := report.Config{Logger: log, Out: os.Stdout, Clock: clock}
	if progress {
		reporterCfg.ProgressOut = os.Stderr
	}
	reporter, err := report.New(reporterCfg)
	if err != nil {
		return err
	}

	reporter.PrintConnection(pgCfg.Addr(), pgCfg.Database, pgCfg.User)
	pool, err := postgres.Connect(ctx, log, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	fmt.Fprintln(os.Stdout, "Connection established")

	store := obt.NewPostgresStore(pool, pgCfg.AnalyticsSchema)
	builderCfg := obt.Config{
		Logger:   log,
		Clock:    clock,
		Store:    store,
		Queries:  obt.NewQueryProvider(pgCfg.RawSchema),
		Observer: reporter,
	}

	if chCfg.Enabled() {
		if err := clickhouse.Up(ctx, log, chCfg); err != nil {
			return fmt.Errorf("failed to prepare clickhouse mirror: %w", err)
		}
		chClient, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer chClient.Close()
		m, err := mirror.New(mirror.Config{
			Logger:      log,
			Source:      pool,
			SourceTable: store.Table(),
			ClickHouse:  chClient,
		})
		if err != nil {
			return err
		}
		builderCfg.Mirror = m
	}

	b, err := obt.New(builderCfg)
	if err != nil {
		return err
	}

	var listener net.Listener
	if metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err = net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	if listener != nil {
		g.Go(func() error {
			return serveMetrics(gctx, listener)
		})
	}

	var summary *obt.Summary
	var runErr error
	g.Go(func() error {
		defer stop()
		summary, runErr = b.Run(gctx, req)
		reporter.RunFinished(req.Mode, summary, runErr)
		return runErr
	})
	if err := g.Wait(); err != nil && runErr == nil {
		return err
	}

	if summary == nil {
		return runErr
	}

	// A cancelled run still gets its inventory read on a fresh context.
	invCtx, invCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer invCancel()
	inventory, err := b.Inventory(invCtx)
	if err != nil {
		log.Warn("failed to read partition inventory", "error", err)
	}
	if err := reporter.PrintSummary(summary, inventory, runErr); err != nil {
		log.Warn("failed to print summary", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(os.Stdout, "\nBuild finished successfully")
	return nil
}

func serveMetrics(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("prometheus metrics server failed: %w", err)
	}
	return nil
}

// initSentry enables error reporting when SENTRY_DSN is set and returns a
// flush function to defer.
func initSentry(log *slog.Logger) func() {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return func() {}
	}
	env := os.Getenv("SENTRY_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          version,
		AttachStacktrace: true,
	}); err != nil {
		log.Warn("sentry initialization failed", "error", err)
		return func() {}
	}
	log.Debug("sentry initialized", "environment", env)
	return func() { sentry.Flush(2 * time.Second) }
}
