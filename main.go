package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	analyticsapp "vehicle-telemetry/internal/analytics/application"
	"vehicle-telemetry/internal/analytics/application/eventbus"
	"vehicle-telemetry/internal/analytics/application/events"
	"vehicle-telemetry/internal/analytics/domain/rolling"
	analyticsmemory "vehicle-telemetry/internal/analytics/infrastructure/memory"
	analyticspostgres "vehicle-telemetry/internal/analytics/infrastructure/postgres"
	analyticssqlite "vehicle-telemetry/internal/analytics/infrastructure/sqlite"
	apihttp "vehicle-telemetry/internal/api/http"
	"vehicle-telemetry/internal/auth"
	"vehicle-telemetry/internal/config"
	liveapp "vehicle-telemetry/internal/live/application"
	livesse "vehicle-telemetry/internal/live/interfaces/sse"
	livews "vehicle-telemetry/internal/live/interfaces/ws"
	"vehicle-telemetry/internal/observability/metrics"
	"vehicle-telemetry/internal/storage/sqlitepool"
	telemetryapp "vehicle-telemetry/internal/telemetry/application"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
	telemetrymemory "vehicle-telemetry/internal/telemetry/infrastructure/memory"
	telemetrypostgres "vehicle-telemetry/internal/telemetry/infrastructure/postgres"
	telemetrysqlite "vehicle-telemetry/internal/telemetry/infrastructure/sqlite"
	"vehicle-telemetry/internal/telemetry/interfaces/httpingest"
	"vehicle-telemetry/internal/telemetry/interfaces/serial"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	pipeline, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Fatalf("storage error: %v", err)
	}
	defer store.Close()
	metrics.Init(store.counter, logger)

	frame := telemetry.NewLatestFrame()
	specs := pipeline.Specs()
	buffer, err := rolling.NewBuffer(rolling.Horizon(specs))
	if err != nil {
		logger.Fatalf("buffer error: %v", err)
	}
	engine, err := rolling.NewEngine(buffer, specs...)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	ingestor, err := telemetryapp.NewIngestor(frame, buffer, nil, logger)
	if err != nil {
		logger.Fatalf("ingestor error: %v", err)
	}
	opener := serial.NewOpener(serial.Config{
		Device:           pipeline.Source.Device,
		Baud:             pipeline.Source.Baud,
		Simulate:         pipeline.Source.Simulate,
		SimulateFallback: pipeline.Source.SimulateFallback,
		SimulateInterval: pipeline.Source.SimulateInterval,
		DialTimeout:      pipeline.Source.DialTimeout,
		Logger:           logger,
	})
	reader, err := telemetryapp.NewReader(opener, ingestor, pipeline.Source.RetryInterval, logger)
	if err != nil {
		logger.Fatalf("reader error: %v", err)
	}

	bus := eventbus.NewInMemoryBus()
	liveHub := liveapp.NewHub("live", logger)
	aggregateHub := liveapp.NewHub("aggregates", logger)
	relay := liveapp.NewAggregateRelay(aggregateHub)
	bus.Subscribe(eventbus.TypeOf[events.AggregateCommitted](), relay.Handle)
	bus.Subscribe(eventbus.TypeOf[events.AggregateFailed](), relay.Handle)

	broadcaster, err := liveapp.NewBroadcaster(frame, liveHub, pipeline.Live.Tick, nil, logger)
	if err != nil {
		logger.Fatalf("broadcaster error: %v", err)
	}

	scheduler, err := analyticsapp.NewScheduler(engine, store.aggregates, cfg.VehicleID, specs,
		analyticsapp.WithEventBus(bus),
		analyticsapp.WithLogger(logger),
		analyticsapp.WithCheckInterval(pipeline.Aggregation.CheckInterval),
		analyticsapp.WithWriteTimeout(pipeline.Storage.WriteTimeout),
	)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Printf("%s stopped", name)
		}()
	}
	run("reader", reader.Run)
	run("broadcaster", broadcaster.Run)
	run("scheduler", scheduler.Run)

	if pipeline.Logbook.Interval > 0 {
		recorder, err := telemetryapp.NewLogRecorder(frame, store.logs, cfg.VehicleID, pipeline.Logbook.Interval, pipeline.Storage.WriteTimeout, nil, logger)
		if err != nil {
			logger.Fatalf("log recorder error: %v", err)
		}
		run("log recorder", recorder.Run)
	}

	ingestHandler, err := httpingest.NewIngestHandler(ingestor, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ws", livews.NewHandler(liveHub, pipeline.Live.QueueSize, logger))
	mux.Handle("/api/v1/live/stream", livesse.NewStreamHandler(liveHub, "frame", pipeline.Live.QueueSize, logger))
	mux.Handle("/api/v1/aggregates/stream", livesse.NewStreamHandler(aggregateHub, "aggregate", pipeline.Live.QueueSize, logger))
	mux.Handle("/api/v1/aggregates", apihttp.NewAggregatesHandler(store.aggregateQuery, cfg.VehicleID, logger))
	mux.Handle("/api/logs/since", apihttp.NewLogsSinceHandler(store.logQuery, cfg.LogsSinceLimit, logger))
	for _, format := range []string{apihttp.FormatCSV, apihttp.FormatXLSX, apihttp.FormatPDF} {
		handler, err := apihttp.NewExportAggregatesHandler(store.aggregateQuery, format, cfg.VehicleID, logger)
		if err != nil {
			logger.Fatalf("export handler error: %v", err)
		}
		mux.Handle("/api/v1/exports/aggregates."+format, handler)
	}
	mux.Handle("/ingest/lines", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/health", apihttp.NewHealthHandler(frame, liveHub, aggregateHub))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/health", "/ingest/lines"}, nil)
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Printf("auth disabled: AUTH_JWT_SECRET not set")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		liveHub.CloseAll()
		aggregateHub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (storage=%s vehicle=%d)", cfg.HTTPAddr, cfg.StorageDriver, cfg.VehicleID)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("http server error: %v", err)
		stop()
	}
	<-shutdownDone
	wg.Wait()
	logger.Printf("shutdown complete")
}

type appConfig struct {
	HTTPAddr          string
	StorageDriver     string
	DatabaseURL       string
	SQLitePath        string
	SQLitePoolSize    int
	VehicleID         int64
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
	LogsSinceLimit    int
	ShutdownTimeout   time.Duration
}

func loadConfig() appConfig {
	cfg := appConfig{
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":5000"),
		StorageDriver:     strings.ToLower(getenvDefault("STORAGE_DRIVER", driverSQLite)),
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:        getenvDefault("SQLITE_PATH", "telemetry.db"),
		SQLitePoolSize:    getenvIntDefault("SQLITE_POOL_SIZE", 4),
		VehicleID:         int64(getenvIntDefault("VEHICLE_ID", 1)),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		LogsSinceLimit:    getenvIntDefault("LOGS_SINCE_LIMIT", 1000),
		ShutdownTimeout:   getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	switch cfg.StorageDriver {
	case driverMemory, driverSQLite:
	case driverPostgres:
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL or PG_DSN is required for STORAGE_DRIVER=postgres")
		}
	default:
		log.Fatalf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.VehicleID <= 0 {
		log.Fatal("VEHICLE_ID must be positive")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// ---- Storage ----

type aggregateStore interface {
	rolling.AggregateRepository
	rolling.AggregateQuery
}

type logStore interface {
	telemetry.LogRepository
	telemetry.LogQuery
}

type storage struct {
	aggregates     rolling.AggregateRepository
	aggregateQuery rolling.AggregateQuery
	logs           telemetry.LogRepository
	logQuery       telemetry.LogQuery
	counter        metrics.RowCounter
	closers        []func() error
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func newStorage(aggregates aggregateStore, logs logStore, counter metrics.RowCounter) *storage {
	return &storage{
		aggregates:     aggregates,
		aggregateQuery: aggregates,
		logs:           logs,
		logQuery:       logs,
		counter:        counter,
	}
}

func openStorage(ctx context.Context, cfg appConfig, pipeline config.Config, logger *log.Logger) (*storage, error) {
	vehicle := telemetry.DefaultVehicle
	vehicle.ID = cfg.VehicleID
	missing := pipeline.MissingValue()

	switch cfg.StorageDriver {
	case driverMemory:
		aggregates := analyticsmemory.NewAggregateRepository()
		logs := telemetrymemory.NewLogRepository()
		counter := tableCounter{
			"aggregates_fast": aggregates,
			"aggregates_slow": aggregates,
			"logs":            logs,
		}
		return newStorage(aggregates, logs, counter), nil

	case driverSQLite:
		path := cfg.SQLitePath
		if strings.HasPrefix(cfg.DatabaseURL, "sqlite:") {
			path = cfg.DatabaseURL
		}
		pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: cfg.SQLitePoolSize, Logger: logger})
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("sqlite ping: %w", err)
		}
		var opts []analyticssqlite.RepositoryOption
		if missing == nil {
			opts = append(opts, analyticssqlite.WithNullForMissing())
		} else {
			opts = append(opts, analyticssqlite.WithMissingValue(*missing))
		}
		aggregates := analyticssqlite.NewAggregateRepository(pool, opts...)
		logs := telemetrysqlite.NewLogRepository(pool)
		if err := aggregates.EnsureSchema(ctx); err != nil {
			_ = pool.Close()
			return nil, err
		}
		if err := logs.EnsureSchema(ctx, vehicle); err != nil {
			_ = pool.Close()
			return nil, err
		}
		store := newStorage(aggregates, logs, pool)
		store.closers = append(store.closers, pool.Close)
		return store, nil

	case driverPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		var opts []analyticspostgres.RepositoryOption
		if missing == nil {
			opts = append(opts, analyticspostgres.WithNullForMissing())
		} else {
			opts = append(opts, analyticspostgres.WithMissingValue(*missing))
		}
		aggregates := analyticspostgres.NewAggregateRepository(db, opts...)
		logs := telemetrypostgres.NewLogRepository(db)
		if err := logs.EnsureSchema(ctx, vehicle); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := aggregates.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		counter := tableCounter{
			"aggregates_fast": aggregates,
			"aggregates_slow": aggregates,
			"logs":            logs,
		}
		store := newStorage(aggregates, logs, counter)
		store.closers = append(store.closers, db.Close)
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// tableCounter routes row counts to the repository owning each table.
type tableCounter map[string]metrics.RowCounter

func (c tableCounter) CountRows(ctx context.Context, table string) (int64, error) {
	counter, ok := c[table]
	if !ok {
		return 0, fmt.Errorf("no counter for table %q", table)
	}
	return counter.CountRows(ctx, table)
}

// ---- HTTP ----

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush keeps event streams working behind the logger.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is required by the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
