package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"telemetry-ws/internal/auth"
	"telemetry-ws/internal/eventing"
	devicehttp "telemetry-ws/internal/masterdata/interfaces/http"
	masterdatarepo "telemetry-ws/internal/masterdata/infrastructure/postgres"
	"telemetry-ws/internal/observability/metrics"
	telemetryapp "telemetry-ws/internal/telemetry/application"
	telemetrypostgres "telemetry-ws/internal/telemetry/infrastructure/postgres"
	"telemetry-ws/internal/telemetry/interfaces/thingsboard"
	"telemetry-ws/internal/telemetry/interfaces/ws"
	"telemetry-ws/internal/telemetry/subscription"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	wsCfg, err := ws.LoadConfig()
	if err != nil {
		logger.Fatalf("ws config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	seriesRepo := telemetrypostgres.NewTimeseriesRepository(db)
	seriesQuery := telemetrypostgres.NewTimeseriesQuery(db)
	attributeRepo := telemetrypostgres.NewAttributeRepository(db)

	deviceChecker, err := auth.NewDeviceChecker(deviceRepo, logger)
	if err != nil {
		logger.Fatalf("device checker error: %v", err)
	}
	latestReader, err := telemetryapp.NewAsyncLatestReader(seriesQuery)
	if err != nil {
		logger.Fatalf("latest reader error: %v", err)
	}

	subscriptions := subscription.NewManager(logger, subscription.WithAttributeScope(wsCfg.AttributeScope))
	msgHandler, err := ws.NewMsgHandler(
		ws.NewSessionRegistry(),
		attributeRepo,
		seriesQuery,
		latestReader,
		deviceChecker,
		subscriptions,
		logger,
		ws.WithAttributeScope(wsCfg.AttributeScope),
	)
	if err != nil {
		logger.Fatalf("telemetry ws handler error: %v", err)
	}
	subscriptions.SetPublisher(msgHandler)

	wsServer, err := ws.NewServer(msgHandler, wsCfg, []byte(cfg.JWTSecret), logger)
	if err != nil {
		logger.Fatalf("telemetry ws server error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	telemetryapp.WireSubscriptionFeed(bus, subscriptions)

	ingestHandler, err := thingsboard.NewIngestHandler(seriesRepo, attributeRepo, deviceRepo, bus, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	deviceHandler, err := devicehttp.NewHandler(deviceRepo, logger)
	if err != nil {
		logger.Fatalf("devices handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", wsServer.Path()}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestSigner([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second, logger)

	mux := http.NewServeMux()
	mux.Handle(wsServer.Path(), wsServer)
	mux.Handle("/ingest/thingsboard/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (telemetry ws at %s)", cfg.HTTPAddr, wsServer.Path())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
	msgHandler.Wait()
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
