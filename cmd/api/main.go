package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"servicehub/pkg/audit"
	"servicehub/pkg/auth"
	"servicehub/pkg/events"
	"servicehub/pkg/hardening"
	"servicehub/pkg/httpx"
	"servicehub/pkg/metrics"
	"servicehub/pkg/ratelimit"
	"servicehub/pkg/store"
	"servicehub/pkg/stream"
	"servicehub/pkg/telemetry"
)

type Server struct {
	DB        store.DB
	Services  *store.Services
	Purchases *store.Purchases
	Cache     store.Cache
	Audit     *audit.Writer
	Events    *stream.Hub
	Bus       events.Publisher
	Metrics   *metrics.Registry

	RateLimiter     ratelimit.Limiter
	LoginRateLimit  int
	RateLimitWindow time.Duration

	TokenSecret  string
	TokenTTL     time.Duration
	CookieSecure bool

	ServicesCacheTTL    time.Duration
	MaxRequestBodyBytes int64
	TrustedProxyCIDRs   []*net.IPNet
}

type apiDBCloser interface {
	store.DB
	Close()
}

type apiInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type apiOpenDBFunc func(ctx context.Context) (apiDBCloser, error)
type apiOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type apiOpenBusFunc func() (events.Publisher, error)
type apiListenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        = func(ctx context.Context) (apiDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFn     = store.NewRedis
	openBusFn       = func() (events.Publisher, error) {
		brokers := strings.TrimSpace(env("KAFKA_BROKERS", ""))
		if brokers == "" {
			return events.NopPublisher{}, nil
		}
		return events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_TOPIC", "servicehub.purchases"),
		})
	}
	listenFn = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	_ = godotenv.Load()
	if err := runAPI(initTelemetryFn, openDBFn, openRedisFn, openBusFn, listenFn); err != nil {
		logFatalf("api: %v", err)
	}
}

func runAPI(
	initTelemetry apiInitTelemetryFunc,
	openDB apiOpenDBFunc,
	openRedis apiOpenRedisFunc,
	openBus apiOpenBusFunc,
	listen apiListenFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "api")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	tokenSecret := env("TOKEN_SECRET", "")
	if strings.TrimSpace(tokenSecret) == "" {
		return errors.New("TOKEN_SECRET is required")
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Environment:        env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity: env("STRICT_PROD_SECURITY", "true"),
		TokenSecret:        tokenSecret,
		CookieSecure:       env("COOKIE_SECURE", ""),
		DatabaseRequireTLS: env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisRequireTLS:    env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:   env("REDIS_TLS_INSECURE", ""),
		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", ""),
	}); err != nil {
		return err
	}

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus, err := openBus()
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	defer bus.Close()

	rateLimitWindow := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	queryTimeout := time.Millisecond * time.Duration(envInt("DB_QUERY_TIMEOUT_MS", 5000))
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	s := &Server{
		DB:                  pool,
		Services:            &store.Services{DB: pool, Timeout: queryTimeout},
		Purchases:           &store.Purchases{DB: pool, Timeout: queryTimeout},
		Cache:               store.NewCache(ctx, redisClient),
		Audit:               &audit.Writer{DB: pool},
		Events:              stream.NewHub(),
		Bus:                 bus,
		Metrics:             metrics.NewRegistry(),
		LoginRateLimit:      envInt("LOGIN_RATE_LIMIT", 30),
		RateLimitWindow:     rateLimitWindow,
		TokenSecret:         tokenSecret,
		TokenTTL:            time.Hour * time.Duration(envInt("TOKEN_TTL_HOURS", 5)),
		CookieSecure:        env("COOKIE_SECURE", "false") == "true",
		ServicesCacheTTL:    envDurationSec("SERVICES_CACHE_TTL_SEC", 30),
		MaxRequestBodyBytes: maxRequestBodyBytes,
		TrustedProxyCIDRs:   parseCIDRs(env("TRUSTED_PROXY_CIDRS", "")),
	}
	if env("RATE_LIMIT_ENABLED", "true") == "true" {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	r := s.routes()

	addr := env("ADDR", ":5000")
	log.Printf("api listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "http://localhost:5173")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("api"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("app is running"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "api"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	r.Post("/jwt", s.issueToken)
	r.Post("/logout", s.logout)

	r.Post("/services", s.createService)
	r.Get("/services", s.listServices)
	r.Put("/services/{id}", s.updateService)
	r.Delete("/services/{id}", s.deleteService)
	r.Post("/purchased-items", s.createPurchase)
	r.Patch("/servicestodo-items/{id}", s.patchPurchaseStatus)

	guard := s.tokenGuard
	r.With(guard).Post("/add-services", s.createService)
	r.With(guard).Get("/manage-services", s.manageServices)
	r.With(guard).Get("/purchased-items", s.listPurchasedItems)
	r.With(guard).Get("/servicestodo-items", s.listTodoItems)
	r.With(guard).Get("/servicestodo-items/{id}/history", s.purchaseHistory)
	r.With(guard).Get("/events", s.streamEvents)

	return r
}

// tokenGuard wraps the session middleware so guard outcomes land in metrics.
func (s *Server) tokenGuard(next http.Handler) http.Handler {
	guarded := auth.Middleware(s.TokenSecret)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		guarded.ServeHTTP(rec, r)
		if rec.code == http.StatusUnauthorized {
			s.Metrics.IncAuthOutcome("unauthorized")
		} else {
			s.Metrics.IncAuthOutcome("granted")
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap exposes the underlying writer so http.ResponseController (and the
// websocket handshake behind it) can reach Hijack and Flush through the
// middleware wrappers.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if remoteIP != "" && s.isTrustedProxy(remoteIP) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			parts := strings.Split(xff, ",")
			if candidate := parseIP(strings.TrimSpace(parts[0])); candidate != "" {
				return candidate
			}
		}
		if realIP := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != "" {
			return realIP
		}
	}
	if remoteIP == "" {
		return "unknown"
	}
	return remoteIP
}

func (s *Server) isTrustedProxy(ipStr string) bool {
	if len(s.TrustedProxyCIDRs) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, cidr := range s.TrustedProxyCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}

func parseCIDRs(raw string) []*net.IPNet {
	var out []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, cidr, err := net.ParseCIDR(part); err == nil {
			out = append(out, cidr)
		}
	}
	return out
}

func hashIdentity(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return fmt.Sprintf("%x", sum[:])
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
