package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avinashrudhra/robotics/internal/auth"
	"github.com/avinashrudhra/robotics/internal/chat"
	"github.com/avinashrudhra/robotics/internal/config"
	"github.com/avinashrudhra/robotics/internal/handler"
	"github.com/avinashrudhra/robotics/internal/middleware"
)

type app struct {
	cfg     *config.Config
	origins []string
	ws      *handler.WSHandler
	login   *handler.LoginHandler
	upload  *handler.UploadHandler
	started time.Time
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	origins, err := parseAllowedOrigins(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	creds := auth.NewCredentials(cfg.User1Name, cfg.User1Hash, cfg.User2Name, cfg.User2Hash)
	tokens := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL)

	limiter := middleware.NewLoginLimiter(ctx, cfg.MaxLoginAttempts, cfg.LoginCooldown)
	if cfg.TrustedProxies != "" {
		limiter.SetTrustedProxies(strings.Split(cfg.TrustedProxies, ","))
	}

	room := chat.NewRoom(chat.Options{
		Identities:    creds.Identities(),
		DeliveryDelay: cfg.DeliveryDelay,
	})

	// Inbound frames carry media as base64 data URLs, so the read limit
	// needs headroom over the raw upload cap.
	maxFrame := cfg.MaxUploadBytes*2 + 64*1024

	return &app{
		cfg:     cfg,
		origins: origins,
		ws:      handler.NewWSHandler(room, tokens, origins, cfg.InactivityTimeout, maxFrame),
		login:   &handler.LoginHandler{Credentials: creds, Tokens: tokens, Limiter: limiter},
		upload:  &handler.UploadHandler{MaxBytes: cfg.MaxUploadBytes},
		started: time.Now(),
	}, nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"uptime": time.Since(a.started).Round(time.Second).String(),
		})
	})

	mux.HandleFunc("POST /login", a.login.Login)
	mux.HandleFunc("POST /upload", a.upload.Upload)
	mux.HandleFunc("GET /ws", a.ws.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	fs := http.FileServer(http.Dir(a.cfg.WebDir))
	mux.Handle("/", fs)

	return bodyLimitMiddleware(securityHeadersMiddleware(corsMiddleware(loggingMiddleware(mux), a.origins)))
}

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     a.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("Chat server starting", "port", cfg.Port, "users", fmt.Sprintf("%s & %s", cfg.User1Name, cfg.User2Name))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/upload" {
			// Responses carry credentials or user media; never cache.
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
		}
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self'; "+
				"style-src 'self'; "+
				"img-src 'self' data:; "+
				"media-src 'self' data:; "+
				"connect-src 'self'; "+
				"font-src 'self'; "+
				"frame-ancestors 'none'; "+
				"base-uri 'self'; "+
				"form-action 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

const maxBodySize = 64 * 1024

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upload endpoint enforces its own, larger cap.
		if (r.Method == "POST" || r.Method == "PUT") && r.URL.Path != "/upload" {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && isOriginAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseAllowedOrigins(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, entry := range parts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || strings.HasPrefix(entry, "*.") {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entries must be full https origins; wildcard values are not allowed: %q", entry)
		}

		normalized, ok := normalizeHTTPSOrigin(entry)
		if !ok {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entry is invalid (%q). Use full https origins only, e.g. https://chat.example.com", entry)
		}

		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}

	if len(origins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS must include at least one full https origin")
	}
	return origins, nil
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	normalizedOrigin, ok := normalizeHTTPSOrigin(origin)
	if !ok {
		return false
	}

	for _, allowed := range allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), normalizedOrigin) {
			return true
		}
	}

	return false
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		return "", false
	}
	if !strings.EqualFold(originURL.Scheme, "https") {
		return "", false
	}
	if (originURL.Path != "" && originURL.Path != "/") || originURL.RawQuery != "" || originURL.Fragment != "" || originURL.User != nil {
		return "", false
	}
	return "https://" + strings.ToLower(originURL.Host), true
}
