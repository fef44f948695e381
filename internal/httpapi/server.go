// Package httpapi exposes the ledger and transfer engine over JSON
// REST. Amounts arrive as JSON numbers and are decoded straight into
// decimals; responses render them as floats.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wealthbook/internal/cache"
	"wealthbook/internal/ledger"
	"wealthbook/internal/metrics"
	"wealthbook/internal/portfolio"
	"wealthbook/internal/store"
	"wealthbook/internal/transfer"
)

type Server struct {
	http.Server

	accounts  store.AccountStore
	engine    *transfer.Engine
	ledger    *ledger.Service
	positions *portfolio.Reconstructor
	collector *metrics.Collector

	rateLimiter *rateLimiter

	// Reconstructed portfolios are cached per account and invalidated
	// by any write that touches the account.
	portfolioCache *cache.LRU[portfolioResponse]

	cacheCancel  context.CancelFunc
	shutdownOnce sync.Once
}

type Options struct {
	Addr               string
	PortfolioCacheSize int
	PortfolioCacheTTL  time.Duration
}

// NewServer configures routes and middleware, returning a
// ready-to-run http.Server.
func NewServer(opts Options, accounts store.AccountStore, engine *transfer.Engine, ledgerService *ledger.Service, positions *portfolio.Reconstructor, collector *metrics.Collector) *Server {
	if opts.PortfolioCacheSize <= 0 {
		opts.PortfolioCacheSize = 256
	}
	if opts.PortfolioCacheTTL <= 0 {
		opts.PortfolioCacheTTL = 30 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:    opts.Addr,
			Handler: mux,
		},
		accounts:       accounts,
		engine:         engine,
		ledger:         ledgerService,
		positions:      positions,
		collector:      collector,
		rateLimiter:    newRateLimiter(),
		portfolioCache: cache.NewLRU[portfolioResponse](opts.PortfolioCacheSize, opts.PortfolioCacheTTL),
	}

	cacheCtx, cancel := context.WithCancel(context.Background())
	s.cacheCancel = cancel
	s.portfolioCache.StartJanitor(cacheCtx, 10*time.Minute)

	mux.HandleFunc("POST /transfer", s.withSecurityHeaders(s.handleTransfer))
	mux.HandleFunc("GET /transactions", s.withSecurityHeaders(s.handleListTransactions))
	mux.HandleFunc("POST /invest", s.withSecurityHeaders(s.handleInvest))
	mux.HandleFunc("GET /portfolio/{userId}", s.withSecurityHeaders(s.handlePortfolio))

	mux.HandleFunc("POST /users", s.withSecurityHeaders(s.handleCreateUser))
	mux.HandleFunc("GET /users", s.withSecurityHeaders(s.handleListUsers))
	mux.HandleFunc("GET /users/{userId}", s.withSecurityHeaders(s.handleGetUser))
	mux.HandleFunc("DELETE /users/{userId}", s.withSecurityHeaders(s.handleDeleteUser))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if collector != nil {
		mux.Handle("GET /metrics", collector.Handler())
	}

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.cacheCancel != nil {
			s.cacheCancel()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and
// request logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		// Rate limiting applies only to mutations.
		if (r.Method == http.MethodPost || r.Method == http.MethodDelete) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A cheap read against the account store verifies the backend.
	if _, err := s.accounts.List(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"store":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Simple in-memory rate limiter, 60 requests per client per minute.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}
