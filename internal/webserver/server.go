package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/ichi0g0y/tip-roulette/internal/status"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"github.com/ichi0g0y/tip-roulette/internal/twitchtoken"
	"github.com/ichi0g0y/tip-roulette/internal/version"
	"go.uber.org/zap"
)

// Deps are the services the HTTP API exposes. Tokens and EventSub may be nil
// when Twitch is not configured.
type Deps struct {
	Configs   *roulette.ConfigStore
	Ledger    *roulette.Ledger
	Processor *tips.Processor
	Hub       *Hub
	Tokens    *twitchtoken.Manager
	EventSub  *status.EventSub
	// DebugTips enables POST /api/roulette/tip (DEBUG_OUTPUT=true).
	DebugTips bool
}

type Server struct {
	deps       Deps
	mux        *http.ServeMux
	httpServer *http.Server
}

func New(deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

func (s *Server) routes() {
	mux := s.mux

	mux.HandleFunc("/health", corsMiddleware(s.handleHealth))
	mux.HandleFunc("/ws", s.deps.Hub.HandleWS)

	// Roulette API endpoints
	mux.HandleFunc("/api/roulette/config", corsMiddleware(s.handleRouletteConfig))
	mux.HandleFunc("/api/roulette/segments", corsMiddleware(s.handleRouletteSegments))
	mux.HandleFunc("/api/roulette/stats", corsMiddleware(s.handleRouletteStats))
	mux.HandleFunc("/api/roulette/leaderboard", corsMiddleware(s.handleRouletteLeaderboard))
	mux.HandleFunc("/api/roulette/winners", corsMiddleware(s.handleRouletteWinners))
	mux.HandleFunc("/api/roulette/recent", corsMiddleware(s.handleRouletteRecent))
	mux.HandleFunc("/api/roulette/users/", corsMiddleware(s.handleRouletteUser))
	mux.HandleFunc("/api/roulette/reset", corsMiddleware(s.handleRouletteReset))
	mux.HandleFunc("/api/roulette/tip", corsMiddleware(s.handleRouletteTip))

	// OAuth
	mux.HandleFunc("/auth", s.handleAuth)
	mux.HandleFunc("/callback", s.handleCallback)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on port in the background. Binding errors are returned.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)

	fmt.Println("")
	fmt.Println("====================================================")
	fmt.Printf("🎡 Tip roulette server started\n")
	fmt.Printf("   Overlay WebSocket: ws://localhost:%d/ws\n", port)
	fmt.Printf("   API:               http://localhost:%d/api/roulette/config\n", port)
	fmt.Printf("   Twitch login:      http://localhost:%d/auth\n", port)
	fmt.Println("====================================================")
	fmt.Println("")

	logger.Info("Starting web server", zap.String("address", addr))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	// 起動直後のバインドエラーだけ拾う
	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server and the overlay hub.
func (s *Server) Shutdown(ctx context.Context) {
	s.deps.Hub.Stop()
	if s.httpServer == nil {
		return
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "ok",
		"overlay_clients": s.deps.Hub.ClientCount(),
		"version":         version.Current(),
	}
	if s.deps.EventSub != nil {
		resp["eventsub"] = s.deps.EventSub.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tokens == nil {
		http.Error(w, "Twitch is not configured", http.StatusServiceUnavailable)
		return
	}
	s.deps.Tokens.HandleAuth(w, r)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tokens == nil {
		http.Error(w, "Twitch is not configured", http.StatusServiceUnavailable)
		return
	}
	s.deps.Tokens.HandleCallback(w, r)
}

// localOrigin は変更系 API を叩けるブラウザのオリジンを localhost に限る。
// Origin ヘッダーのないリクエスト (curl, OBS) はそのまま通す
func localOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	logger.Warn("Rejected request from foreign origin",
		zap.String("origin", origin),
		zap.String("path", r.URL.Path))
	writeError(w, http.StatusForbidden, "Origin not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody))
	return dec.Decode(v)
}
