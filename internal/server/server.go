package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/backtrack-hq/chatcore/internal/auth"
	"github.com/backtrack-hq/chatcore/internal/chat"
	"github.com/backtrack-hq/chatcore/internal/config"
	"github.com/backtrack-hq/chatcore/internal/hub"
	"github.com/backtrack-hq/chatcore/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP surface: REST endpoints, the WebSocket stream, and
// the SSE stream.
type Server struct {
	cfg     config.Config
	svc     *chat.Service
	authn   *auth.Authenticator
	hub     *hub.Hub
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	http    *http.Server
}

// New wires the router and returns a server ready to Run.
func New(cfg config.Config, svc *chat.Service, authn *auth.Authenticator, h *hub.Hub, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		authn:  authn,
		hub:    h,
		logger: logger,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("listening", zap.String("addr", s.cfg.ListenAddr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.DebugLogs {
		r.Use(s.requestLogger)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.cfg.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/ws/chat", hub.NewWSHandler(s.hub, s.admitStream, []string{s.cfg.AllowedOrigin}, s.logger))

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(s.authn.Middleware(s.rejectUnauthenticated))
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		r.Get("/rooms", s.handleListRooms)
		r.Post("/direct", s.handleCreateDirect)
		r.Post("/groups", s.handleCreateGroup)
		r.Route("/rooms/{room}", func(r chi.Router) {
			r.Get("/messages", s.handleHistory)
			r.Post("/messages", s.handlePostMessage)
			r.Post("/read", s.handleMarkRead)
			r.Get("/meta", s.handleRoomMeta)
			r.Get("/members", s.handleRoomMembers)
			r.Get("/stream", s.handleStream)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admitStream authorizes a WebSocket subscription. The token rides in
// the query string or the subprotocol list, so the resolution happens
// here rather than in the REST middleware.
func (s *Server) admitStream(r *http.Request, roomName string) (string, string) {
	user, err := s.authn.ResolveToken(r.Context(), auth.BearerToken(r))
	if err != nil {
		return "", "authentication required"
	}
	rm := s.svc.ResolveRoom(roomName)
	if err := s.svc.Authorize(rm, user); err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			return "", "room not found"
		case errors.Is(err, chat.ErrForbidden):
			return "", "not a member of this room"
		default:
			return "", "authentication required"
		}
	}
	return rm.Name, ""
}

func (s *Server) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, chat.ErrAuthRequired):
		status, msg = http.StatusUnauthorized, "authentication required"
	case errors.Is(err, chat.ErrInvalidToken):
		status, msg = http.StatusUnauthorized, "invalid token"
	case errors.Is(err, chat.ErrForbidden):
		status, msg = http.StatusForbidden, "not a member of this room"
	case errors.Is(err, chat.ErrRoomNotFound):
		status, msg = http.StatusNotFound, "room not found"
	case errors.Is(err, chat.ErrDuplicateMessage):
		status, msg = http.StatusConflict, "duplicate message"
	case chat.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
