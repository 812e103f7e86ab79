// Package webhook serves the HTTP endpoint the platform pushes updates to.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/session"
)

// SecretHeader carries the secret token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxPayloadBytes bounds one update body.
const maxPayloadBytes = 1 << 20

// Source finds the push adapter of a running bot.
type Source interface {
	Webhook(botID int64) (*session.PushAdapter, error)
}

// Server receives pushed updates and hands them synchronously to the bot's push adapter.
type Server struct {
	httpServer *http.Server
	source     Source
	secret     string
	logger     *slog.Logger
}

// NewServer creates a server listening on addr. An empty secret disables the header check.
func NewServer(addr string, source Source, secret string, readTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source: source,
		secret: secret,
		logger: logger.With("component", "webhook_server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}
	return s
}

// Routes returns the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/{botID}", s.handleUpdate)
	return r
}

// ListenAndServe blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Webhook server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Webhook server failed", "error", err)
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight deliveries.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down webhook server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	botID, err := strconv.ParseInt(chi.URLParam(r, "botID"), 10, 64)
	if err != nil || botID <= 0 {
		http.Error(w, "invalid bot id", http.StatusBadRequest)
		return
	}

	if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
		s.logger.WarnContext(ctx, "Rejected webhook with wrong secret", "bot_id", botID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	adapter, err := s.source.Webhook(botID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotRunning) {
			http.Error(w, "bot not running", http.StatusNotFound)
			return
		}
		s.logger.ErrorContext(ctx, "Failed to find push session", "bot_id", botID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := adapter.Deliver(ctx, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to deliver update", "bot_id", botID, "error", err)
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		switch {
		case ww.Status() >= 500:
			level = slog.LevelError
		case ww.Status() >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
			"remote", r.RemoteAddr)
	})
}
