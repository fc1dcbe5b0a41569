// Package api serves the Habitus JSON API used by the web client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/tokens"
	"github.com/example/habitus/internal/trackings"
	"github.com/example/habitus/pkg/models"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds JSON request bodies. Imports have their own limit.
const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 10 << 20
)

// Users is the account storage the API needs.
type Users interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	FindOrCreateUser(ctx context.Context, email, name string, now time.Time) (*models.User, error)
	SetTimezone(ctx context.Context, userID int64, tz string, now time.Time) error
}

// Tokens issues and checks magic-link, session and Telegram link tokens.
type Tokens interface {
	Issue(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) (models.Token, error)
	Validate(ctx context.Context, token string, kind models.TokenKind, now time.Time) (models.Token, error)
	Consume(ctx context.Context, token string, kind models.TokenKind, now time.Time) (models.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Trackings manages the trackings of a user.
type Trackings interface {
	Create(ctx context.Context, userID int64, in trackings.Input) (*models.Tracking, error)
	Update(ctx context.Context, userID, id int64, in trackings.Input) (*models.Tracking, error)
	SetState(ctx context.Context, userID, id int64, state models.TrackingState) (*models.Tracking, error)
	Delete(ctx context.Context, userID, id int64) error
	Get(ctx context.Context, userID, id int64) (*models.Tracking, error)
	List(ctx context.Context, userID int64) ([]models.Tracking, error)
}

// Reminders is the reminder state machine.
type Reminders interface {
	Get(ctx context.Context, userID, reminderID int64) (*models.Reminder, error)
	Answer(ctx context.Context, userID, reminderID int64, value string, notes *string) (*models.Reminder, error)
	Dismiss(ctx context.Context, userID, reminderID int64) (*models.Reminder, error)
	Snooze(ctx context.Context, userID, reminderID int64, minutes int) (*models.Reminder, error)
	AddNote(ctx context.Context, userID, reminderID int64, notes string) (*models.Reminder, error)
	Delete(ctx context.Context, userID, reminderID int64) error
}

// History lists stored reminders.
type History interface {
	ListReminders(ctx context.Context, userID int64, f database.ReminderFilter) ([]models.Reminder, error)
}

// Deps are the services behind the API.
type Deps struct {
	Users     Users
	Tokens    Tokens
	Trackings Trackings
	Reminders Reminders
	History   History
}

// Config holds the API settings.
type Config struct {
	SnoozeMinutes int
}

type Server struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Server {
	if cfg.SnoozeMinutes <= 0 {
		cfg.SnoozeMinutes = 30
	}
	return &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/auth/magic-link", s.handleMagicLink)
	mux.HandleFunc("POST /api/auth/verify", s.handleVerify)
	mux.HandleFunc("POST /api/auth/logout", s.auth(s.handleLogout))

	mux.HandleFunc("GET /api/me", s.auth(s.handleMe))
	mux.HandleFunc("PUT /api/me/timezone", s.auth(s.handleSetTimezone))
	mux.HandleFunc("POST /api/telegram/link-token", s.auth(s.handleTelegramLinkToken))

	mux.HandleFunc("GET /api/trackings", s.auth(s.handleListTrackings))
	mux.HandleFunc("POST /api/trackings", s.auth(s.handleCreateTracking))
	mux.HandleFunc("POST /api/trackings/import", s.auth(s.handleImportTrackings))
	mux.HandleFunc("GET /api/trackings/{id}", s.auth(s.handleGetTracking))
	mux.HandleFunc("PUT /api/trackings/{id}", s.auth(s.handleUpdateTracking))
	mux.HandleFunc("DELETE /api/trackings/{id}", s.auth(s.handleDeleteTracking))
	mux.HandleFunc("POST /api/trackings/{id}/state", s.auth(s.handleSetTrackingState))

	mux.HandleFunc("GET /api/reminders", s.auth(s.handleListReminders))
	mux.HandleFunc("GET /api/reminders/export", s.auth(s.handleExportReminders))
	mux.HandleFunc("GET /api/reminders/{id}", s.auth(s.handleGetReminder))
	mux.HandleFunc("DELETE /api/reminders/{id}", s.auth(s.handleDeleteReminder))
	mux.HandleFunc("POST /api/reminders/{id}/answer", s.auth(s.handleAnswer))
	mux.HandleFunc("POST /api/reminders/{id}/dismiss", s.auth(s.handleDismiss))
	mux.HandleFunc("POST /api/reminders/{id}/snooze", s.auth(s.handleSnooze))
	mux.HandleFunc("POST /api/reminders/{id}/note", s.auth(s.handleNote))

	return s.logRequests(mux)
}

type ctxKey struct{}

// auth resolves the session token of the request to a user id.
func (s *Server) auth(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication required"})
			return
		}
		tok, err := s.deps.Tokens.Validate(r.Context(), strings.TrimSpace(raw), models.TokenSession, s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, tok.Token)
		next(w, r.WithContext(ctx), tok.UserID)
	}
}

func sessionToken(ctx context.Context) string {
	tok, _ := ctx.Value(ctxKey{}).(string)
	return tok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *reminders.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.Is(err, reminders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	case errors.Is(err, reminders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "Forbidden"})
	case errors.Is(err, reminders.ErrAlreadyFinalized):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Reminder already finalized"})
	case errors.Is(err, tokens.ErrTokenNotFound), errors.Is(err, tokens.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid or expired token"})
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return reminders.Invalid("Invalid JSON body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, reminders.Invalid("Invalid id")
	}
	return id, nil
}
