package api

import (
	"fmt"
	"net/http"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/excel"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/trackings"
	"github.com/example/habitus/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Auth

type magicLinkRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// handleMagicLink signs the email up if needed and issues a magic-link
// token. Sending the link is left to the log until mail delivery exists.
func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		s.writeError(w, r, reminders.Invalid("A valid email is required"))
		return
	}

	now := s.now()
	user, err := s.deps.Users.FindOrCreateUser(r.Context(), addr.Address, req.Name, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := s.deps.Tokens.Issue(r.Context(), user.ID, models.TokenMagicLink, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().
		Int64("user_id", user.ID).
		Str("email", user.Email).
		Str("token", tok.Token).
		Time("expires_at", tok.ExpiresAt).
		Msg("Magic link issued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type tokenRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.now()
	magic, err := s.deps.Tokens.Consume(r.Context(), strings.TrimSpace(req.Token), models.TokenMagicLink, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Users.GetUser(r.Context(), magic.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		s.writeError(w, r, fmt.Errorf("user %d: %w", magic.UserID, reminders.ErrNotFound))
		return
	}
	session, err := s.deps.Tokens.Issue(r.Context(), user.ID, models.TokenSession, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ int64) {
	if err := s.deps.Tokens.Revoke(r.Context(), sessionToken(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Account

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID int64) {
	user, err := s.user(r, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSetTimezone(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tz := strings.TrimSpace(req.Timezone)
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		s.writeError(w, r, reminders.Invalid(fmt.Sprintf("Unknown time zone %q", tz)))
		return
	}
	if err := s.deps.Users.SetTimezone(r.Context(), userID, tz, s.now()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleMe(w, r, userID)
}

func (s *Server) handleTelegramLinkToken(w http.ResponseWriter, r *http.Request, userID int64) {
	tok, err := s.deps.Tokens.Issue(r.Context(), userID, models.TokenTelegramLink, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      tok.Token,
		"expires_at": tok.ExpiresAt,
		"command":    "/start " + tok.Token,
	})
}

func (s *Server) user(r *http.Request, userID int64) (*models.User, error) {
	user, err := s.deps.Users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, reminders.ErrNotFound)
	}
	return user, nil
}

// Trackings

func (s *Server) handleListTrackings(w http.ResponseWriter, r *http.Request, userID int64) {
	list, err := s.deps.Trackings.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Tracking{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTracking(w http.ResponseWriter, r *http.Request, userID int64) {
	var in trackings.Input
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Trackings.Create(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTracking(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Trackings.Get(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTracking(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in trackings.Input
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Trackings.Update(r.Context(), userID, id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTracking(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Trackings.Delete(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTrackingState(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		State models.TrackingState `json:"state"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.Trackings.SetState(r.Context(), userID, id, req.State)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleImportTrackings reads a multipart "file" field holding an .xlsx or
// .csv sheet of trackings.
func (s *Server) handleImportTrackings(w http.ResponseWriter, r *http.Request, userID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, reminders.Invalid("A file is required"))
		return
	}
	defer file.Close()

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if format != excel.FormatXLSX && format != excel.FormatCSV {
		s.writeError(w, r, reminders.Invalid("Only .xlsx and .csv files can be imported"))
		return
	}

	result, err := excel.ImportTrackings(r.Context(), file, format, userID, s.deps.Trackings, excel.DefaultImportConfig())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Msg("Trackings imported")
	writeJSON(w, http.StatusOK, result)
}

// Reminders

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request, userID int64) {
	list, _, err := s.listReminders(r, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Reminder{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleExportReminders(w http.ResponseWriter, r *http.Request, userID int64) {
	list, user, err := s.listReminders(r, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ts, err := s.deps.Trackings.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	byID := make(map[int64]*models.Tracking, len(ts))
	for i := range ts {
		byID[ts[i].ID] = &ts[i]
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="habitus-reminders.xlsx"`)
	if err := excel.ExportReminders(w, list, byID, user.Location()); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to export reminders")
	}
}

// listReminders applies the query filters of r. Dates without a time are
// read in the user's zone.
func (s *Server) listReminders(r *http.Request, userID int64) ([]models.Reminder, *models.User, error) {
	user, err := s.user(r, userID)
	if err != nil {
		return nil, nil, err
	}
	q := r.URL.Query()
	loc := user.Location()

	f := database.ReminderFilter{Limit: defaultListLimit}
	if v := q.Get("tracking_id"); v != "" {
		if f.TrackingID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, nil, reminders.Invalid("Invalid tracking_id")
		}
	}
	if v := q.Get("status"); v != "" {
		f.Status = models.ReminderStatus(strings.ToUpper(v))
		switch f.Status {
		case models.ReminderPending, models.ReminderUpcoming, models.ReminderAnswered, models.ReminderDismissed:
		default:
			return nil, nil, reminders.Invalid(fmt.Sprintf("Unknown status %q", v))
		}
	}
	if f.From, err = parseTime(q.Get("from"), loc); err != nil {
		return nil, nil, err
	}
	if f.To, err = parseTime(q.Get("to"), loc); err != nil {
		return nil, nil, err
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, nil, reminders.Invalid("Invalid limit")
		}
		f.Limit = min(n, maxListLimit)
	}

	list, err := s.deps.History.ListReminders(r.Context(), userID, f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return list, user, nil
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, reminders.Invalid(fmt.Sprintf("Invalid time %q", v))
	}
	return t, nil
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Get(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Reminders.Delete(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	Value string  `json:"value"`
	Notes *string `json:"notes"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Answer(r.Context(), userID, id, req.Value, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.Dismiss(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

// handleSnooze accepts an optional {"minutes": n}; an empty body uses the
// configured default.
func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Minutes *int `json:"minutes"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	minutes := s.cfg.SnoozeMinutes
	if req.Minutes != nil {
		minutes = *req.Minutes
	}
	rem, err := s.deps.Reminders.Snooze(r.Context(), userID, id, minutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request, userID int64) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rem, err := s.deps.Reminders.AddNote(r.Context(), userID, id, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}
