package web

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hpungsan/classmate/internal/db"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/session"
	"github.com/hpungsan/classmate/internal/timetable"
)

// maxEventBytes caps POST /events bodies; photos arrive base64 encoded.
const maxEventBytes = 10 << 20

// Event kinds accepted by POST /events.
const (
	KindCommand  = "command"
	KindText     = "text"
	KindPhoto    = "photo"
	KindCallback = "callback"
)

// Event is one inbound chat event.
type Event struct {
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Command     string `json:"command,omitempty"`
	Args        string `json:"args,omitempty"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Handlers contains HTTP route handlers.
type Handlers struct {
	sessions  *session.Manager
	reminders *reminder.Scheduler
	db        *sql.DB
	renderer  *Renderer
	logger    *slog.Logger
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.renderer.version,
		"jobs":    len(h.reminders.Jobs()),
	})
}

// HandleEvent handles POST /events: the event goes through the session
// state machine and the reply is returned as JSON.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid event: "+err.Error()))
		return
	}
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("user_id is required"))
		return
	}

	ctx := r.Context()
	var reply session.Reply
	switch ev.Kind {
	case KindCommand:
		if strings.TrimSpace(ev.Command) == "" {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("command is required"))
			return
		}
		reply = h.sessions.HandleCommand(ctx, userID, ev.Command, ev.Args)
	case KindText:
		reply = h.sessions.HandleText(ctx, userID, ev.Text)
	case KindPhoto:
		image, err := base64.StdEncoding.DecodeString(ev.ImageBase64)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("image_base64 is not valid base64"))
			return
		}
		reply = h.sessions.HandlePhoto(ctx, userID, image)
	case KindCallback:
		reply = h.sessions.HandleCallback(ctx, userID, ev.Data)
	default:
		h.renderer.renderError(w, r, errors.NewInvalidRequest("kind must be one of command, text, photo, callback"))
		return
	}

	h.logger.Debug("event handled", "user_id", userID, "kind", ev.Kind)
	renderJSON(w, http.StatusOK, reply)
}

// HandleUser handles GET /users/{id}: the week view and tomorrow's digest
// as HTML, or the stored record as JSON.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	rec, ok := h.sessions.Snapshot(userID)
	if !ok {
		h.renderer.renderError(w, r, errors.NewNotFound(userID))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, rec)
		return
	}

	data := UserPageData{
		PageData:     PageData{Title: "Timetable " + userID, Version: h.renderer.version},
		UserID:       userID,
		State:        string(rec.State),
		ReminderTime: rec.ReminderTime,
		LastFired:    rec.LastFired,
		Zone:         h.reminders.Location().String(),
		Periods:      rec.Timetable.Len(),
		UpdatedAt:    rec.UpdatedAt,
		Week:         renderMarkdown(timetable.FormatWeek(rec.Timetable)),
	}
	if at, err := reminder.ParseTimeOfDay(rec.ReminderTime); err == nil {
		data.ReminderTime = at.Clock12()
	}
	if digest, ok := h.reminders.TomorrowSchedule(userID); ok {
		data.Tomorrow = renderMarkdown(digest)
	}
	h.renderer.renderPage(w, "user", data)
}

// HandleDelete handles DELETE /users/{id}. It does the same as the
// confirmed chat delete.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	res := h.sessions.Delete(r.Context(), userID)
	renderJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"timetable": res.Timetable,
		"reminder":  res.Reminder,
	})
}

// HandleInbox handles GET /users/{id}/inbox: pending outbox reminders,
// removed unless peek=true.
func (h *Handlers) HandleInbox(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("outbox is not enabled"))
		return
	}
	userID := r.PathValue("id")

	var (
		msgs []db.OutboxMessage
		err  error
	)
	if parseBoolParam(r, "peek") {
		msgs, err = db.ListOutbox(r.Context(), h.db, userID)
	} else {
		msgs, err = db.DrainOutbox(r.Context(), h.db, userID)
	}
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []db.OutboxMessage{}
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"count":    len(msgs),
		"messages": msgs,
	})
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
