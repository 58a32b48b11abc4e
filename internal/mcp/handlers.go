package mcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/classmate/internal/db"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/session"
	"github.com/hpungsan/classmate/internal/timetable"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sessions  *session.Manager
	reminders *reminder.Scheduler
	answerer  session.Answerer
	db        *sql.DB
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:  d.Sessions,
		reminders: d.Reminders,
		answerer:  d.Answerer,
		db:        d.DB,
		logger:    logger.With("component", "mcp"),
	}
}

// Request types for each tool

// UploadRequest represents the arguments for timetable_upload.
type UploadRequest struct {
	userRequest
	ImageBase64 string `json:"image_base64"`
}

// ImportRequest represents the arguments for timetable_import.
type ImportRequest struct {
	userRequest
	Timetable json.RawMessage `json:"timetable"`
}

// AskRequest represents the arguments for timetable_ask.
type AskRequest struct {
	userRequest
	Question string `json:"question"`
}

// ReminderSetRequest represents the arguments for reminder_set.
type ReminderSetRequest struct {
	userRequest
	Time string `json:"time"`
}

// InboxRequest represents the arguments for reminder_inbox.
type InboxRequest struct {
	userRequest
	Peek bool `json:"peek,omitempty"`
}

// Output types

// TimetableOutput describes a stored timetable.
type TimetableOutput struct {
	UserID    string              `json:"user_id"`
	State     session.State       `json:"state"`
	Periods   int                 `json:"periods"`
	Timetable timetable.Timetable `json:"timetable,omitempty"`
	// Formatted is the Markdown week view sent to chat users.
	Formatted    string `json:"formatted,omitempty"`
	ReminderTime string `json:"reminder_time,omitempty"`
	LastFired    string `json:"last_fired,omitempty"`
}

// TomorrowOutput is the result of timetable_tomorrow.
type TomorrowOutput struct {
	UserID string `json:"user_id"`
	Day    string `json:"day"`
	Digest string `json:"digest"`
}

// AskOutput is the result of timetable_ask.
type AskOutput struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ReminderOutput is the result of reminder_set.
type ReminderOutput struct {
	UserID    string `json:"user_id"`
	Time      string `json:"time"`
	Display   string `json:"display"`
	Zone      string `json:"zone"`
	LastFired string `json:"last_fired,omitempty"`
}

// InboxOutput is the result of reminder_inbox.
type InboxOutput struct {
	UserID   string              `json:"user_id"`
	Count    int                 `json:"count"`
	Messages []db.OutboxMessage `json:"messages"`
}

// DeleteOutput is the result of data_delete.
type DeleteOutput struct {
	UserID string `json:"user_id"`
	session.DeleteResult
}

// Handler implementations

// HandleUpload handles the timetable_upload tool call.
func (h *Handlers) HandleUpload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UploadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	image, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.ImageBase64))
	if err != nil {
		return errorResult(errors.NewInvalidRequest("image_base64 is not valid base64")), nil
	}

	if _, err := h.sessions.Upload(ctx, userID, image); err != nil {
		return errorResult(uploadError(err)), nil
	}
	return successResult(h.timetableOutput(userID))
}

// HandleImport handles the timetable_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	if len(input.Timetable) == 0 {
		return errorResult(errors.NewInvalidRequest("timetable is required")), nil
	}
	tt, err := timetable.Decode(input.Timetable)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.sessions.Import(ctx, userID, tt); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.timetableOutput(userID))
}

// HandleShow handles the timetable_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[userRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	if _, ok := h.sessions.Snapshot(userID); !ok {
		return errorResult(errors.NewNotFound(userID)), nil
	}
	return successResult(h.timetableOutput(userID))
}

// HandleTomorrow handles the timetable_tomorrow tool call.
func (h *Handlers) HandleTomorrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[userRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	digest, ok := h.reminders.TomorrowSchedule(userID)
	if !ok {
		return errorResult(errors.NewNoTimetable(userID)), nil
	}
	return successResult(TomorrowOutput{UserID: userID, Day: h.reminders.TomorrowDay(), Digest: digest})
}

// HandleAsk handles the timetable_ask tool call.
func (h *Handlers) HandleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AskRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return errorResult(errors.NewInvalidRequest("question is required")), nil
	}
	if rec, ok := h.sessions.Snapshot(userID); !ok || rec.Timetable.IsEmpty() {
		return errorResult(errors.NewNoTimetable(userID)), nil
	}

	answer := h.answerer.Answer(ctx, userID, question)
	return successResult(AskOutput{UserID: userID, Question: question, Answer: answer})
}

// HandleReminderSet handles the reminder_set tool call.
func (h *Handlers) HandleReminderSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReminderSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}

	job, err := h.sessions.SetReminder(ctx, userID, input.Time)
	if err != nil {
		return errorResult(err), nil
	}
	h.logger.Info("reminder set", "user_id", userID, "time", job.Time.String())
	return successResult(ReminderOutput{
		UserID:    userID,
		Time:      job.Time.String(),
		Display:   job.Time.Clock12(),
		Zone:      h.reminders.Location().String(),
		LastFired: job.LastFired,
	})
}

// HandleInbox handles the reminder_inbox tool call.
func (h *Handlers) HandleInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InboxRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	if h.db == nil {
		return errorResult(errors.NewInvalidRequest("outbox is not enabled")), nil
	}

	var msgs []db.OutboxMessage
	if input.Peek {
		msgs, err = db.ListOutbox(ctx, h.db, userID)
	} else {
		msgs, err = db.DrainOutbox(ctx, h.db, userID)
	}
	if err != nil {
		return errorResult(err), nil
	}
	if msgs == nil {
		msgs = []db.OutboxMessage{}
	}
	return successResult(InboxOutput{UserID: userID, Count: len(msgs), Messages: msgs})
}

// HandleDelete handles the data_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[userRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := input.user()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(DeleteOutput{UserID: userID, DeleteResult: h.sessions.Delete(ctx, userID)})
}

func (h *Handlers) timetableOutput(userID string) TimetableOutput {
	rec, _ := h.sessions.Snapshot(userID)
	out := TimetableOutput{
		UserID:       userID,
		State:        rec.State,
		Periods:      rec.Timetable.Len(),
		Timetable:    rec.Timetable,
		ReminderTime: rec.ReminderTime,
		LastFired:    rec.LastFired,
	}
	if !rec.Timetable.IsEmpty() {
		out.Formatted = timetable.FormatWeek(rec.Timetable)
	}
	return out
}

// uploadError gives sentinel upload failures a code clients can act on.
func uploadError(err error) error {
	var cErr *errors.ClassmateError
	if stderrors.As(err, &cErr) {
		return err
	}
	switch {
	case stderrors.Is(err, session.ErrExtraction):
		return errors.NewCollaborator("extractor", err)
	case stderrors.Is(err, session.ErrStructuring):
		return errors.NewCollaborator("structurer", err)
	}
	return errors.NewInternal(err)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var cErr *errors.ClassmateError
	if stderrors.As(err, &cErr) {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		if cErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
