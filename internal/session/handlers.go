package session

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/timetable"
)

// HandleCommand handles a slash command. command may carry the leading
// slash and a "@botname" suffix; args is whatever followed it.
func (m *Manager) HandleCommand(ctx context.Context, userID, command, args string) Reply {
	command = normalizeCommand(command)

	unlock := m.lock(userID)
	defer unlock()

	logger := m.logger.With("user_id", userID, "command", command)
	logger.Debug("command received")

	switch command {
	case "start":
		if m.ensure(userID) {
			logger.Info("session created")
		}
		return markdown(welcomeText)

	case "help":
		return markdown(helpText(m.zoneLabel()))

	case "upload":
		m.setState(userID, StateAwaitingImage)
		return markdown(uploadPrompt)

	case "settime":
		if !m.store.HasTimetable(userID) {
			return plain(msgSetTimeNoTT)
		}
		if args = strings.TrimSpace(args); args != "" {
			return m.applyTime(ctx, userID, args)
		}
		m.setState(userID, StateAwaitingReminderTime)
		current := ""
		if job, ok := m.reminders.Get(userID); ok {
			current = job.Time.Clock12()
		}
		now := m.reminders.Now()
		return markdown(setTimePrompt(m.zoneLabel(), now.Format("03:04 PM MST"), current))

	case "schedule":
		tt, ok := m.store.Timetable(userID)
		if !ok {
			return plain(msgNoTimetable)
		}
		return markdown("*Your Current Timetable*\n\n" + timetable.FormatWeek(tt))

	case "tomorrow":
		digest, ok := m.reminders.TomorrowSchedule(userID)
		if !ok {
			return plain(msgNoTimetable)
		}
		return markdown(digest)

	case "delete", "reset", "clear":
		var items []string
		if m.store.HasTimetable(userID) {
			items = append(items, itemTimetable)
		}
		if _, ok := m.reminders.Get(userID); ok {
			items = append(items, itemReminder)
		}
		if len(items) == 0 {
			return plain(msgNothingToDelete)
		}
		return Reply{Text: confirmDelete(items), Markdown: true, Confirm: true}
	}

	return plain(msgUnknownCommand)
}

// HandlePhoto handles an image. Only a session awaiting an image accepts
// it; any failure leaves the state and any existing timetable untouched.
func (m *Manager) HandlePhoto(ctx context.Context, userID string, image []byte) Reply {
	unlock := m.lock(userID)
	defer unlock()

	if m.stateOf(userID) != StateAwaitingImage {
		return plain(msgUploadFirst)
	}

	tt, err := m.upload(ctx, userID, image)
	switch {
	case err == nil:
	case stderrors.Is(err, ErrExtraction), errors.Is(err, errors.ErrInvalidRequest):
		return plain(msgExtractFailed)
	case stderrors.Is(err, ErrStructuring):
		return plain(msgStructureFailed)
	default:
		return plain(msgStoreFailed)
	}

	m.setState(userID, StateReady)
	m.persist(ctx, userID)
	m.logger.Info("timetable uploaded", "user_id", userID, "periods", tt.Len())
	return markdown(uploadSuccess(timetable.FormatWeek(tt)))
}

// HandleText handles free text. It is a reminder time while one is
// awaited, otherwise a question about the timetable.
func (m *Manager) HandleText(ctx context.Context, userID, text string) Reply {
	unlock := m.lock(userID)
	defer unlock()

	switch m.stateOf(userID) {
	case StateAwaitingReminderTime:
		return m.applyTime(ctx, userID, text)
	case StateAwaitingImage:
		return plain(msgSendPhoto)
	}

	if !m.store.HasTimetable(userID) {
		return plain(msgNoTimetableYet)
	}
	return markdown(m.answerer.Answer(ctx, userID, strings.TrimSpace(text)))
}

// HandleCallback handles an inline button press.
func (m *Manager) HandleCallback(ctx context.Context, userID, data string) Reply {
	unlock := m.lock(userID)
	defer unlock()

	switch data {
	case CallbackConfirmDelete:
		res := m.delete(ctx, userID)
		var items []string
		if res.Timetable {
			items = append(items, deletedTimetableItem)
		}
		if res.Reminder {
			items = append(items, deletedReminderItem)
		}
		return markdown(deleted(items))
	case CallbackCancelDelete:
		return markdown(msgDeleteCancelled)
	}
	return plain(msgUnknownCallback)
}

// applyTime runs with the user lock held.
func (m *Manager) applyTime(ctx context.Context, userID, text string) Reply {
	job, err := m.setReminder(ctx, userID, text)
	switch {
	case err == nil:
		return markdown(reminderSet(job.Time.Clock12(), m.reminders.Now().Format("MST")))
	case errors.Is(err, errors.ErrNoTimetable):
		return plain(msgSetTimeNoTT)
	default:
		m.setState(userID, StateAwaitingReminderTime)
		return plain(msgInvalidTime)
	}
}

func (m *Manager) zoneLabel() string {
	now := m.reminders.Now()
	return now.Format("MST") + " (" + m.reminders.Location().String() + ")"
}

func normalizeCommand(command string) string {
	command = strings.TrimPrefix(strings.TrimSpace(command), "/")
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	return strings.ToLower(command)
}
