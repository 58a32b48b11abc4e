package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/timetable"
)

// Upload failure causes, checked with stderrors.Is.
var (
	ErrExtraction  = stderrors.New("text extraction failed")
	ErrStructuring = stderrors.New("timetable structuring failed")
)

// Upload extracts, structures and stores a timetable from an image. It
// does not check or change the session state; HandlePhoto does that.
func (m *Manager) Upload(ctx context.Context, userID string, image []byte) (timetable.Timetable, error) {
	unlock := m.lock(userID)
	defer unlock()

	tt, err := m.upload(ctx, userID, image)
	if err != nil {
		return nil, err
	}
	m.setState(userID, StateReady)
	m.persist(ctx, userID)
	return tt, nil
}

func (m *Manager) upload(ctx context.Context, userID string, image []byte) (timetable.Timetable, error) {
	logger := m.logger.With("user_id", userID)
	if len(image) == 0 {
		return nil, errors.NewInvalidRequest("image is empty")
	}

	ectx, cancel := context.WithTimeout(ctx, m.timeout)
	raw, err := m.extractor.Extract(ectx, image)
	cancel()
	if err != nil {
		logger.Error("extract text", "error", err, "error_kind", errors.Kind(err))
		return nil, fmt.Errorf("%w: %w", ErrExtraction, errors.NewCollaborator("extractor", err))
	}
	raw = timetable.PreprocessText(raw)
	if raw == "" {
		logger.Warn("extraction returned no text", "bytes", len(image))
		return nil, ErrExtraction
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	tt, err := m.structurer.Structure(sctx, raw)
	cancel()
	if err != nil {
		logger.Error("structure timetable", "error", err, "error_kind", errors.Kind(err))
		return nil, fmt.Errorf("%w: %w", ErrStructuring, errors.NewCollaborator("structurer", err))
	}
	if tt.IsEmpty() {
		logger.Warn("no schedule identified", "raw_lines", strings.Count(raw, "\n")+1)
		return nil, ErrStructuring
	}

	if err := m.store.ReplaceTimetable(ctx, userID, tt); err != nil {
		return nil, err
	}
	return tt, nil
}

// Import stores an already structured timetable and marks the user Ready.
func (m *Manager) Import(ctx context.Context, userID string, tt timetable.Timetable) error {
	if tt.IsEmpty() {
		return errors.NewInvalidRequest("timetable has no periods")
	}

	unlock := m.lock(userID)
	defer unlock()

	if err := m.store.ReplaceTimetable(ctx, userID, tt); err != nil {
		return err
	}
	m.setState(userID, StateReady)
	m.persist(ctx, userID)
	m.logger.Info("timetable imported", "user_id", userID, "periods", tt.Len())
	return nil
}

// SetReminder parses text and creates or replaces the user's daily job.
// The user must already have a timetable.
func (m *Manager) SetReminder(ctx context.Context, userID, text string) (reminder.Job, error) {
	unlock := m.lock(userID)
	defer unlock()
	return m.setReminder(ctx, userID, text)
}

func (m *Manager) setReminder(ctx context.Context, userID, text string) (reminder.Job, error) {
	if !m.store.HasTimetable(userID) {
		return reminder.Job{}, errors.NewNoTimetable(userID)
	}
	at, err := reminder.ParseTimeOfDay(text)
	if err != nil {
		return reminder.Job{}, err
	}
	job := m.reminders.Set(userID, at)
	m.setState(userID, StateReady)
	m.persist(ctx, userID)
	return job, nil
}

// DeleteResult lists what a delete removed.
type DeleteResult struct {
	Timetable bool `json:"timetable"`
	Reminder  bool `json:"reminder"`
}

// Delete removes the user's timetable, index partition, reminder job,
// session and persisted record. Deleting a user with nothing stored is
// not an error.
func (m *Manager) Delete(ctx context.Context, userID string) DeleteResult {
	unlock := m.lock(userID)
	defer unlock()
	return m.delete(ctx, userID)
}

func (m *Manager) delete(ctx context.Context, userID string) DeleteResult {
	res := DeleteResult{
		Reminder:  m.reminders.Remove(userID),
		Timetable: m.store.Clear(userID),
	}
	m.drop(userID)
	if m.persister != nil {
		if err := m.persister.DeleteRecord(ctx, userID); err != nil {
			m.logger.Error("delete record", "user_id", userID, "error", err, "error_kind", errors.Kind(err))
		}
	}
	m.logger.Info("user data deleted", "user_id", userID, "timetable", res.Timetable, "reminder", res.Reminder)
	return res
}

// Snapshot returns the user's current record. ok is false when nothing is
// known about the user.
func (m *Manager) Snapshot(userID string) (Record, bool) {
	state, hasSession := m.State(userID)
	tt, hasTT := m.store.Timetable(userID)
	job, hasJob := m.reminders.Get(userID)
	if !hasSession && !hasTT && !hasJob {
		return Record{}, false
	}

	rec := Record{UserID: userID, State: state, Timetable: tt, UpdatedAt: m.reminders.Now()}
	if !hasSession {
		rec.State = StateIdle
	}
	if hasJob {
		rec.ReminderTime = job.Time.String()
		rec.LastFired = job.LastFired
	}
	return rec, true
}

// Restore loads a persisted record: the index is rebuilt from the
// timetable and the reminder job registered as it was.
func (m *Manager) Restore(ctx context.Context, rec Record) error {
	unlock := m.lock(rec.UserID)
	defer unlock()

	state := rec.State
	if !state.Valid() {
		state = StateIdle
	}
	if !rec.Timetable.IsEmpty() {
		if err := m.store.ReplaceTimetable(ctx, rec.UserID, rec.Timetable); err != nil {
			return fmt.Errorf("restore %s: %w", rec.UserID, err)
		}
	} else if state == StateReady || state == StateAwaitingReminderTime {
		state = StateIdle
	}

	if rec.ReminderTime != "" {
		at, err := reminder.ParseTimeOfDay(rec.ReminderTime)
		if err != nil {
			return fmt.Errorf("restore %s: %w", rec.UserID, err)
		}
		m.reminders.Restore(reminder.Job{UserID: rec.UserID, Time: at, LastFired: rec.LastFired})
	}
	m.setState(rec.UserID, state)
	return nil
}

// persist saves the user's record. Failures are logged; in-memory state
// stays authoritative.
func (m *Manager) persist(ctx context.Context, userID string) {
	if m.persister == nil {
		return
	}
	rec, ok := m.Snapshot(userID)
	if !ok {
		return
	}
	if err := m.persister.SaveRecord(ctx, rec); err != nil {
		m.logger.Error("save record", "user_id", userID, "error", err, "error_kind", errors.Kind(err))
	}
}
