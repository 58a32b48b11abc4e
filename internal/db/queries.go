package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/session"
	"github.com/hpungsan/classmate/internal/timetable"
)

// SaveUser inserts or replaces the user's record. last_fired never moves
// backwards, so a snapshot taken before a concurrent MarkFired cannot undo it.
func SaveUser(ctx context.Context, db *sql.DB, rec session.Record) error {
	var ttJSON sql.NullString
	if !rec.Timetable.IsEmpty() {
		data, err := timetable.Encode(rec.Timetable)
		if err != nil {
			return errors.NewInternal(err)
		}
		ttJSON = sql.NullString{String: string(data), Valid: true}
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT INTO users (user_id, state, timetable_json, reminder_time, last_fired, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			timetable_json = excluded.timetable_json,
			reminder_time = excluded.reminder_time,
			last_fired = NULLIF(MAX(COALESCE(users.last_fired, ''), COALESCE(excluded.last_fired, '')), ''),
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		rec.UserID, string(rec.State), ttJSON,
		toNullString(rec.ReminderTime), toNullString(rec.LastFired), updated.Unix(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetUser retrieves one record.
func GetUser(ctx context.Context, db *sql.DB, userID string) (session.Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, state, timetable_json, reminder_time, last_fired, updated_at
		FROM users WHERE user_id = ?
	`, userID)
	rec, err := scanUser(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return session.Record{}, errors.NewNotFound(userID)
	}
	return rec, err
}

// ListUsers returns every record ordered by user id.
func ListUsers(ctx context.Context, db *sql.DB) ([]session.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, state, timetable_json, reminder_time, last_fired, updated_at
		FROM users ORDER BY user_id
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		rec, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// DeleteUser removes the user's record and pending outbox messages.
// Deleting an unknown user is not an error.
func DeleteUser(ctx context.Context, db *sql.DB, userID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE user_id = ?`, userID); err != nil {
		return errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// MarkFired records the date a user's reminder last fired. It never moves
// the date backwards.
func MarkFired(ctx context.Context, db *sql.DB, userID, date string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET last_fired = ?, updated_at = ?
		WHERE user_id = ? AND (last_fired IS NULL OR last_fired < ?)
	`, date, time.Now().Unix(), userID, date)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// entropy is shared so ids minted in the same millisecond still sort in
// insertion order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(at time.Time) (ulid.ULID, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.New(ulid.Timestamp(at), entropy)
}

// OutboxMessage is a reminder waiting to be picked up.
type OutboxMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendOutbox queues text for userID and returns the new message id.
func AppendOutbox(ctx context.Context, db *sql.DB, userID, text string, at time.Time) (string, error) {
	id, err := newID(at)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO outbox (id, user_id, text, created_at) VALUES (?, ?, ?, ?)
	`, id.String(), userID, text, at.Unix())
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}

// ListOutbox returns the user's pending messages, oldest first, without
// removing them.
func ListOutbox(ctx context.Context, db *sql.DB, userID string) ([]OutboxMessage, error) {
	return queryOutbox(ctx, db, userID)
}

// DrainOutbox returns and removes the user's pending messages, oldest first.
func DrainOutbox(ctx context.Context, db *sql.DB, userID string) ([]OutboxMessage, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	msgs, err := queryOutbox(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, m.ID); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return msgs, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOutbox(ctx context.Context, q querier, userID string) ([]OutboxMessage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, text, created_at FROM outbox
		WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &created); err != nil {
			return nil, errors.NewInternal(err)
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func scanUser(scan func(dest ...any) error) (session.Record, error) {
	var (
		rec          session.Record
		state        string
		ttJSON       sql.NullString
		reminderTime sql.NullString
		lastFired    sql.NullString
		updated      int64
	)
	if err := scan(&rec.UserID, &state, &ttJSON, &reminderTime, &lastFired, &updated); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, errors.NewInternal(err)
	}

	rec.State = session.State(state)
	rec.ReminderTime = fromNullString(reminderTime)
	rec.LastFired = fromNullString(lastFired)
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	if ttJSON.Valid {
		tt, err := timetable.Decode([]byte(ttJSON.String))
		if err != nil {
			return rec, errors.NewInternal(err)
		}
		rec.Timetable = tt
	}
	return rec, nil
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
