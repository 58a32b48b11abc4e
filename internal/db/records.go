package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/classmate/internal/session"
)

// Records adapts the users table to session.Persister.
type Records struct {
	DB *sql.DB
}

// SaveRecord implements session.Persister.
func (r Records) SaveRecord(ctx context.Context, rec session.Record) error {
	return SaveUser(ctx, r.DB, rec)
}

// DeleteRecord implements session.Persister.
func (r Records) DeleteRecord(ctx context.Context, userID string) error {
	return DeleteUser(ctx, r.DB, userID)
}

// Outbox delivers reminders by appending them to the outbox table, for
// setups without a push transport.
type Outbox struct {
	DB  *sql.DB
	Now func() time.Time
}

// Deliver implements dispatch.Deliverer.
func (o Outbox) Deliver(ctx context.Context, userID, text string) error {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	_, err := AppendOutbox(ctx, o.DB, userID, text, now())
	return err
}
