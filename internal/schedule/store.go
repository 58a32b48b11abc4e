// Package schedule keeps each user's timetable together with its derived
// semantic index partition.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/classmate/internal/embed"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/index"
	"github.com/hpungsan/classmate/internal/timetable"
)

// DefaultEmbedTimeout bounds a single embedding call.
const DefaultEmbedTimeout = 60 * time.Second

// Store holds one timetable per user. Writes rebuild the user's index
// partition in the same critical section that stores the timetable.
type Store struct {
	embedder embed.Embedder
	index    *index.Index
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.RWMutex
	timetables map[string]timetable.Timetable
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedTimeout sets the bound on each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock used to stamp index entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store backed by a fresh index.
func New(e embed.Embedder, opts ...Option) *Store {
	s := &Store{
		embedder:   e,
		index:      index.New(),
		timeout:    DefaultEmbedTimeout,
		now:        time.Now,
		logger:     slog.Default(),
		timetables: make(map[string]timetable.Timetable),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "schedule")
	return s
}

// ReplaceTimetable stores tt for userID and rebuilds the user's index
// partition from it. Embedding happens first; if it fails nothing changes.
func (s *Store) ReplaceTimetable(ctx context.Context, userID string, tt timetable.Timetable) error {
	slots := tt.Flatten()
	texts := make([]string, len(slots))
	for i, slot := range slots {
		texts[i] = timetable.Describe(slot.Day, slot.Period)
	}

	var vectors [][]float32
	if len(texts) > 0 {
		ectx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		vectors, err = s.embedder.EmbedBatch(ectx, texts)
		if err != nil {
			s.logger.Error("embed timetable", "user_id", userID, "periods", len(texts), "error", err, "error_kind", errors.Kind(err))
			return errors.NewCollaborator("embedder", err)
		}
		if len(vectors) != len(texts) {
			err := fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
			s.logger.Error("embed timetable", "user_id", userID, "error", err)
			return errors.NewCollaborator("embedder", err)
		}
	}

	built := s.now()
	entries := make([]index.Entry, len(slots))
	for i, slot := range slots {
		id, err := index.NewID(built)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("generate entry id: %w", err))
		}
		entries[i] = index.Entry{
			ID:         id,
			Vector:     vectors[i],
			Text:       texts[i],
			Day:        slot.Day,
			Time:       slot.Time,
			Subject:    slot.Subject,
			FullName:   slot.FullName,
			Type:       slot.Type,
			Room:       slot.Room,
			InsertedAt: built,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timetables[userID] = tt.Clone()
	s.index.Replace(userID, entries)

	s.logger.Info("timetable replaced", "user_id", userID, "entries", len(entries))
	return nil
}

// Query embeds text and returns the k nearest entries of the user's
// partition. A user with no entries gets no matches and no embedding call.
func (s *Store) Query(ctx context.Context, userID, text string, k int) ([]index.Match, error) {
	if k <= 0 || s.index.Count(userID) == 0 {
		return nil, nil
	}

	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ectx, text)
	if err != nil {
		return nil, errors.NewCollaborator("embedder", err)
	}
	return s.index.Query(userID, vec, k), nil
}

// FilterByDay returns exactly the user's entries for day, in timetable order.
func (s *Store) FilterByDay(userID, day string) []index.Entry {
	return s.index.FilterByDay(userID, day)
}

// Clear removes the user's timetable and index partition. Reports whether
// a timetable existed.
func (s *Store) Clear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timetables[userID]
	delete(s.timetables, userID)
	s.index.Clear(userID)
	return ok
}

// Timetable returns a copy of the user's timetable.
func (s *Store) Timetable(userID string) (timetable.Timetable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tt, ok := s.timetables[userID]
	if !ok {
		return nil, false
	}
	return tt.Clone(), true
}

// HasTimetable reports whether the user has a stored timetable.
func (s *Store) HasTimetable(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timetables[userID]
	return ok
}

// Day returns a copy of the periods for one day. ok is false when the user
// has no timetable; an absent day yields nil periods with ok true.
func (s *Store) Day(userID, day string) (periods []timetable.Period, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tt, ok := s.timetables[userID]
	if !ok {
		return nil, false
	}
	return tt.Day(day), true
}

// Count returns the number of index entries for the user.
func (s *Store) Count(userID string) int {
	return s.index.Count(userID)
}
