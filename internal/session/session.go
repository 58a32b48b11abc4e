// Package session runs the per-user conversation state machine that gates
// timetable uploads, reminder configuration, queries and deletion.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/schedule"
	"github.com/hpungsan/classmate/internal/timetable"
)

// State is where a user is in the setup flow.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingImage        State = "awaiting_image"
	StateAwaitingReminderTime State = "awaiting_reminder_time"
	StateReady                State = "ready"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateAwaitingImage, StateAwaitingReminderTime, StateReady:
		return true
	}
	return false
}

// Callback data carried by the delete confirmation buttons.
const (
	CallbackConfirmDelete = "confirm_delete"
	CallbackCancelDelete  = "cancel_delete"
)

// DefaultTimeout bounds each extraction and structuring call.
const DefaultTimeout = 60 * time.Second

// Extractor reads raw text out of a timetable image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// Structurer turns raw text into a timetable. An empty timetable means no
// schedule could be identified.
type Structurer interface {
	Structure(ctx context.Context, raw string) (timetable.Timetable, error)
}

// Answerer answers a free-text question. It never fails; failures come
// back as an apology text.
type Answerer interface {
	Answer(ctx context.Context, userID, question string) string
}

// Record is the persisted form of one user.
type Record struct {
	UserID       string              `json:"user_id"`
	State        State               `json:"state"`
	Timetable    timetable.Timetable `json:"timetable,omitempty"`
	ReminderTime string              `json:"reminder_time,omitempty"`
	LastFired    string              `json:"last_fired,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Persister stores records beyond the process lifetime.
type Persister interface {
	SaveRecord(ctx context.Context, rec Record) error
	DeleteRecord(ctx context.Context, userID string) error
}

// Reply is a transport-neutral response to one inbound event.
type Reply struct {
	Text     string `json:"text"`
	Markdown bool   `json:"markdown,omitempty"`
	// Confirm asks the transport to attach confirm/cancel delete buttons.
	Confirm bool `json:"confirm,omitempty"`
}

func plain(text string) Reply    { return Reply{Text: text} }
func markdown(text string) Reply { return Reply{Text: text, Markdown: true} }

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store      *schedule.Store
	Reminders  *reminder.Scheduler
	Extractor  Extractor
	Structurer Structurer
	Answerer   Answerer
	// Persister is optional.
	Persister Persister
	// Timeout bounds extraction and structuring. Zero selects DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Manager owns every user's state. Events for one user are handled one at
// a time; different users proceed concurrently.
type Manager struct {
	store      *schedule.Store
	reminders  *reminder.Scheduler
	extractor  Extractor
	structurer Structurer
	answerer   Answerer
	persister  Persister
	timeout    time.Duration
	logger     *slog.Logger

	locks keyedMutex

	mu     sync.RWMutex
	states map[string]State
}

// New creates a Manager.
func New(d Deps) *Manager {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		store:      d.Store,
		reminders:  d.Reminders,
		extractor:  d.Extractor,
		structurer: d.Structurer,
		answerer:   d.Answerer,
		persister:  d.Persister,
		timeout:    timeout,
		logger:     logger.With("component", "session"),
		locks:      keyedMutex{locks: make(map[string]*keyedLock)},
		states:     make(map[string]State),
	}
}

// State returns the user's current state and whether a session exists.
func (m *Manager) State(userID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[userID]
	return s, ok
}

func (m *Manager) stateOf(userID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[userID]; ok {
		return s
	}
	return StateIdle
}

func (m *Manager) setState(userID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = s
}

// ensure creates an Idle session on first contact and reports whether it
// was new.
func (m *Manager) ensure(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[userID]; ok {
		return false
	}
	m.states[userID] = StateIdle
	return true
}

func (m *Manager) drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
}

// lock serializes work for one user and returns the unlock func.
func (m *Manager) lock(userID string) func() {
	return m.locks.Lock(userID)
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
