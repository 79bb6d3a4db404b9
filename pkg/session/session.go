// Package session owns the live, mutable Session record the driver
// borrows for the duration of one user turn: an in-process,
// non-durable store guarded by a sync.RWMutex-protected map, with a
// per-session lock taken for the duration of one driver turn.
// Conversation durability beyond process lifetime is out of scope.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cueso-tv/cueso/pkg/chat"
)

// Session is an in-memory conversation plus its configuration,
// identified by an opaque id. The store exclusively owns this record;
// the driver only touches it while holding the store's per-session
// lock (see Store.WithLock).
type Session struct {
	ID             string
	Config         chat.SessionConfig
	Messages       []chat.Message
	IterationCount int
	LastActivity   time.Time

	seq uint64
}

// Append adds msg to the transcript, stamping an id and timestamp when
// absent.
func (s *Session) Append(msg chat.Message) {
	s.seq++
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
	s.LastActivity = time.Now().UTC()
}

func newSession(id string, cfg chat.SessionConfig) *Session {
	return &Session{
		ID:           id,
		Config:       cfg,
		Messages:     make([]chat.Message, 0, 8),
		LastActivity: time.Now().UTC(),
	}
}

// entry pairs a Session with the mutex that serializes driver.Run
// invocations against it — a per-session lock is not re-entrant, and a
// driver must never call back into the store for the same session
// while holding it.
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Store is the in-memory session store: a map guarded by a coarse
// RWMutex, with a finer per-session mutex for exclusive driver access.
// Safe for concurrent use from many bridge instances.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore builds an empty in-memory Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// GetOrCreate returns the session named id, or creates a fresh one:
// under a newly generated id when id is empty, under id itself when id
// is non-empty but unknown. cfg seeds a
// newly created session's configuration; it is ignored for an
// existing session.
func (st *Store) GetOrCreate(id string, cfg chat.SessionConfig) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if e, ok := st.entries[id]; ok {
			return e.session
		}
	}

	if id == "" {
		id = uuid.New().String()
	}
	s := newSession(id, cfg)
	st.entries[id] = &entry{session: s}
	return s
}

// Get returns the session named id, or ok=false when it doesn't exist.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Reset clears messages and the iteration count, preserving id and
// config.
func (st *Store) Reset(id string) bool {
	st.mu.RLock()
	e, ok := st.entries[id]
	st.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Messages = make([]chat.Message, 0, 8)
	e.session.IterationCount = 0
	e.session.LastActivity = time.Now().UTC()
	return true
}

// Delete removes the session entirely.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, id)
}

// List returns every session id currently in the store.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	return ids
}

// WithLock runs fn with exclusive access to the named session. At most
// one driver advances a session at a time; concurrent callers block
// until fn returns. ok is false when id doesn't exist, and fn is not
// invoked.
func (st *Store) WithLock(id string, fn func(*Session) error) (ok bool, err error) {
	st.mu.RLock()
	e, found := st.entries[id]
	st.mu.RUnlock()
	if !found {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return true, fn(e.session)
}
