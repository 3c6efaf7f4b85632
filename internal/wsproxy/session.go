package wsproxy

import (
	"sync"
)

// session is one active twin-socket relay's cross-task-visible state: the
// fields other tasks need to enumerate and close it by, plus the close
// func that asks its own owning task to tear down. Per §5's session-table
// policy, everything else about the relay is owned exclusively by the
// goroutines running it.
type session struct {
	id            string
	userID        string
	authSessionID string
	close         func(code int, reason string)
}

// Table is the concurrent session registry §4.7 and §5 describe: a plain
// mutex-guarded map, since membership changes (register/remove) and the
// occasional cross-session enumeration (logout) are both infrequent next
// to the steady message traffic each session relays on its own goroutines.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewTable builds an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*session)}
}

func (t *Table) register(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.id] = s
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Len reports the current active session count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// CloseByIdentity enumerates a snapshot of sessions matching userID or
// authSessionID and posts a close intent to each — the logout-propagation
// behavior from §4.7. Matching runs under the read lock; closing never
// happens under the table lock, since close() may block briefly on the
// session's own write path.
func (t *Table) CloseByIdentity(userID, authSessionID string, code int, reason string) int {
	t.mu.RLock()
	matched := make([]*session, 0)
	for _, s := range t.sessions {
		if (userID != "" && s.userID == userID) || (authSessionID != "" && s.authSessionID == authSessionID) {
			matched = append(matched, s)
		}
	}
	t.mu.RUnlock()

	for _, s := range matched {
		s.close(code, reason)
	}
	return len(matched)
}
