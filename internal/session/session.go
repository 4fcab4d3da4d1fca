// Package session keeps per-conversation state: a bounded turn history
// plus the last-used selectors that make short follow-up questions work.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"datanerd/internal/logging"
)

const (
	DefaultTTL  = time.Hour
	DefaultMax  = 1000
	historySize = 10
)

// TurnRecord is one successful question-to-response cycle.
type TurnRecord struct {
	Question      string
	Understanding string
	Plan          string
	ResultSummary string
	Timestamp     time.Time
}

// Snapshot captures enough of the last result to seed dashboard auto-save
// and follow-up suggestions without re-running the query.
type Snapshot struct {
	Metric     string
	Dimensions []string
	Intent     string
	Columns    []string
	Rows       [][]any
	SQL        string
}

// State is one session. The embedded mutex serializes turns; callers go
// through Manager.Acquire which returns the state locked.
type State struct {
	ID             string
	History        []TurnRecord
	LastMetrics    []string
	LastDimensions []string
	LastIntent     string
	LastResult     *Snapshot
	CreatedAt      time.Time
	LastAccessedAt time.Time

	mu   sync.Mutex
	elem *list.Element
}

// Commit records a successful turn. Failed turns never reach here, so the
// last-used selectors always describe a turn that produced a result.
func (s *State) Commit(rec TurnRecord, metrics, dims []string, intent string, snap *Snapshot) {
	s.History = append(s.History, rec)
	if len(s.History) > historySize {
		s.History = s.History[len(s.History)-historySize:]
	}
	s.LastMetrics = append([]string(nil), metrics...)
	s.LastDimensions = append([]string(nil), dims...)
	s.LastIntent = intent
	s.LastResult = snap
}

// Manager owns the session map: LRU-bounded, TTL-expired on access.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State
	lru      *list.List // front = most recently acquired
	ttl      time.Duration
	max      int
}

// NewManager builds a manager; zero values select the defaults.
func NewManager(ttl time.Duration, max int) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Manager{
		sessions: make(map[string]*State),
		lru:      list.New(),
		ttl:      ttl,
		max:      max,
	}
}

// Acquire returns the session locked for one turn; the caller must call
// release when the turn ends. An empty id creates a fresh session with a
// generated id. Expired sessions are swept here, lazily.
func (m *Manager) Acquire(id string) (*State, func()) {
	m.mu.Lock()
	m.sweepLocked(time.Now())

	if id == "" {
		id = uuid.NewString()
	}
	s, ok := m.sessions[id]
	if !ok {
		s = &State{ID: id, CreatedAt: time.Now()}
		s.elem = m.lru.PushFront(s)
		m.sessions[id] = s
		for len(m.sessions) > m.max {
			oldest := m.lru.Back()
			if oldest == nil {
				break
			}
			m.removeLocked(oldest.Value.(*State))
		}
		logging.SessionDebug("created session %s", id)
	} else {
		m.lru.MoveToFront(s.elem)
	}
	s.LastAccessedAt = time.Now()
	m.mu.Unlock()

	// The per-session lock is taken outside the map lock; a long turn on
	// one session never blocks the others.
	s.mu.Lock()
	return s, s.mu.Unlock
}

// Len reports the live session count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(time.Now())
	return len(m.sessions)
}

// Sweep drops sessions idle past the TTL and returns how many went.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(time.Now())
}

func (m *Manager) sweepLocked(now time.Time) int {
	swept := 0
	for {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		s := oldest.Value.(*State)
		if now.Sub(s.LastAccessedAt) <= m.ttl {
			break
		}
		m.removeLocked(s)
		swept++
	}
	if swept > 0 {
		logging.SessionDebug("swept %d idle sessions", swept)
	}
	return swept
}

func (m *Manager) removeLocked(s *State) {
	delete(m.sessions, s.ID)
	m.lru.Remove(s.elem)
}
