package session

import (
	"sync"
	"time"

	"appshot/internal/workflow"
)

// Notice is a user-facing record of a settled backend call.
type Notice struct {
	Kind    string    `json:"kind"`
	Slot    int       `json:"slot"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type Session struct {
	Key          string
	Workflow     *workflow.Workflow
	LastActivity time.Time

	mu      sync.Mutex
	notices []Notice
	max     int
}

func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notice, len(s.notices))
	copy(out, s.notices)
	return out
}

// Record appends a notice for ev, keeping only the most recent ones.
func (s *Session) Record(ev workflow.Event) Notice {
	n := Notice{Kind: ev.Kind.String(), Slot: ev.Slot, At: time.Now()}
	if ev.Err != nil {
		n.Message = ev.Err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notices = append(s.notices, n)
	if len(s.notices) > s.max {
		s.notices = s.notices[len(s.notices)-s.max:]
	}
	return n
}

// Factory builds the workflow for a new session. The session is passed in so
// event callbacks can record notices on it.
type Factory func(sess *Session) *workflow.Workflow

type Options struct {
	MaxNotices int
	Factory    Factory
}

type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	maxNotices int
	factory    Factory
}

func NewStore(opts Options) *Store {
	maxNotices := opts.MaxNotices
	if maxNotices <= 0 {
		maxNotices = 20
	}

	return &Store{
		sessions:   make(map[string]*Session),
		maxNotices: maxNotices,
		factory:    opts.Factory,
	}
}

// Get returns the session for key without creating one.
func (s *Store) Get(key string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if ok {
		sess.LastActivity = time.Now()
	}
	return sess, ok
}

func (s *Store) GetOrCreate(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		sess.LastActivity = time.Now()
		return sess
	}

	sess := &Session{
		Key:          key,
		LastActivity: time.Now(),
		max:          s.maxNotices,
	}
	sess.Workflow = s.factory(sess)
	s.sessions[key] = sess
	return sess
}

// Delete resets and forgets the session. Calls still in flight finish in the
// background and are ignored.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if ok {
		sess.Workflow.Reset()
	}
	return ok
}

// Sweep drops sessions idle for longer than maxIdle and returns how many were
// removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var stale []*Session
	for key, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, key)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Workflow.Reset()
	}
	return len(stale)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
