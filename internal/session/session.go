// Package session runs the per-requester batch lifecycle: documents are
// accumulated, a date and volume count are collected, the carrier is
// confirmed when ambiguous, and the minuta is rendered.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/fingerprint"
)

// Counts tallies uploads within one batch.
type Counts struct {
	Received  int
	Accepted  int
	Duplicate int
	Rejected  int
}

// Session is one requester's open batch. It is only touched by the
// handler currently serving that requester.
type Session struct {
	Requester string
	ChatID    int64
	Token     string
	State     constants.SessionState

	Docs   []string
	Counts Counts
	Dedup  *fingerprint.Set

	Date      string
	VolumeBuf string
	Volumes   int
	promptID  int

	Carrier        string
	CarrierOptions []string

	Header    entity.Header
	Items     []entity.LineItem
	Extracted bool

	Rendered     bool
	OutPath      string
	PrintPending bool
	LabelPending bool
}

// ResetReady reports whether nothing is left for the requester to decide.
func (s *Session) ResetReady() bool {
	return s.Rendered && !s.PrintPending && !s.LabelPending
}

// clear zeroes the batch in place; callers holding the pointer observe
// the reset.
func (s *Session) clear() {
	dedup := s.Dedup
	if dedup != nil {
		dedup.Reset()
	}
	*s = Session{
		Requester: s.Requester,
		ChatID:    s.ChatID,
		State:     constants.StateIdle,
		Dedup:     dedup,
	}
}

// Progress remembers the last progress prompt sent to a requester so it
// can be edited in place.
type Progress struct {
	MessageID int
	Token     string
	Text      string
}

// Store maps requester identity to its open session.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	progress map[string]Progress
	newToken func() string
}

func NewStore() *Store {
	return &Store{
		sessions: map[string]*Session{},
		progress: map[string]Progress{},
		newToken: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// NewToken mints a session token without creating a session.
func (st *Store) NewToken() string {
	return st.newToken()
}

// Get returns the open session for requester, if any.
func (st *Store) Get(requester string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[requester]
	return s, ok
}

// Create opens a session under token. An existing session is replaced.
func (st *Store) Create(requester string, chatID int64, token string) *Session {
	if token == "" {
		token = st.newToken()
	}
	s := &Session{
		Requester: requester,
		ChatID:    chatID,
		Token:     token,
		State:     constants.StateAccumulating,
		Dedup:     fingerprint.NewSet(),
	}
	st.mu.Lock()
	st.sessions[requester] = s
	st.mu.Unlock()
	return s
}

// Reset drops the requester's session. The token dies with it.
func (st *Store) Reset(requester string) {
	st.mu.Lock()
	delete(st.sessions, requester)
	st.mu.Unlock()
}

// Len returns the number of open sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Snapshot returns the states of all open sessions keyed by requester.
func (st *Store) Snapshot() map[string]constants.SessionState {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]constants.SessionState, len(st.sessions))
	for k, s := range st.sessions {
		out[k] = s.State
	}
	return out
}

func (st *Store) Progress(requester string) (Progress, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.progress[requester]
	return p, ok
}

func (st *Store) SetProgress(requester string, p Progress) {
	st.mu.Lock()
	st.progress[requester] = p
	st.mu.Unlock()
}
