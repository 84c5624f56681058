// Package session holds the ordered conversation threads the assistant writes
// into. Exactly one session is current at any time.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"deskmate/internal/llm"
)

var (
	// ErrUnknownSession is returned when an operation references a missing session id.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownMessage is returned when UpdateMessage cannot locate the message id.
	ErrUnknownMessage = errors.New("unknown message")
)

// Message roles stored in a session. System entries record agent outcomes and
// are never forwarded to a vendor.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	// DefaultTitle names sessions that have no user message yet.
	DefaultTitle = "New Chat"
	// DefaultGreeting seeds every new session.
	DefaultGreeting = "Hi! I'm your assistant. Ask me anything, or switch to agent mode to manage your tasks."

	titleRunes      = 40
	timestampLayout = "3:04 PM"
)

// Message is one entry in a session. ID and Role never change after Append.
type Message struct {
	ID          string           `json:"id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Attachments []llm.Attachment `json:"attachments,omitempty"`
	Timestamp   string           `json:"timestamp"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Pending reports whether the message is an assistant placeholder still waiting on content.
func (m Message) Pending() bool {
	return m.Role == RoleAssistant && m.Content == ""
}

// Session is an independent conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// Summary describes a session without its message bodies.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Current      bool      `json:"current"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Options configures a Store.
type Options struct {
	Greeting  string
	Persister Persister
	Logger    *log.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Store is the mutex-guarded set of sessions plus the current selection.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	currentID string
	greeting  string
	persister Persister
	logger    *log.Logger
	now       func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewStore restores any persisted snapshot and guarantees a current session.
func NewStore(opts Options) *Store {
	s := &Store{
		sessions:  make(map[string]*Session),
		greeting:  opts.Greeting,
		persister: opts.Persister,
		logger:    opts.Logger,
		now:       opts.Now,
		subs:      make(map[int]chan Event),
	}
	if s.greeting == "" {
		s.greeting = DefaultGreeting
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persister != nil {
		s.restoreLocked()
	}
	s.ensureCurrentLocked()
	return s
}

// Create starts a new session seeded with the greeting and makes it current.
func (s *Store) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.newSessionLocked()
	s.currentID = sess.ID
	s.persistLocked()
	s.publish(Event{Type: EventCreated, SessionID: sess.ID})
	return sess.clone()
}

// Switch selects an existing session.
func (s *Store) Switch(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.currentID = id
	s.persistLocked()
	s.publish(Event{Type: EventSwitched, SessionID: id})
	return sess.clone(), nil
}

// Delete removes a session. Deleting the current session promotes the most
// recently updated remaining one, or a fresh default when none remain.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	delete(s.sessions, id)
	s.publish(Event{Type: EventDeleted, SessionID: id})
	if s.currentID == id {
		s.currentID = ""
		if next := s.mostRecentLocked(); next != nil {
			s.currentID = next.ID
		}
		cur := s.ensureCurrentLocked()
		s.publish(Event{Type: EventSwitched, SessionID: cur.ID})
	}
	s.persistLocked()
	return nil
}

// Clear empties a session's messages without deleting it.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	sess.Messages = sess.Messages[:0]
	sess.Title = DefaultTitle
	sess.UpdatedAt = s.now()
	s.persistLocked()
	s.publish(Event{Type: EventCleared, SessionID: id})
	return nil
}

// Append adds msg to the end of the session. A blank ID is assigned a
// time-ordered UUID and a blank timestamp is filled from the clock.
func (s *Store) Append(id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	now := s.now()
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.Timestamp == "" {
		msg.Timestamp = msg.CreatedAt.Format(timestampLayout)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now
	if sess.Title == DefaultTitle && msg.Role == RoleUser {
		if title := deriveTitle(msg.Content); title != "" {
			sess.Title = title
		}
	}
	s.persistLocked()
	s.publish(Event{Type: EventMessageAdded, SessionID: id, Message: &msg})
	return msg, nil
}

// UpdateMessage overwrites the content of one message in place. It is the only
// mutation used while streaming and does not trigger persistence; call Save
// once the turn settles.
func (s *Store) UpdateMessage(id, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID != messageID {
			continue
		}
		sess.Messages[i].Content = content
		sess.UpdatedAt = s.now()
		updated := sess.Messages[i]
		s.publish(Event{Type: EventMessageUpdated, SessionID: id, Message: &updated})
		return nil
	}
	return fmt.Errorf("%w: %s in session %s", ErrUnknownMessage, messageID, id)
}

// Current returns a copy of the active session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCurrentLocked().clone()
}

// CurrentID reveals which session is active.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return sess.clone(), nil
}

// Message returns a copy of one message.
func (s *Store) Message(id, messageID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	for _, m := range sess.Messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return Message{}, fmt.Errorf("%w: %s in session %s", ErrUnknownMessage, messageID, id)
}

// List summarises every session, most recently updated first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			ID:           sess.ID,
			Title:        sess.Title,
			Current:      sess.ID == s.currentID,
			MessageCount: len(sess.Messages),
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Save flushes a snapshot to the persister, if any.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.Save(s.snapshotLocked())
}

func (s *Store) ensureCurrentLocked() *Session {
	if sess, ok := s.sessions[s.currentID]; ok {
		return sess
	}
	sess := s.newSessionLocked()
	s.currentID = sess.ID
	s.publish(Event{Type: EventCreated, SessionID: sess.ID})
	return sess
}

func (s *Store) newSessionLocked() *Session {
	now := s.now()
	sess := &Session{
		ID:        NewID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []Message{{
			ID:        NewID(),
			Role:      RoleAssistant,
			Content:   s.greeting,
			Timestamp: now.Format(timestampLayout),
			CreatedAt: now,
		}},
	}
	s.sessions[sess.ID] = sess
	return sess
}

func (s *Store) mostRecentLocked() *Session {
	var best *Session
	for _, sess := range s.sessions {
		if best == nil || sess.UpdatedAt.After(best.UpdatedAt) ||
			(sess.UpdatedAt.Equal(best.UpdatedAt) && sess.ID > best.ID) {
			best = sess
		}
	}
	return best
}

// NewID returns a time-ordered identifier. UUIDv7 sorts by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= titleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleRunes])) + "…"
}
