package session

// EventType names a store mutation.
type EventType string

const (
	EventCreated        EventType = "created"
	EventSwitched       EventType = "switched"
	EventDeleted        EventType = "deleted"
	EventCleared        EventType = "cleared"
	EventMessageAdded   EventType = "message_added"
	EventMessageUpdated EventType = "message_updated"
)

// Event is pushed to subscribers after each mutation. Message is set for the
// message events only.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Message   *Message  `json:"message,omitempty"`
}

// Subscribe registers an observer. Slow subscribers miss events rather than
// block the store; callers needing the full state re-read it with Get.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Printf("session event %s dropped for slow subscriber", ev.Type)
		}
	}
}
