package session

import (
	"errors"
	"fmt"

	"deskmate/internal/kvstore"
)

// Snapshot is the serialised form of a Store.
type Snapshot struct {
	CurrentID string    `json:"current_id"`
	Sessions  []Session `json:"sessions"`
}

// Persister stores and restores snapshots. Losing a snapshot is tolerated.
type Persister interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// KVPersister keeps the snapshot as one JSON value in the key/value store.
type KVPersister struct {
	kv  *kvstore.Store
	key string
}

// SnapshotKey is the default kvstore key for session snapshots.
const SnapshotKey = "sessions.snapshot"

// NewKVPersister binds a persister to kv under key (SnapshotKey when blank).
func NewKVPersister(kv *kvstore.Store, key string) *KVPersister {
	if key == "" {
		key = SnapshotKey
	}
	return &KVPersister{kv: kv, key: key}
}

func (p *KVPersister) Load() (Snapshot, error) {
	var snap Snapshot
	if err := p.kv.GetJSON(p.key, &snap); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("load sessions: %w", err)
	}
	return snap, nil
}

func (p *KVPersister) Save(snap Snapshot) error {
	return p.kv.SetJSON(p.key, snap)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{CurrentID: s.currentID, Sessions: make([]Session, 0, len(s.sessions))}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, sess.clone())
	}
	return snap
}

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		s.logger.Printf("persist sessions failed: %v", err)
	}
}

func (s *Store) restoreLocked() {
	snap, err := s.persister.Load()
	if err != nil {
		s.logger.Printf("restore sessions failed, starting empty: %v", err)
		return
	}
	loaded := 0
	for i := range snap.Sessions {
		sess := snap.Sessions[i]
		if sess.ID == "" {
			continue
		}
		if sess.Title == "" {
			sess.Title = DefaultTitle
		}
		// streams interrupted by a restart leave placeholders behind
		for j := range sess.Messages {
			if sess.Messages[j].Pending() {
				sess.Messages[j].Content = "_[interrupted]_"
			}
		}
		s.sessions[sess.ID] = &sess
		loaded++
	}
	if loaded > 0 {
		s.logger.Printf("restored %d stored sessions", loaded)
	}
	if _, ok := s.sessions[snap.CurrentID]; ok {
		s.currentID = snap.CurrentID
	} else if recent := s.mostRecentLocked(); recent != nil {
		s.currentID = recent.ID
	}
}
