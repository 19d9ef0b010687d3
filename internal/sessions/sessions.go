// Package sessions provides the in-memory, per-session conversation
// history shared by every interaction mode.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/huddle/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

const (
	DefaultStaleTimeout  = time.Hour
	DefaultSweepInterval = 15 * time.Minute
	DefaultHistoryMax    = 20
)

// Store is the session/history store used by the engine and the API.
type Store interface {
	Create(ctx context.Context, id string, metadata map[string]interface{}) (models.Session, error)
	Get(ctx context.Context, id string) (models.Session, error)
	GetOrCreate(ctx context.Context, id string) (models.Session, bool, error)
	Append(ctx context.Context, id string, turn models.Turn) (models.Turn, error)
	History(ctx context.Context, id string, q HistoryQuery) ([]models.Turn, error)
	Clear(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (models.SessionStats, error)
	List(ctx context.Context) []models.SessionStats
	SweepStale(ctx context.Context) int
}

// HistoryQuery selects the tail of a transcript. Role filters before the
// limit is applied. Max 0 means DefaultHistoryMax; a negative Max returns
// every matching turn.
type HistoryQuery struct {
	Max  int
	Role models.Role
}

// Options tunes a MemoryStore. Zero values take the defaults.
type Options struct {
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	// OnReap is called with the number of sessions removed by a sweep.
	OnReap func(n int)
}

type session struct {
	models.Session
	nextSeq int
}

// MemoryStore is a thread-safe in-memory Store. A single RWMutex guards
// every session; each append is atomic and readers only ever see copies.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	opts      Options
	lastSweep time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryStore{
		sessions:  make(map[string]*session),
		opts:      opts,
		lastSweep: opts.Now(),
	}
}

// Create stores a new empty session. An empty id gets a generated one.
// Stale sessions are reclaimed here at most once per sweep interval.
func (s *MemoryStore) Create(_ context.Context, id string, metadata map[string]interface{}) (models.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	reaped := s.maybeSweepLocked()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		s.reaped(reaped)
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	sess := s.newSessionLocked(id, metadata)
	out := snapshot(sess)
	s.mu.Unlock()

	s.reaped(reaped)
	return out, nil
}

// GetOrCreate returns the session, creating it if needed. The bool
// reports whether it was created.
func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (models.Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		out := snapshot(sess)
		s.mu.Unlock()
		return out, false, nil
	}
	reaped := s.maybeSweepLocked()
	sess := s.newSessionLocked(id, nil)
	out := snapshot(sess)
	s.mu.Unlock()

	s.reaped(reaped)
	return out, true, nil
}

// Get returns a snapshot of the session.
func (s *MemoryStore) Get(_ context.Context, id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, notFound(id)
	}
	return snapshot(sess), nil
}

// Append validates turn, assigns its sequence number and stores a copy.
// Timestamps never go backwards within a session.
func (s *MemoryStore) Append(_ context.Context, id string, turn models.Turn) (models.Turn, error) {
	if err := turn.Validate(); err != nil {
		return models.Turn{}, fmt.Errorf("append to session %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.Turn{}, notFound(id)
	}

	turn = turn.Clone()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.opts.Now()
	}
	if n := len(sess.Turns); n > 0 && turn.Timestamp.Before(sess.Turns[n-1].Timestamp) {
		turn.Timestamp = sess.Turns[n-1].Timestamp
	}
	sess.nextSeq++
	turn.Seq = sess.nextSeq
	sess.Turns = append(sess.Turns, turn)
	sess.LastActive = s.opts.Now()
	return turn.Clone(), nil
}

// History returns the most recent turns matching q, oldest first.
func (s *MemoryStore) History(_ context.Context, id string, q HistoryQuery) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}

	max := q.Max
	if max == 0 {
		max = DefaultHistoryMax
	}

	var matched []*models.Turn
	for i := range sess.Turns {
		if q.Role == "" || sess.Turns[i].Role == q.Role {
			matched = append(matched, &sess.Turns[i])
		}
	}
	if max > 0 && len(matched) > max {
		matched = matched[len(matched)-max:]
	}

	out := make([]models.Turn, len(matched))
	for i, t := range matched {
		out[i] = t.Clone()
	}
	return out, nil
}

// Clear drops every turn but keeps the session. Sequence numbers keep
// increasing across a clear.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return notFound(id)
	}
	sess.Turns = nil
	sess.LastActive = s.opts.Now()
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return notFound(id)
	}
	delete(s.sessions, id)
	return nil
}

// Stats summarizes one session.
func (s *MemoryStore) Stats(_ context.Context, id string) (models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.SessionStats{}, notFound(id)
	}
	return stats(sess), nil
}

// List summarizes every session, most recently active first.
func (s *MemoryStore) List(_ context.Context) []models.SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SessionStats, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, stats(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepStale removes sessions idle for longer than the stale timeout and
// returns how many were removed.
func (s *MemoryStore) SweepStale(_ context.Context) int {
	s.mu.Lock()
	n := s.sweepLocked()
	s.mu.Unlock()

	s.reaped(n)
	return n
}

func (s *MemoryStore) newSessionLocked(id string, metadata map[string]interface{}) *session {
	now := s.opts.Now()
	md := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	sess := &session{Session: models.Session{
		ID:         id,
		CreatedAt:  now,
		LastActive: now,
		Metadata:   md,
	}}
	s.sessions[id] = sess
	return sess
}

func (s *MemoryStore) maybeSweepLocked() int {
	if s.opts.Now().Sub(s.lastSweep) < s.opts.SweepInterval {
		return 0
	}
	return s.sweepLocked()
}

func (s *MemoryStore) sweepLocked() int {
	now := s.opts.Now()
	s.lastSweep = now
	n := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActive) > s.opts.StaleTimeout {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) reaped(n int) {
	if n > 0 && s.opts.OnReap != nil {
		s.opts.OnReap(n)
	}
}

func snapshot(sess *session) models.Session {
	out := sess.Session
	out.Turns = make([]models.Turn, len(sess.Turns))
	for i, t := range sess.Turns {
		out.Turns[i] = t.Clone()
	}
	out.Metadata = make(map[string]interface{}, len(sess.Metadata))
	for k, v := range sess.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func stats(sess *session) models.SessionStats {
	st := models.SessionStats{
		ID:          sess.ID,
		TurnCount:   len(sess.Turns),
		AgentCounts: map[string]int{},
		CreatedAt:   sess.CreatedAt,
		LastActive:  sess.LastActive,
		DurationSec: sess.LastActive.Sub(sess.CreatedAt).Seconds(),
	}
	for _, t := range sess.Turns {
		switch t.Role {
		case models.RoleUser:
			st.UserTurns++
		case models.RoleAgent:
			st.AgentTurns++
			st.AgentCounts[t.AgentID]++
		}
	}
	return st
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

var _ Store = (*MemoryStore)(nil)
