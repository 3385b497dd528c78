package registry

import (
	"context"
	"sort"
	"sync"
)

// Store is the persistence abstraction for capture sessions and chunk
// records. Implementations must be safe for concurrent use.
type Store interface {
	// GetSession returns the session with its chunks sorted by index, or
	// ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*CaptureSession, error)

	// SaveSession upserts the session row (status and timestamps). Chunk
	// records are managed separately via UpsertChunk.
	SaveSession(ctx context.Context, session *CaptureSession) error

	// UpsertChunk inserts the chunk record, or replaces an existing record
	// with the same index. The chunk list never grows a duplicate index.
	UpsertChunk(ctx context.Context, sessionID string, rec ChunkRecord) error

	// RecordingCount returns the number of sessions currently recording.
	RecordingCount(ctx context.Context) (int, error)

	Close() error
}

// InMemoryStore is an in-memory implementation of Store, used by tests and
// by deployments that do not need restart durability.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*CaptureSession
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*CaptureSession),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (*CaptureSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(session), nil
}

// SaveSession implements Store.SaveSession.
func (s *InMemoryStore) SaveSession(_ context.Context, session *CaptureSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[session.SessionID]
	if !ok {
		s.sessions[session.SessionID] = copySession(session)
		return nil
	}

	existing.Status = session.Status
	existing.StartedAt = session.StartedAt
	if session.EndedAt != nil {
		endedAt := *session.EndedAt
		existing.EndedAt = &endedAt
	}
	return nil
}

// UpsertChunk implements Store.UpsertChunk.
func (s *InMemoryStore) UpsertChunk(_ context.Context, sessionID string, rec ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	for i := range session.Chunks {
		if session.Chunks[i].Index == rec.Index {
			session.Chunks[i] = rec
			return nil
		}
	}

	session.Chunks = append(session.Chunks, rec)
	sort.Slice(session.Chunks, func(i, j int) bool {
		return session.Chunks[i].Index < session.Chunks[j].Index
	})
	return nil
}

// RecordingCount implements Store.RecordingCount.
func (s *InMemoryStore) RecordingCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, session := range s.sessions {
		if session.Status == StatusRecording {
			n++
		}
	}
	return n, nil
}

// Close implements Store.Close.
func (s *InMemoryStore) Close() error { return nil }

// copySession returns a deep copy so callers never share internal state.
func copySession(session *CaptureSession) *CaptureSession {
	out := &CaptureSession{
		SessionID: session.SessionID,
		Status:    session.Status,
		StartedAt: session.StartedAt,
	}
	if session.EndedAt != nil {
		endedAt := *session.EndedAt
		out.EndedAt = &endedAt
	}
	out.Chunks = make([]ChunkRecord, len(session.Chunks))
	copy(out.Chunks, session.Chunks)
	return out
}
