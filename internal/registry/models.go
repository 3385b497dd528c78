package registry

import (
	"errors"
	"fmt"
	"time"
)

// CaptureStatus is the lifecycle state of a session's recording.
type CaptureStatus string

const (
	StatusIdle      CaptureStatus = "idle"
	StatusRecording CaptureStatus = "recording"
	StatusCompleted CaptureStatus = "completed"
	StatusFailed    CaptureStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s CaptureStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ChunkRecord is the durable metadata for one acknowledged chunk.
// Immutable once created; one record per successfully stored segment.
type ChunkRecord struct {
	Index      uint64    `json:"index"`
	StorageKey string    `json:"s3Key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// CaptureSession is the server-held recording state for one session.
// Chunks is append-only and ordered by Index; indices may have gaps if a
// segment was permanently lost on the client.
type CaptureSession struct {
	SessionID string
	Status    CaptureStatus
	StartedAt time.Time
	EndedAt   *time.Time
	Chunks    []ChunkRecord
}

var (
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned for a capture status transition that
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid capture status transition")

	// ErrNotRecording is returned when a chunk operation arrives for a
	// session that is not in recording state.
	ErrNotRecording = errors.New("session is not recording")
)

// ChunkKey computes the deterministic storage location for a chunk. Repeated
// calls for the same (sessionID, index) always yield the same key, which keeps
// credential re-requests idempotent.
func ChunkKey(sessionID string, index uint64) string {
	return fmt.Sprintf("sessions/%s/chunks/%05d.webm", sessionID, index)
}
