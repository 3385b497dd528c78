package registry

import (
	"context"
	"fmt"
	"time"

	"sessionreel/internal/metrics"
	"sessionreel/internal/storage"

	"go.uber.org/zap"
)

// WriteCredential authorizes a single upload of one chunk to its computed
// storage location. Never persisted; it lives only for the request/response
// pair that issued it.
type WriteCredential struct {
	URL        string
	StorageKey string
	ExpiresIn  time.Duration
}

// ChunkWithURL is a chunk record augmented with a freshly issued read
// credential for playback.
type ChunkWithURL struct {
	ChunkRecord
	DownloadURL string `json:"downloadUrl"`
}

// Options contains registry service configuration
type Options struct {
	Bucket        string
	URLExpiry     time.Duration
	VerifyUploads bool
}

// Service issues storage credentials, records acknowledged chunk metadata,
// and drives the capture session state machine.
type Service struct {
	store   Store
	objects storage.Client
	opts    Options
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewService returns a registry Service. metrics may be nil to disable
// metric recording (e.g. in tests).
func NewService(store Store, objects storage.Client, opts Options, m *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.URLExpiry <= 0 {
		opts.URLExpiry = 15 * time.Minute
	}
	return &Service{
		store:   store,
		objects: objects,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// StartCapture transitions the session from idle to recording, creating the
// session if it does not exist yet.
func (s *Service) StartCapture(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err == ErrSessionNotFound {
		session = &CaptureSession{SessionID: sessionID, Status: StatusIdle}
	} else if err != nil {
		return err
	}

	if session.Status != StatusIdle {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, StatusRecording)
	}

	session.Status = StatusRecording
	session.StartedAt = time.Now().UTC()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	s.logger.Info("capture started", zap.String("session_id", sessionID))
	s.updateRecordingGauge(ctx)
	return nil
}

// IssueWriteCredential computes the deterministic storage key for
// (sessionID, index) and returns a presigned upload URL for it. Repeated
// requests for the same index yield the same destination.
func (s *Service) IssueWriteCredential(ctx context.Context, sessionID string, index uint64) (WriteCredential, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return WriteCredential{}, err
	}
	if session.Status != StatusRecording {
		return WriteCredential{}, fmt.Errorf("%w: status %s", ErrNotRecording, session.Status)
	}

	key := ChunkKey(sessionID, index)
	u, err := s.objects.PresignedPutURL(ctx, s.opts.Bucket, key, s.opts.URLExpiry)
	if err != nil {
		return WriteCredential{}, fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}

	if s.metrics != nil {
		s.metrics.IncCredentialsIssued()
	}
	s.logger.Debug("write credential issued",
		zap.String("session_id", sessionID),
		zap.Uint64("index", index),
		zap.String("storage_key", key))

	return WriteCredential{
		URL:        u.String(),
		StorageKey: key,
		ExpiresIn:  s.opts.URLExpiry,
	}, nil
}

// AcknowledgeChunk records the metadata of a durably stored chunk.
// Acknowledging the same index twice updates the record rather than
// duplicating it.
func (s *Service) AcknowledgeChunk(ctx context.Context, sessionID string, index uint64, storageKey string, size int64) (ChunkRecord, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return ChunkRecord{}, err
	}
	if session.Status != StatusRecording {
		return ChunkRecord{}, fmt.Errorf("%w: status %s", ErrNotRecording, session.Status)
	}

	if s.opts.VerifyUploads {
		info, err := s.objects.StatObject(ctx, s.opts.Bucket, storageKey)
		if err != nil {
			return ChunkRecord{}, fmt.Errorf("chunk %d not found in storage: %w", index, err)
		}
		if info.Size != size {
			return ChunkRecord{}, fmt.Errorf("chunk %d size mismatch: reported %d, stored %d", index, size, info.Size)
		}
	}

	rec := ChunkRecord{
		Index:      index,
		StorageKey: storageKey,
		Size:       size,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertChunk(ctx, sessionID, rec); err != nil {
		return ChunkRecord{}, err
	}

	if s.metrics != nil {
		s.metrics.IncUploaded(size)
	}
	s.logger.Info("chunk acknowledged",
		zap.String("session_id", sessionID),
		zap.Uint64("index", index),
		zap.Int64("size", size))

	return rec, nil
}

// CompleteCapture transitions the session from recording to completed.
func (s *Service) CompleteCapture(ctx context.Context, sessionID string) error {
	return s.endCapture(ctx, sessionID, StatusCompleted)
}

// FailCapture transitions the session from recording to failed. After this,
// no further chunk requests are accepted.
func (s *Service) FailCapture(ctx context.Context, sessionID string) error {
	return s.endCapture(ctx, sessionID, StatusFailed)
}

func (s *Service) endCapture(ctx context.Context, sessionID string, to CaptureStatus) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusRecording {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, to)
	}

	now := time.Now().UTC()
	session.Status = to
	session.EndedAt = &now
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	s.logger.Info("capture ended",
		zap.String("session_id", sessionID),
		zap.String("status", string(to)))
	s.updateRecordingGauge(ctx)
	return nil
}

// ListChunks returns the session's chunk records sorted by index, each
// augmented with a freshly presigned download URL.
func (s *Service) ListChunks(ctx context.Context, sessionID string) ([]ChunkWithURL, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]ChunkWithURL, 0, len(session.Chunks))
	for _, rec := range session.Chunks {
		u, err := s.objects.PresignedGetURL(ctx, s.opts.Bucket, rec.StorageKey, s.opts.URLExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign download for %s: %w", rec.StorageKey, err)
		}
		out = append(out, ChunkWithURL{ChunkRecord: rec, DownloadURL: u.String()})
	}
	return out, nil
}

// LastAcknowledgedIndex returns the highest acknowledged chunk index for the
// session, or -1 if none. A resuming client uses it to know where to continue.
func (s *Service) LastAcknowledgedIndex(ctx context.Context, sessionID string) (int64, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return -1, err
	}
	if len(session.Chunks) == 0 {
		return -1, nil
	}
	return int64(session.Chunks[len(session.Chunks)-1].Index), nil
}

// GetSession returns the session with its chunk records.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*CaptureSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Status returns the capture status, chunk count, and last acknowledged
// index for the session.
func (s *Service) Status(ctx context.Context, sessionID string) (CaptureStatus, int, int64, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", 0, -1, err
	}
	last := int64(-1)
	if len(session.Chunks) > 0 {
		last = int64(session.Chunks[len(session.Chunks)-1].Index)
	}
	return session.Status, len(session.Chunks), last, nil
}

func (s *Service) updateRecordingGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.store.RecordingCount(ctx); err == nil {
		s.metrics.SetRecordingSessions(n)
	}
}
