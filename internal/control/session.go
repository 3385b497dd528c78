package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sessionreel/internal/metrics"
	"sessionreel/internal/registry"

	"go.uber.org/zap"
)

// Session dispatches control-channel messages for one recording session
// against the chunk registry. One Session is bound per connection; delivery
// order of replies follows the order messages are handled.
type Session struct {
	sessionID string
	registry  *registry.Service
	metrics   *metrics.Collector
	logger    *zap.Logger

	// first credential issuance per chunk, for upload duration observation
	urlIssued map[uint64]time.Time
}

// NewSession returns a dispatcher bound to sessionID. metrics may be nil.
func NewSession(sessionID string, reg *registry.Service, m *metrics.Collector, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		sessionID: sessionID,
		registry:  reg,
		metrics:   m,
		logger:    logger.With(zap.String("session_id", sessionID)),
		urlIssued: make(map[uint64]time.Time),
	}
}

// SessionID returns the bound session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// Handle processes one inbound envelope and sends any replies through send.
func (s *Session) Handle(ctx context.Context, env Envelope, send func(Envelope) error) error {
	switch env.Type {
	case TypeStart:
		return s.handleStart(ctx, env, send)
	case TypeRequestURL:
		return s.handleRequestURL(ctx, env, send)
	case TypeChunkUploaded:
		return s.handleChunkUploaded(ctx, env, send)
	case TypeError:
		return s.handleError(ctx, env)
	case TypeStop:
		return s.handleStop(ctx, send)
	case TypeGetStatus:
		return s.handleGetStatus(ctx, send)
	default:
		s.logger.Warn("unknown control message", zap.String("type", env.Type))
		return nil
	}
}

func (s *Session) handleStart(ctx context.Context, env Envelope, send func(Envelope) error) error {
	var p StartPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid start payload: %w", err)
		}
	}
	if p.SessionID != "" {
		s.sessionID = p.SessionID
	}

	if err := s.registry.StartCapture(ctx, s.sessionID); err != nil {
		s.logger.Error("start capture failed", zap.Error(err))
		return send(NewEnvelope(TypeError, ErrorPayload{Error: err.Error()}))
	}
	return nil
}

func (s *Session) handleRequestURL(ctx context.Context, env Envelope, send func(Envelope) error) error {
	var p RequestURLPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid request-url payload: %w", err)
	}

	cred, err := s.registry.IssueWriteCredential(ctx, s.sessionID, p.ChunkIndex)
	if err != nil {
		s.logger.Warn("write credential refused",
			zap.Uint64("chunk_index", p.ChunkIndex),
			zap.Error(err))
		return send(NewEnvelope(TypeURLError, URLErrorPayload{
			ChunkIndex: p.ChunkIndex,
			Error:      err.Error(),
		}))
	}

	if _, ok := s.urlIssued[p.ChunkIndex]; !ok {
		s.urlIssued[p.ChunkIndex] = time.Now()
	}

	return send(NewEnvelope(TypeURL, URLPayload{
		ChunkIndex: p.ChunkIndex,
		URL:        cred.URL,
		StorageKey: cred.StorageKey,
		ExpiresIn:  int64(cred.ExpiresIn.Seconds()),
	}))
}

func (s *Session) handleChunkUploaded(ctx context.Context, env Envelope, send func(Envelope) error) error {
	var p ChunkUploadedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid chunk-uploaded payload: %w", err)
	}

	if _, err := s.registry.AcknowledgeChunk(ctx, s.sessionID, p.ChunkIndex, p.S3Key, p.Size); err != nil {
		s.logger.Error("chunk acknowledgement failed",
			zap.Uint64("chunk_index", p.ChunkIndex),
			zap.Error(err))
		idx := p.ChunkIndex
		return send(NewEnvelope(TypeError, ErrorPayload{ChunkIndex: &idx, Error: err.Error()}))
	}

	if issued, ok := s.urlIssued[p.ChunkIndex]; ok {
		if s.metrics != nil {
			s.metrics.ObserveUploadDuration(time.Since(issued))
		}
		delete(s.urlIssued, p.ChunkIndex)
	}

	return send(NewEnvelope(TypeChunkConfirmed, ChunkConfirmedPayload{ChunkIndex: p.ChunkIndex}))
}

func (s *Session) handleError(ctx context.Context, env Envelope) error {
	var p ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid error payload: %w", err)
	}

	if p.ChunkIndex != nil {
		// A permanently failed chunk degrades the recording's completeness
		// but does not abort the session.
		s.logger.Error("client reported permanently failed chunk",
			zap.Uint64("chunk_index", *p.ChunkIndex),
			zap.String("error", p.Error))
		if s.metrics != nil {
			s.metrics.IncFailed()
		}
		return nil
	}

	s.logger.Error("client reported unrecoverable capture error",
		zap.String("error", p.Error))
	if err := s.registry.FailCapture(ctx, s.sessionID); err != nil {
		s.logger.Error("fail capture transition rejected", zap.Error(err))
	}
	return nil
}

func (s *Session) handleStop(ctx context.Context, send func(Envelope) error) error {
	if err := s.registry.CompleteCapture(ctx, s.sessionID); err != nil {
		s.logger.Error("complete capture failed", zap.Error(err))
		return send(NewEnvelope(TypeError, ErrorPayload{Error: err.Error()}))
	}
	return send(NewEnvelope(TypeStopped, StoppedPayload{SessionID: s.sessionID}))
}

func (s *Session) handleGetStatus(ctx context.Context, send func(Envelope) error) error {
	status, count, last, err := s.registry.Status(ctx, s.sessionID)
	if err != nil {
		return send(NewEnvelope(TypeError, ErrorPayload{Error: err.Error()}))
	}
	return send(NewEnvelope(TypeStatus, StatusPayload{
		Status:         string(status),
		ChunkCount:     count,
		LastChunkIndex: last,
	}))
}
