package recorder

import (
	"context"
	"time"

	"sessionreel/internal/capture"
	"sessionreel/internal/config"
	"sessionreel/internal/control"
	"sessionreel/internal/uploader"

	"go.uber.org/zap"
)

// Recorder is the client-side assembly of the recording pipeline: it wires a
// capture source into the segment producer, drives produced segments through
// the upload coordinator, and reports results over the control channel.
type Recorder struct {
	sessionID   string
	producer    *capture.Producer
	coordinator *uploader.Coordinator
	client      *control.Client
	logger      *zap.Logger

	pumpDone chan struct{}
}

// New builds a recorder for one session over the given control connection.
func New(sessionID string, source capture.Source, conn control.Conn, cfg config.Recording, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", sessionID))

	client := control.NewClient(conn, logger)
	coordinator := uploader.NewCoordinator(
		client,
		uploader.NewHTTPTransferer(nil),
		&controlEvents{client: client, logger: logger},
		uploader.Config{
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
			Concurrency:  cfg.UploadConcurrency,
		},
		logger,
	)
	producer := capture.NewProducer(source, cfg.ChunkInterval, cfg.FinalFlushTimeout, logger)

	return &Recorder{
		sessionID:   sessionID,
		producer:    producer,
		coordinator: coordinator,
		client:      client,
		logger:      logger,
		pumpDone:    make(chan struct{}),
	}
}

// Start announces the capture to the registry and begins segmentation.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.client.StartRecording(r.sessionID); err != nil {
		return err
	}
	if err := r.producer.Start(ctx); err != nil {
		return err
	}

	go r.pump()
	return nil
}

// pump feeds produced segments into the upload coordinator until the
// producer's channel closes.
func (r *Recorder) pump() {
	defer close(r.pumpDone)
	for seg := range r.producer.Segments() {
		r.coordinator.Submit(seg)
	}
	if err := r.producer.Err(); err != nil {
		r.logger.Error("capture ended with terminal error", zap.Error(err))
		if sendErr := r.client.ReportCaptureFailed(err); sendErr != nil {
			r.logger.Warn("failed to report capture error", zap.Error(sendErr))
		}
	}
}

// Stop flushes the final segment, drains outstanding uploads, and completes
// the capture on the registry.
func (r *Recorder) Stop(ctx context.Context) error {
	if err := r.producer.Stop(ctx); err != nil {
		r.logger.Warn("producer stop", zap.Error(err))
	}
	select {
	case <-r.pumpDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.coordinator.Wait()

	if _, err := r.client.StopRecording(ctx); err != nil {
		return err
	}
	return nil
}

// Resume re-drives pending and failed uploads after a control-channel
// reconnect.
func (r *Recorder) Resume() {
	r.coordinator.ResumePending()
}

// Close cancels all outstanding work and tears down the control channel.
func (r *Recorder) Close() {
	r.coordinator.Close()
	_ = r.client.Close()
}

// controlEvents forwards coordinator events upstream over the control
// channel.
type controlEvents struct {
	client *control.Client
	logger *zap.Logger
}

func (e *controlEvents) ChunkUploaded(index uint64, storageKey string, size int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.client.AcknowledgeChunk(ctx, index, storageKey, size); err != nil {
		e.logger.Error("chunk acknowledgement failed",
			zap.Uint64("index", index),
			zap.Error(err))
	}
}

func (e *controlEvents) ChunkFailed(index uint64, reason error) {
	if err := e.client.ReportChunkFailed(index, reason); err != nil {
		e.logger.Warn("failed to report failed chunk",
			zap.Uint64("index", index),
			zap.Error(err))
	}
}
