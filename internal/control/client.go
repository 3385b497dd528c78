package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sessionreel/internal/uploader"

	"go.uber.org/zap"
)

// Conn is the client side of a control-channel connection.
type Conn interface {
	Send(Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// ErrClientClosed is returned for operations on a closed control client.
var ErrClientClosed = errors.New("control client closed")

type urlResult struct {
	cred uploader.UploadCredential
	err  error
}

// Client drives the recorder's side of the control channel. It implements
// the upload coordinator's CredentialIssuer, correlating request/response
// pairs by chunk index.
type Client struct {
	conn   Conn
	logger *zap.Logger

	mu             sync.Mutex
	urlWaiters     map[uint64]chan urlResult
	confirmWaiters map[uint64]chan error
	stoppedCh      chan StoppedPayload
	statusCh       chan StatusPayload

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient returns a control client over conn and starts its read loop.
func NewClient(conn Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		conn:           conn,
		logger:         logger,
		urlWaiters:     make(map[uint64]chan urlResult),
		confirmWaiters: make(map[uint64]chan error),
		stoppedCh:      make(chan StoppedPayload, 1),
		statusCh:       make(chan StatusPayload, 1),
		closed:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close tears the connection down; pending waiters fail with ErrClientClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// StartRecording announces the start of capture for the bound session.
func (c *Client) StartRecording(sessionID string) error {
	return c.conn.Send(NewEnvelope(TypeStart, StartPayload{SessionID: sessionID}))
}

// RequestUploadURL implements uploader.CredentialIssuer: it requests a write
// credential for the chunk and awaits the matching video:url reply.
func (c *Client) RequestUploadURL(ctx context.Context, index uint64) (uploader.UploadCredential, error) {
	ch := make(chan urlResult, 1)
	c.mu.Lock()
	c.urlWaiters[index] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.urlWaiters, index)
		c.mu.Unlock()
	}()

	if err := c.conn.Send(NewEnvelope(TypeRequestURL, RequestURLPayload{ChunkIndex: index})); err != nil {
		return uploader.UploadCredential{}, fmt.Errorf("failed to send url request: %w", err)
	}

	select {
	case res := <-ch:
		return res.cred, res.err
	case <-ctx.Done():
		return uploader.UploadCredential{}, ctx.Err()
	case <-c.closed:
		return uploader.UploadCredential{}, ErrClientClosed
	}
}

// AcknowledgeChunk reports a durably stored chunk and awaits confirmation.
func (c *Client) AcknowledgeChunk(ctx context.Context, index uint64, storageKey string, size int64) error {
	ch := make(chan error, 1)
	c.mu.Lock()
	c.confirmWaiters[index] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.confirmWaiters, index)
		c.mu.Unlock()
	}()

	err := c.conn.Send(NewEnvelope(TypeChunkUploaded, ChunkUploadedPayload{
		ChunkIndex: index,
		S3Key:      storageKey,
		Size:       size,
	}))
	if err != nil {
		return fmt.Errorf("failed to send chunk-uploaded: %w", err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClientClosed
	}
}

// ReportChunkFailed surfaces a permanently failed chunk to the registry.
func (c *Client) ReportChunkFailed(index uint64, reason error) error {
	idx := index
	return c.conn.Send(NewEnvelope(TypeError, ErrorPayload{ChunkIndex: &idx, Error: reason.Error()}))
}

// ReportCaptureFailed surfaces an unrecoverable capture error.
func (c *Client) ReportCaptureFailed(reason error) error {
	return c.conn.Send(NewEnvelope(TypeError, ErrorPayload{Error: reason.Error()}))
}

// StopRecording requests capture completion and awaits video:stopped.
func (c *Client) StopRecording(ctx context.Context) (string, error) {
	if err := c.conn.Send(Envelope{Type: TypeStop}); err != nil {
		return "", fmt.Errorf("failed to send stop: %w", err)
	}
	select {
	case p := <-c.stoppedCh:
		return p.SessionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.closed:
		return "", ErrClientClosed
	}
}

// GetStatus fetches the server-side capture status.
func (c *Client) GetStatus(ctx context.Context) (StatusPayload, error) {
	if err := c.conn.Send(Envelope{Type: TypeGetStatus}); err != nil {
		return StatusPayload{}, fmt.Errorf("failed to send get-status: %w", err)
	}
	select {
	case p := <-c.statusCh:
		return p, nil
	case <-ctx.Done():
		return StatusPayload{}, ctx.Err()
	case <-c.closed:
		return StatusPayload{}, ErrClientClosed
	}
}

func (c *Client) readLoop() {
	for {
		env, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("control channel read failed", zap.Error(err))
				c.Close()
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypeURL:
		var p URLPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid url payload", zap.Error(err))
			return
		}
		c.resolveURL(p.ChunkIndex, urlResult{cred: uploader.UploadCredential{
			URL:        p.URL,
			StorageKey: p.StorageKey,
			ExpiresIn:  time.Duration(p.ExpiresIn) * time.Second,
		}})

	case TypeURLError:
		var p URLErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid url-error payload", zap.Error(err))
			return
		}
		c.resolveURL(p.ChunkIndex, urlResult{err: errors.New(p.Error)})

	case TypeChunkConfirmed:
		var p ChunkConfirmedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid chunk-confirmed payload", zap.Error(err))
			return
		}
		c.resolveConfirm(p.ChunkIndex, nil)

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid error payload", zap.Error(err))
			return
		}
		if p.ChunkIndex != nil {
			c.resolveConfirm(*p.ChunkIndex, errors.New(p.Error))
			return
		}
		c.logger.Error("server reported session error", zap.String("error", p.Error))

	case TypeStopped:
		var p StoppedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid stopped payload", zap.Error(err))
			return
		}
		select {
		case c.stoppedCh <- p:
		default:
		}

	case TypeStatus:
		var p StatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("invalid status payload", zap.Error(err))
			return
		}
		select {
		case c.statusCh <- p:
		default:
		}

	default:
		c.logger.Warn("unexpected control message", zap.String("type", env.Type))
	}
}

func (c *Client) resolveURL(index uint64, res urlResult) {
	c.mu.Lock()
	ch, ok := c.urlWaiters[index]
	c.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (c *Client) resolveConfirm(index uint64, err error) {
	c.mu.Lock()
	ch, ok := c.confirmWaiters[index]
	c.mu.Unlock()
	if ok {
		ch <- err
	}
}
