package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"sessionreel/internal/registry"
	"sessionreel/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signingStub presigns URLs without a storage backend.
type signingStub struct{}

func (signingStub) PutObject(context.Context, string, string, io.Reader, int64, storage.PutOptions) error {
	return errors.New("not implemented")
}

func (signingStub) GetObject(context.Context, string, string) (storage.Object, error) {
	return nil, errors.New("not implemented")
}

func (signingStub) StatObject(context.Context, string, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("not implemented")
}

func (signingStub) PresignedPutURL(_ context.Context, bucket, key string, _ time.Duration) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("https://store.local/%s/%s?sig=put", bucket, key))
}

func (signingStub) PresignedGetURL(_ context.Context, bucket, key string, _ time.Duration) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("https://store.local/%s/%s?sig=get", bucket, key))
}

func newTestRegistry() *registry.Service {
	return registry.NewService(registry.NewInMemoryStore(), signingStub{}, registry.Options{
		Bucket:    "recordings",
		URLExpiry: 15 * time.Minute,
	}, nil, nil)
}

// replies collects everything a Session sends back.
type replies struct {
	sent []Envelope
}

func (r *replies) send(env Envelope) error {
	r.sent = append(r.sent, env)
	return nil
}

func (r *replies) last() Envelope {
	return r.sent[len(r.sent)-1]
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var p T
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestSession_StartRequestURLAndStop(t *testing.T) {
	reg := newTestRegistry()
	sess := NewSession("s1", reg, nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	assert.Empty(t, out.sent, "successful start has no reply")

	require.NoError(t, sess.Handle(ctx,
		NewEnvelope(TypeRequestURL, RequestURLPayload{ChunkIndex: 3}), out.send))
	require.Len(t, out.sent, 1)
	require.Equal(t, TypeURL, out.last().Type)
	urlPayload := decode[URLPayload](t, out.last())
	assert.Equal(t, uint64(3), urlPayload.ChunkIndex)
	assert.Equal(t, "sessions/s1/chunks/00003.webm", urlPayload.StorageKey)
	assert.Contains(t, urlPayload.URL, urlPayload.StorageKey)
	assert.Equal(t, int64(900), urlPayload.ExpiresIn)

	require.NoError(t, sess.Handle(ctx,
		NewEnvelope(TypeChunkUploaded, ChunkUploadedPayload{
			ChunkIndex: 3,
			S3Key:      urlPayload.StorageKey,
			Size:       1024,
		}), out.send))
	require.Equal(t, TypeChunkConfirmed, out.last().Type)
	confirmed := decode[ChunkConfirmedPayload](t, out.last())
	assert.Equal(t, uint64(3), confirmed.ChunkIndex)

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStop}, out.send))
	require.Equal(t, TypeStopped, out.last().Type)
	stopped := decode[StoppedPayload](t, out.last())
	assert.Equal(t, "s1", stopped.SessionID)

	session, err := reg.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, session.Status)
	require.Len(t, session.Chunks, 1)
	assert.Equal(t, int64(1024), session.Chunks[0].Size)
}

func TestSession_StartOverridesSessionID(t *testing.T) {
	reg := newTestRegistry()
	sess := NewSession("bound", reg, nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx,
		NewEnvelope(TypeStart, StartPayload{SessionID: "override"}), out.send))
	assert.Equal(t, "override", sess.SessionID())

	_, err := reg.GetSession(ctx, "override")
	assert.NoError(t, err)
	_, err = reg.GetSession(ctx, "bound")
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
}

func TestSession_RequestURLBeforeStart(t *testing.T) {
	sess := NewSession("s1", newTestRegistry(), nil, nil)
	out := &replies{}

	require.NoError(t, sess.Handle(context.Background(),
		NewEnvelope(TypeRequestURL, RequestURLPayload{ChunkIndex: 0}), out.send))
	require.Equal(t, TypeURLError, out.last().Type)
	p := decode[URLErrorPayload](t, out.last())
	assert.Equal(t, uint64(0), p.ChunkIndex)
	assert.NotEmpty(t, p.Error)
}

func TestSession_DoubleStartReportsError(t *testing.T) {
	sess := NewSession("s1", newTestRegistry(), nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	require.Len(t, out.sent, 1)
	assert.Equal(t, TypeError, out.last().Type)
}

func TestSession_CaptureErrorFailsSession(t *testing.T) {
	reg := newTestRegistry()
	sess := NewSession("s1", reg, nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	require.NoError(t, sess.Handle(ctx,
		NewEnvelope(TypeError, ErrorPayload{Error: "track ended"}), out.send))

	session, err := reg.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, session.Status)
}

func TestSession_ChunkErrorKeepsSessionRecording(t *testing.T) {
	reg := newTestRegistry()
	sess := NewSession("s1", reg, nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	idx := uint64(4)
	require.NoError(t, sess.Handle(ctx,
		NewEnvelope(TypeError, ErrorPayload{ChunkIndex: &idx, Error: "retries exhausted"}), out.send))

	session, err := reg.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRecording, session.Status)
}

func TestSession_GetStatus(t *testing.T) {
	reg := newTestRegistry()
	sess := NewSession("s1", reg, nil, nil)
	out := &replies{}
	ctx := context.Background()

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeStart}, out.send))
	_, err := reg.AcknowledgeChunk(ctx, "s1", 0, registry.ChunkKey("s1", 0), 512)
	require.NoError(t, err)

	require.NoError(t, sess.Handle(ctx, Envelope{Type: TypeGetStatus}, out.send))
	require.Equal(t, TypeStatus, out.last().Type)
	status := decode[StatusPayload](t, out.last())
	assert.Equal(t, string(registry.StatusRecording), status.Status)
	assert.Equal(t, 1, status.ChunkCount)
	assert.Equal(t, int64(0), status.LastChunkIndex)
}

func TestSession_UnknownTypeIgnored(t *testing.T) {
	sess := NewSession("s1", newTestRegistry(), nil, nil)
	out := &replies{}

	require.NoError(t, sess.Handle(context.Background(),
		Envelope{Type: "video:unknown"}, out.send))
	assert.Empty(t, out.sent)
}
