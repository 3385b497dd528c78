package control

import "encoding/json"

// Message types carried on the session-scoped control channel.
const (
	TypeStart          = "video:start"
	TypeRequestURL     = "video:request-url"
	TypeURL            = "video:url"
	TypeURLError       = "video:url-error"
	TypeChunkUploaded  = "video:chunk-uploaded"
	TypeChunkConfirmed = "video:chunk-confirmed"
	TypeError          = "video:error"
	TypeStop           = "video:stop"
	TypeStopped        = "video:stopped"
	TypeGetStatus      = "video:get-status"
	TypeStatus         = "video:status"
)

// Envelope is the wire format for control messages.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal errors are
// programming errors (all payload types are plain structs), so they panic.
func NewEnvelope(msgType string, payload interface{}) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("control: unmarshalable payload: " + err.Error())
	}
	return Envelope{Type: msgType, Payload: data}
}

// StartPayload optionally overrides the session bound at connection time.
type StartPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

// RequestURLPayload asks for a write credential for one chunk.
type RequestURLPayload struct {
	ChunkIndex uint64 `json:"chunkIndex"`
}

// URLPayload answers a request-url with a presigned upload URL.
type URLPayload struct {
	ChunkIndex uint64 `json:"chunkIndex"`
	URL        string `json:"url"`
	StorageKey string `json:"storageKey"`
	ExpiresIn  int64  `json:"expiresIn"` // seconds
}

// URLErrorPayload answers a request-url that could not be served.
type URLErrorPayload struct {
	ChunkIndex uint64 `json:"chunkIndex"`
	Error      string `json:"error"`
}

// ChunkUploadedPayload reports a durably stored chunk.
type ChunkUploadedPayload struct {
	ChunkIndex uint64 `json:"chunkIndex"`
	S3Key      string `json:"s3Key"`
	Size       int64  `json:"size"`
}

// ChunkConfirmedPayload acknowledges that the chunk metadata was recorded.
type ChunkConfirmedPayload struct {
	ChunkIndex uint64 `json:"chunkIndex"`
}

// ErrorPayload reports a permanently failed chunk, or, with a nil
// ChunkIndex, an unrecoverable capture error that fails the session.
type ErrorPayload struct {
	ChunkIndex *uint64 `json:"chunkIndex,omitempty"`
	Error      string  `json:"error"`
}

// StoppedPayload confirms that capture completed.
type StoppedPayload struct {
	SessionID string `json:"sessionId"`
}

// StatusPayload answers a get-status request.
type StatusPayload struct {
	Status         string `json:"status"`
	ChunkCount     int    `json:"chunkCount"`
	LastChunkIndex int64  `json:"lastChunkIndex"`
}
