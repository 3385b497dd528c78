package player

import "errors"

// ErrBufferBusy is returned by Append while a previous append is still
// outstanding. Appends are single-flight by platform contract, not policy;
// the caller must await the completion signal and retry, never drop the
// chunk.
var ErrBufferBusy = errors.New("media buffer busy")

// MediaBuffer is an append-only playback buffer operating in strict sequence
// mode: chunks appended in order form one continuous decodable stream.
type MediaBuffer interface {
	// Append starts appending the next chunk's bytes. At most one append
	// may be outstanding; Append returns ErrBufferBusy otherwise.
	Append(data []byte) error

	// Completions delivers exactly one value per started append: nil on
	// success, the append error otherwise.
	Completions() <-chan error

	// Finalize signals end-of-stream after the last chunk has been
	// appended. No appends may follow.
	Finalize() error

	// AppendedBytes returns the total bytes successfully appended.
	AppendedBytes() int64
}
