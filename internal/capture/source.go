package capture

import "errors"

// SegmentStatus tracks a segment through the upload pipeline.
type SegmentStatus string

const (
	SegmentPending   SegmentStatus = "pending"
	SegmentUploading SegmentStatus = "uploading"
	SegmentUploaded  SegmentStatus = "uploaded"
	SegmentFailed    SegmentStatus = "failed"
)

// Segment is one bounded-duration slice of the captured stream.
type Segment struct {
	Index      uint64
	Payload    []byte
	Status     SegmentStatus
	RetryCount int
	StorageKey string
	UploadURL  string
}

// Source abstracts the platform recorder wrapped by the Producer. Flushed
// data arrives asynchronously on Segments, possibly after the flush that
// requested it has long returned.
type Source interface {
	// Live reports whether the underlying capture track is currently live.
	Live() bool

	// RequestFlush asks the source to emit its buffered data as one
	// completed segment on the Segments channel.
	RequestFlush()

	// Segments delivers flushed payloads in flush order. The source closes
	// the channel if the capture track ends.
	Segments() <-chan []byte
}

var (
	// ErrSourceNotLive is returned by Start when the capture track is not
	// live; starting anyway would only produce empty segments.
	ErrSourceNotLive = errors.New("capture source is not live")

	// ErrAlreadyStarted is returned by Start on a running producer.
	ErrAlreadyStarted = errors.New("producer already started")

	// ErrSourceEnded reports that the capture track ended unexpectedly.
	ErrSourceEnded = errors.New("capture source ended unexpectedly")
)
