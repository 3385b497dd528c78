package player

// Encoding is a container/codec candidate for sequential buffering.
type Encoding string

// DefaultEncodings is the prioritized candidate list probed during
// capability negotiation. WebM variants first, since that is what the
// recorder produces.
var DefaultEncodings = []Encoding{
	`video/webm; codecs="vp9,opus"`,
	`video/webm; codecs="vp8,opus"`,
	"video/webm",
	`video/mp4; codecs="avc1.42E01E,mp4a.40.2"`,
}

// Capability is the tagged result of capability negotiation: either
// sequential buffering with a concrete encoding, or unsupported.
type Capability struct {
	Sequential bool
	Encoding   Encoding
}

// Environment abstracts the playback platform. The reconstructor branches on
// the negotiated Capability instead of probing platform globals directly.
type Environment interface {
	// SupportsSequential reports whether append-based sequential
	// reconstruction is available at all.
	SupportsSequential() bool

	// SupportsEncoding reports whether the environment can decode a
	// sequential stream of the given encoding.
	SupportsEncoding(enc Encoding) bool

	// OpenBuffer opens an appendable buffer in strict sequence mode for
	// the given encoding.
	OpenBuffer(enc Encoding) (MediaBuffer, error)
}

// Negotiate returns the first supported candidate encoding, or an
// unsupported capability when sequential buffering is unavailable or no
// candidate is decodable.
func Negotiate(env Environment, candidates []Encoding) Capability {
	if !env.SupportsSequential() {
		return Capability{}
	}
	for _, enc := range candidates {
		if env.SupportsEncoding(enc) {
			return Capability{Sequential: true, Encoding: enc}
		}
	}
	return Capability{}
}
