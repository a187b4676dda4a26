package engine

import "github.com/dfft546/gproxy/internal/provider"

// Result is what Execute returns to the router: either a fully-buffered
// response or a channel of already-downstream-protocol-encoded SSE/NDJSON
// frame bytes.
type Result struct {
	Status       int
	Headers      []provider.HeaderKV
	Body         []byte
	IsStream     bool
	StreamChunks <-chan []byte
	// StreamNDJSON is true when a stream result is framed as
	// newline-delimited JSON rather than SSE (spec §4.6 case 3's Gemini
	// alt=sse negotiation); only meaningful when IsStream is true.
	StreamNDJSON bool
}
