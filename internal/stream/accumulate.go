package stream

import (
	"strings"

	"github.com/dfft546/gproxy/internal/translator/canonical"
)

// UsageAccumulator tracks the running token counts seen across a stream,
// so the engine can log a UsageSummary even when the upstream never
// sends a final usage block (spec §4.8's fallback token counting).
type UsageAccumulator struct {
	usage canonical.Usage
	seen  bool
}

// Observe folds one event's usage fields into the running total. Most
// providers only populate usage on the terminal event; observing every
// event and keeping the latest non-zero value handles both that and
// providers (OpenAI) that stream a running total on every chunk.
func (a *UsageAccumulator) Observe(u canonical.Usage) {
	if u == (canonical.Usage{}) {
		return
	}
	a.usage = u
	a.seen = true
}

// Usage returns the accumulated usage and whether any event reported one.
func (a *UsageAccumulator) Usage() (canonical.Usage, bool) {
	return a.usage, a.seen
}

// OutputTextAccumulator concatenates every text delta seen in a stream,
// used as the basis for a fallback token count (len(text)/4, spec §4.8)
// when no usage block ever arrives.
type OutputTextAccumulator struct {
	text strings.Builder
}

// Add appends one text delta.
func (a *OutputTextAccumulator) Add(delta string) {
	a.text.WriteString(delta)
}

// Len returns the accumulated character count.
func (a *OutputTextAccumulator) Len() int {
	return a.text.Len()
}

// String returns the accumulated text.
func (a *OutputTextAccumulator) String() string {
	return a.text.String()
}

// EstimatedTokens is the spec §4.8 fallback estimate (len/4) used only
// when no provider usage block ever arrived on the stream.
func (a *OutputTextAccumulator) EstimatedTokens() int64 {
	return int64(a.text.Len() / 4)
}
