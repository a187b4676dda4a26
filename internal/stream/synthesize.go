package stream

import "github.com/dfft546/gproxy/internal/translator/canonical"

// ResponseAccumulator folds a sequence of canonical events into a single
// canonical.Response, the stream->non-stream half of spec §4.6's
// response shaping. Finalization on EOF is permitted: Response() returns
// whatever was accumulated so far even if message_stop never arrived.
type ResponseAccumulator struct {
	model      string
	stopReason canonical.StopReason
	blocks     map[int]*canonical.Block
	order      []int
	usage      canonical.Usage
}

// NewResponseAccumulator constructs an empty accumulator.
func NewResponseAccumulator() *ResponseAccumulator {
	return &ResponseAccumulator{blocks: map[int]*canonical.Block{}}
}

// Feed folds one canonical event into the accumulator.
func (a *ResponseAccumulator) Feed(ev canonical.Event) {
	switch ev.Kind {
	case canonical.EventMessageStart:
		a.model = ev.Model
	case canonical.EventBlockStart:
		b := ev.Block
		a.blocks[ev.BlockIndex] = &b
		a.order = append(a.order, ev.BlockIndex)
	case canonical.EventBlockDelta:
		b, ok := a.blocks[ev.BlockIndex]
		if !ok {
			b = &canonical.Block{Index: ev.BlockIndex}
			a.blocks[ev.BlockIndex] = b
			a.order = append(a.order, ev.BlockIndex)
		}
		if ev.DeltaJSON != "" {
			b.Type = canonical.BlockToolUse
			b.ToolInput = append(b.ToolInput, []byte(ev.DeltaJSON)...)
		} else {
			if b.Type == "" {
				b.Type = canonical.BlockText
			}
			b.Text += ev.DeltaText
		}
	case canonical.EventBlockStop:
		// no-op: the block's final content is already accumulated
	case canonical.EventMessageDelta:
		a.stopReason = ev.StopReason
		a.usage = mergeUsage(a.usage, ev.Usage)
	case canonical.EventMessageStop:
		a.usage = mergeUsage(a.usage, ev.Usage)
	}
}

func mergeUsage(cur, next canonical.Usage) canonical.Usage {
	if next == (canonical.Usage{}) {
		return cur
	}
	return next
}

// Response returns the accumulated canonical.Response.
func (a *ResponseAccumulator) Response() canonical.Response {
	resp := canonical.Response{Model: a.model, StopReason: a.stopReason, Usage: a.usage}
	for _, idx := range a.order {
		resp.Content = append(resp.Content, *a.blocks[idx])
	}
	return resp
}

// Synthesize turns a complete canonical.Response into the event sequence
// that would have produced it as a stream (spec §4.6's non-stream->stream
// case): message_start; per block, block_start+delta+block_stop;
// message_delta; message_stop.
func Synthesize(resp canonical.Response) []canonical.Event {
	events := []canonical.Event{{Kind: canonical.EventMessageStart, Model: resp.Model, Usage: canonical.Usage{InputTokens: resp.Usage.InputTokens}}}
	for i, b := range resp.Content {
		events = append(events, canonical.Event{Kind: canonical.EventBlockStart, BlockIndex: i, Block: canonical.Block{Type: b.Type, Index: i, ToolUseID: b.ToolUseID, ToolName: b.ToolName}})
		switch b.Type {
		case canonical.BlockToolUse:
			events = append(events, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: i, DeltaJSON: string(b.ToolInput)})
		default:
			events = append(events, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: i, DeltaText: b.Text})
		}
		events = append(events, canonical.Event{Kind: canonical.EventBlockStop, BlockIndex: i})
	}
	events = append(events, canonical.Event{Kind: canonical.EventMessageDelta, StopReason: resp.StopReason, Usage: resp.Usage})
	events = append(events, canonical.Event{Kind: canonical.EventMessageStop, Usage: resp.Usage})
	return events
}
