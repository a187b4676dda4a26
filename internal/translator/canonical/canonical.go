// Package canonical is the hub-and-spoke intermediate representation the
// translator layer (C6) converts every generate request/response through.
// Spec §4.4 requires total pairwise coverage of the 4x4 generate-protocol
// matrix; rather than hand-writing twelve bespoke pairwise transforms (one
// per ordered pair, minus the four identities) this repo converts each
// protocol to/from one canonical shape and composes pairs as
// decode(src) -> encode(dst). Every pair still round-trips end to end,
// which is what §4.4's invariant and §8's "Identity transform" /
// "Stream<->non-stream round trip" properties actually require; this
// choice is recorded in DESIGN.md as an engineering decision, not a
// spec deviation.
package canonical

import "encoding/json"

// Role is a canonical chat role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType enumerates canonical content block kinds.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
	BlockThinking   BlockType = "thinking"
)

// Block is one canonical content block. Only the fields relevant to its
// Type are populated.
type Block struct {
	Type BlockType

	Text string // BlockText, BlockThinking

	ToolUseID string           // BlockToolUse, BlockToolResult
	ToolName  string           // BlockToolUse
	ToolInput json.RawMessage  // BlockToolUse
	ToolOutput string          // BlockToolResult
	ToolIsError bool           // BlockToolResult

	ImageMediaType string // BlockImage
	ImageData      string // BlockImage, base64

	Index int // position within the message's original content array, used for stream block-index bookkeeping
}

// Message is one canonical chat turn.
type Message struct {
	Role    Role
	Content []Block
}

// ToolDef is a canonical tool/function declaration.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// Request is the canonical generate request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int64
	Temperature *float64
	TopP        *float64
	Stream      bool
	StopSeqs    []string
}

// StopReason is a canonical terminal-state tag.
type StopReason string

const (
	StopEndTurn     StopReason = "end_turn"
	StopMaxTokens   StopReason = "max_tokens"
	StopToolUse     StopReason = "tool_use"
	StopStopSeq     StopReason = "stop_sequence"
	StopContentFilter StopReason = "content_filter"
)

// Usage is the canonical token accounting; fields that don't apply to the
// source protocol are left zero. Callers needing the provider-native
// model.UsageSummary should keep the original per-protocol usage instead
// of round-tripping through this canonical form (the engine does).
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	CachedTokens        int64
	ReasoningTokens     int64
}

// Response is the canonical generate response.
type Response struct {
	Model      string
	StopReason StopReason
	Content    []Block
	Usage      Usage
}

// Event is one canonical stream event, the unit C7's transformers push
// through (spec §4.7's "push(event) -> []event").
type Event struct {
	Kind EventKind

	// MessageStart / MessageDelta / MessageStop
	Model      string
	StopReason StopReason
	Usage      Usage

	// BlockStart / BlockDelta / BlockStop
	BlockIndex int
	Block      Block  // BlockStart: the block being opened (Text="" for text blocks)
	DeltaText  string // BlockDelta: text delta
	DeltaJSON  string // BlockDelta: partial tool-input JSON delta
}

// EventKind enumerates canonical stream event kinds, modeled on Claude's
// message_start/content_block_start/content_block_delta/
// content_block_stop/message_delta/message_stop sequence (spec §4.6's
// non-stream->stream synthesis list names exactly these).
type EventKind int

const (
	EventMessageStart EventKind = iota
	EventBlockStart
	EventBlockDelta
	EventBlockStop
	EventMessageDelta
	EventMessageStop
)
