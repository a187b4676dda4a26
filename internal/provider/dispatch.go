package provider

import "github.com/dfft546/gproxy/internal/model"

// basicProtocols are the three protocols spec §4.4 requires basic-op
// transforms between (ModelList/ModelGet/CountTokens).
var basicProtocols = []model.Protocol{model.ProtocolClaude, model.ProtocolOpenAI, model.ProtocolGemini}

// generateProtocols are the four protocols spec §4.4 requires total
// generate-op coverage between.
var generateProtocols = []model.Protocol{model.ProtocolClaude, model.ProtocolOpenAIChat, model.ProtocolOpenAIResponse, model.ProtocolGemini}

// nativeDispatchTable builds a standard dispatch table for a provider
// whose native basic-op protocol is `nativeBasic` and native generate
// protocol is `nativeGenerate`: Native on that protocol, Transform to it
// on every other protocol in the relevant matrix (the basic-op matrix
// for `nativeBasic`, the generate-op matrix for `nativeGenerate`).
//
// This is shared by every adapter below rather than hand-writing eight
// near-identical tables, matching the spec's framing of dispatch rules as
// data (§3 "Dispatch rule") rather than per-provider branching logic.
func nativeDispatchTable(nativeBasic, nativeGenerate model.Protocol) DispatchTable {
	t := make(DispatchTable)
	for _, p := range basicProtocols {
		for _, op := range []model.Operation{model.OpModelList, model.OpModelGet, model.OpCountTokens} {
			if p == nativeBasic {
				t[DispatchKey{p, op}] = DispatchRule{Kind: DispatchNative}
			} else {
				t[DispatchKey{p, op}] = DispatchRule{Kind: DispatchTransform, Target: nativeBasic}
			}
		}
	}
	// OpenAI's basic-ops alias also dispatches CountTokens for
	// OpenAI-Responses callers per §6.1 ("POST .../v1/responses/input_tokens").
	t[DispatchKey{model.ProtocolOpenAIResponse, model.OpCountTokens}] = t[DispatchKey{model.ProtocolOpenAI, model.OpCountTokens}]

	for _, p := range generateProtocols {
		for _, op := range []model.Operation{model.OpGenerateContent, model.OpStreamGenerateContent} {
			if p == nativeGenerate {
				t[DispatchKey{p, op}] = DispatchRule{Kind: DispatchNative}
			} else {
				t[DispatchKey{p, op}] = DispatchRule{Kind: DispatchTransform, Target: nativeGenerate}
			}
		}
	}
	return t
}

// addResponsesStateOps additionally wires the OpenAI-Responses
// native operations (ResponseGet/Delete/Cancel/ListInputItems/Compact)
// which only OpenAI-shaped providers (OpenAI, Codex) support natively;
// every other caller protocol gets Unsupported for them, since the spec
// has no defined transform for Responses-state operations into another
// protocol's shape (§4.5's OpenAIResponsesPassthrough bypasses transform
// entirely instead).
func addResponsesStateOps(t DispatchTable, native model.Protocol) DispatchTable {
	for _, op := range []model.Operation{model.OpResponseGet, model.OpResponseDelete, model.OpResponseCancel, model.OpResponseListInputItems, model.OpResponseCompact} {
		t[DispatchKey{model.ProtocolOpenAIResponse, op}] = DispatchRule{Kind: DispatchNative}
		for _, other := range generateProtocols {
			if other == model.ProtocolOpenAIResponse {
				continue
			}
			if _, ok := t[DispatchKey{other, op}]; !ok {
				t[DispatchKey{other, op}] = DispatchRule{Kind: DispatchUnsupported}
			}
		}
	}
	_ = native
	return t
}
