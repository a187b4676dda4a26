// Package engine implements C8, the retry state machine that turns one
// downstream-facing call into one or more upstream attempts: resolve
// dispatch, transform the request, acquire a credential, send, classify
// the outcome, retry or return, then shape the response back into the
// caller's protocol. Grounded on the teacher's sdk/cliproxy/service.go
// ("persist then swap the in-memory secret" credential-refresh pattern)
// and rtprovider.go's per-proxy transport cache, now internal/httpclient.
package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dfft546/gproxy/internal/events"
	"github.com/dfft546/gproxy/internal/httpclient"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/pool"
	"github.com/dfft546/gproxy/internal/provider"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage"
	"github.com/dfft546/gproxy/internal/stream"
	"github.com/dfft546/gproxy/internal/translator"
	"github.com/dfft546/gproxy/internal/translator/canonical"
)

// Engine ties the snapshot store, provider registry, HTTP client pool,
// event hub, and storage backend together into the request-handling
// core.
type Engine struct {
	Snapshots *snapshot.Store
	Registry  *provider.Registry
	HTTP      *httpclient.Pool
	Events    *events.Hub
	Store     storage.Store
}

// New constructs an Engine from its collaborators.
func New(snapshots *snapshot.Store, registry *provider.Registry, httpPool *httpclient.Pool, hub *events.Hub, store storage.Store) *Engine {
	return &Engine{Snapshots: snapshots, Registry: registry, HTTP: httpPool, Events: hub, Store: store}
}

// CallerIdentity is the authenticated downstream caller, or the zero
// value for an unauthenticated/internal call.
type CallerIdentity struct {
	UserID    string
	UserKeyID string
}

// Call is one downstream-facing request (spec §4.5's ProxyCall::Protocol
// variant).
type Call struct {
	TraceID        string
	Identity       CallerIdentity
	ProviderName   string
	CallerProtocol model.Protocol
	CallerOp       model.Operation
	Model          string
	Stream         bool
	// AltSSE is the Gemini streamGenerateContent "?alt=sse" query flag:
	// it selects SSE framing downstream instead of the NDJSON Gemini's
	// native wire format uses (spec §4.6 case 3); on the streaming path
	// an upstream text/event-stream response also keeps SSE framing.
	AltSSE        bool
	Raw           []byte
	PathExtra     string
	OutboundProxy string
}

var jsonHeaders = []provider.HeaderKV{{Key: "Content-Type", Value: "application/json"}}

// countTokensFallbackTimeout bounds the spec §4.8 CountTokens-fallback
// call; it runs on its own worker goroutine well after the response was
// already sent, so it must not hang indefinitely.
const countTokensFallbackTimeout = 10 * time.Second

// Execute runs the full dispatch-resolve / attempt-loop / response-shape
// pipeline for one Call.
func (e *Engine) Execute(ctx context.Context, call Call) (Result, error) {
	snap := e.Snapshots.Current()
	prov, ok := snap.ProviderByName(call.ProviderName)
	if !ok {
		return Result{}, ErrProviderNotFound(call.ProviderName)
	}
	if !prov.Enabled {
		return Result{}, ErrProviderDisabled(call.ProviderName)
	}
	adapter := e.Registry.For(prov.Variant)
	if adapter == nil {
		return Result{}, newErr(KindProvider, 501, "provider_unsupported", string(prov.Variant))
	}

	table := adapter.DispatchTable(prov)
	resolved := provider.Resolve(table, call.CallerProtocol, call.CallerOp, call.Stream, call.Stream)
	if resolved.Rule.Kind == provider.DispatchUnsupported {
		return Result{}, ErrUnsupportedOperation(string(call.CallerProtocol), string(call.CallerOp))
	}

	providerRaw := call.Raw
	if resolved.Rule.Kind == provider.DispatchTransform && call.CallerOp.IsGenerate() {
		converted, err := translator.ConvertRequest(call.CallerProtocol, resolved.ProviderProto, call.Raw)
		if err != nil {
			return Result{}, ErrTransform("request", err)
		}
		providerRaw = converted
	}

	modelForCooldown := ""
	if call.CallerOp.IsGenerate() {
		modelForCooldown = call.Model
	}

	req := provider.Request{
		Protocol:  resolved.ProviderProto,
		Operation: resolved.ProviderOp,
		Model:     call.Model,
		Stream:    resolved.ProviderOp == model.OpStreamGenerateContent,
		Raw:       providerRaw,
		PathExtra: call.PathExtra,
	}

	pl := snap.Pools[prov.ID]
	if pl == nil {
		return Result{}, ErrNoActiveCredentials()
	}

	// Two boolean retry budgets per credential (spec §4.5 item 5 / §8),
	// keyed by credential id: a retry that lands on the same credential
	// sees its spent budget, while a credential acquired for the first
	// time (after another was cooled down) starts with both unspent.
	authRetryUsed := map[string]bool{}
	providerRetryUsed := map[string]bool{}

	attempt := 1
	for {
		credentialID, secret, err := pl.AcquireForModel(modelForCooldown)
		if err != nil {
			return Result{}, ErrNoActiveCredentials()
		}
		cred := model.Credential{ID: credentialID, ProviderID: prov.ID, Secret: secret, Enabled: true}

		if upgraded, ok, err := adapter.UpgradeCredential(ctx, prov, cred, req); err == nil && ok {
			e.persistCredential(ctx, upgraded)
			pl.UpdateCredential(credentialID, upgraded.Secret)
			cred = upgraded
		}

		if localResp, ok := adapter.LocalResponse(ctx, prov, cred, req); ok {
			return e.shapeResponse(ctx, adapter, prov, cred, req, resolved, localResp, call, credentialID, attempt)
		}

		httpReq, err := adapter.BuildUpstream(ctx, prov, cred, req)
		if err != nil {
			return Result{}, newErr(KindProvider, 500, "invalid_config", err.Error())
		}

		resp, failure, sendErr := e.send(ctx, call.OutboundProxy, httpReq)
		e.emitAttempt(call, prov, credentialID, attempt, req.Operation, resp, failure)
		if sendErr == nil && failure == nil {
			if newCred, ok := adapter.OnUpstreamSuccess(ctx, prov, cred, req, resp); ok {
				e.persistCredential(ctx, newCred)
				pl.UpdateCredential(credentialID, newCred.Secret)
			}
			return e.shapeResponse(ctx, adapter, prov, cred, req, resolved, resp, call, credentialID, attempt)
		}

		fail := *failure

		if action := adapter.OnUpstreamFailure(ctx, prov, cred, req, fail); action.Kind != provider.RetryNone && !providerRetryUsed[credentialID] {
			providerRetryUsed[credentialID] = true
			if action.Kind == provider.RetryUpdateCredential && action.NewCredential != nil {
				e.persistCredential(ctx, *action.NewCredential)
				pl.UpdateCredential(credentialID, action.NewCredential.Secret)
			}
			attempt++
			continue
		}
		if (fail.Status == 401 || fail.Status == 403) && !authRetryUsed[credentialID] {
			if action := adapter.OnAuthFailure(ctx, prov, cred, req, fail); action.Kind != provider.RetryNone {
				authRetryUsed[credentialID] = true
				if action.Kind == provider.RetryUpdateCredential && action.NewCredential != nil {
					e.persistCredential(ctx, *action.NewCredential)
					pl.UpdateCredential(credentialID, action.NewCredential.Secret)
				}
				attempt++
				continue
			}
		}

		if !call.CallerOp.IsGenerate() {
			if decision, ok := adapter.DecideUnavailable(ctx, prov, cred, req, fail); ok {
				applyUnavailable(pl, credentialID, "", decision)
			}
			return failureResult(fail), asEngineError(fail)
		}

		if decision, ok := adapter.DecideUnavailable(ctx, prov, cred, req, fail); ok {
			applyUnavailable(pl, credentialID, modelForCooldown, decision)
		}
		if fail.Retryable() && pl.HasAvailable(modelForCooldown) {
			time.Sleep(backoff(attempt))
			attempt++
			continue
		}
		return failureResult(fail), asEngineError(fail)
	}
}

// ExecuteOAuthStart runs the provider-internal OAuthStart ProxyCall
// variant (spec §4.5 item 10): a pure function producing a redirect, no
// credential pool involvement.
func (e *Engine) ExecuteOAuthStart(ctx context.Context, call Call) (Result, error) {
	prov, adapter, err := e.resolveProvider(call.ProviderName)
	if err != nil {
		return Result{}, err
	}
	resp, startErr := adapter.OAuthStart(ctx, prov, provider.Request{
		Protocol:  call.CallerProtocol,
		Operation: model.OpOAuthStart,
		Raw:       call.Raw,
		PathExtra: call.PathExtra,
	})
	if startErr != nil {
		return Result{}, newErr(KindProvider, 500, "oauth_start_failed", startErr.Error())
	}
	return Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
}

// ExecuteOAuthCallback runs the OAuthCallback variant. The callback's
// "code" query parameter (call.PathExtra carries the raw query) is handed
// to the adapter as req.Model. The adapter's returned credential is
// persisted here through the engine's store; the in-memory credential
// pool is not updated by this call.
func (e *Engine) ExecuteOAuthCallback(ctx context.Context, call Call) (Result, *model.Credential, error) {
	prov, adapter, err := e.resolveProvider(call.ProviderName)
	if err != nil {
		return Result{}, nil, err
	}
	code := ""
	if q, qErr := url.ParseQuery(call.PathExtra); qErr == nil {
		code = q.Get("code")
	}
	resp, cred, cbErr := adapter.OAuthCallback(ctx, prov, provider.Request{
		Protocol:  call.CallerProtocol,
		Operation: model.OpOAuthCallback,
		Model:     code,
		Raw:       call.Raw,
		PathExtra: call.PathExtra,
	})
	if cbErr != nil {
		return Result{}, nil, newErr(KindProvider, 500, "oauth_callback_failed", cbErr.Error())
	}
	if cred != nil {
		e.persistCredential(ctx, *cred)
	}
	return Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, cred, nil
}

// ExecuteUsage runs the UpstreamUsage{credential_id} ProxyCall variant:
// a direct-by-id pool query, bypassing the weighted-acquire path since
// the caller already names one credential.
func (e *Engine) ExecuteUsage(ctx context.Context, call Call, credentialID string) (Result, error) {
	snap := e.Snapshots.Current()
	prov, ok := snap.ProviderByName(call.ProviderName)
	if !ok {
		return Result{}, ErrProviderNotFound(call.ProviderName)
	}
	pl := snap.Pools[prov.ID]
	if pl == nil {
		return Result{}, ErrNoActiveCredentials()
	}
	secret, ok := pl.SecretByID(credentialID)
	if !ok {
		return Result{}, newErr(KindPool, 404, "credential_not_found", credentialID)
	}
	adapter := e.Registry.For(prov.Variant)
	if adapter == nil {
		return Result{}, newErr(KindProvider, 501, "provider_unsupported", string(prov.Variant))
	}
	cred := model.Credential{ID: credentialID, ProviderID: prov.ID, Secret: secret, Enabled: true}
	req := provider.Request{Protocol: call.CallerProtocol, Operation: model.OpUpstreamUsage, PathExtra: call.PathExtra}

	if localResp, ok := adapter.LocalResponse(ctx, prov, cred, req); ok {
		return Result{Status: localResp.Status, Headers: localResp.Headers, Body: localResp.Body}, nil
	}
	httpReq, err := adapter.BuildUpstream(ctx, prov, cred, req)
	if err != nil {
		return Result{}, newErr(KindProvider, 500, "invalid_config", err.Error())
	}
	resp, failure, _ := e.send(ctx, call.OutboundProxy, httpReq)
	if failure != nil {
		return failureResult(*failure), asEngineError(*failure)
	}
	return Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
}

// resolveProvider looks up a provider by name and its registered
// adapter, the shared first step of Execute and the OAuth variants.
func (e *Engine) resolveProvider(name string) (model.Provider, provider.Adapter, error) {
	snap := e.Snapshots.Current()
	prov, ok := snap.ProviderByName(name)
	if !ok {
		return model.Provider{}, nil, ErrProviderNotFound(name)
	}
	if !prov.Enabled {
		return model.Provider{}, nil, ErrProviderDisabled(name)
	}
	adapter := e.Registry.For(prov.Variant)
	if adapter == nil {
		return model.Provider{}, nil, newErr(KindProvider, 501, "provider_unsupported", string(prov.Variant))
	}
	return prov, adapter, nil
}

func applyUnavailable(pl *pool.Pool, credentialID, modelName string, decision provider.UnavailableDecision) {
	if decision.Reason.PerModelScope() && modelName != "" {
		pl.MarkModelUnavailable(credentialID, modelName, decision.Duration, string(decision.Reason))
		return
	}
	pl.MarkUnavailable(credentialID, decision.Duration, string(decision.Reason))
}

// backoff implements spec §4.5g: base 200ms, doubled up to attempt 7,
// plus random jitter up to 200ms, capped at 2s.
func backoff(attempt int) time.Duration {
	exp := attempt
	if exp > 7 {
		exp = 7
	}
	base := 200 * time.Millisecond * time.Duration(math.Pow(2, float64(exp-1)))
	if base > 2*time.Second {
		base = 2 * time.Second
	}
	jitter := time.Duration(randUint32()%200) * time.Millisecond
	total := base + jitter
	if total > 2*time.Second {
		total = 2 * time.Second
	}
	return total
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (e *Engine) persistCredential(ctx context.Context, cred model.Credential) {
	if e.Store == nil {
		return
	}
	_ = e.Store.UpsertCredential(ctx, cred)
}

func (e *Engine) emitAttempt(call Call, prov model.Provider, credentialID string, attempt int, op model.Operation, resp provider.UpstreamHttpResponse, failure *provider.UpstreamFailure) {
	rec := model.UpstreamRecord{
		TraceID:      call.TraceID,
		Timestamp:    time.Now(),
		UserID:       call.Identity.UserID,
		UserKeyID:    call.Identity.UserKeyID,
		Provider:     prov.Name,
		CredentialID: credentialID,
		AttemptNo:    attempt,
		Operation:    op,
	}
	if failure != nil {
		rec.Status = failure.Status
		rec.RespBody = model.CapBody(failure.Body)
		rec.ErrorKind = string(failure.Kind)
		rec.ErrorMessage = failure.Message
	} else {
		rec.Status = resp.Status
		if !resp.IsStream {
			rec.RespBody = model.CapBody(resp.Body)
		}
	}
	if e.Events != nil {
		e.Events.Publish(rec)
	}
	if e.Store != nil {
		_ = e.Store.InsertUpstreamTraffic(context.Background(), rec)
	}
}

// emitUsage publishes a second, usage-bearing record correlated to an
// already-emitted attempt by TraceID/CredentialID/AttemptNo (spec §3's
// UpstreamRecord.usage, §4.7/§4.8's parallel accounting). It is marked
// Internal since it carries no new HTTP outcome, only accounting that
// became available after the attempt record was already emitted (a
// stream's usage is only known once the stream finishes).
func (e *Engine) emitUsage(call Call, prov model.Provider, credentialID string, attempt int, usage *model.UsageSummary) {
	if usage == nil {
		return
	}
	rec := model.UpstreamRecord{
		TraceID:      call.TraceID,
		Timestamp:    time.Now(),
		UserID:       call.Identity.UserID,
		UserKeyID:    call.Identity.UserKeyID,
		Provider:     prov.Name,
		CredentialID: credentialID,
		Internal:     true,
		AttemptNo:    attempt,
		Operation:    call.CallerOp,
		Status:       200,
		Usage:        usage,
	}
	if e.Events != nil {
		e.Events.Publish(rec)
	}
	if e.Store != nil {
		_ = e.Store.InsertUpstreamTraffic(context.Background(), rec)
	}
}

// finishUsage emits the native usage once known (ok == true), or falls
// back to the spec §4.8 CountTokens accounting (run on its own worker
// goroutine so it never blocks a response already on its way to the
// caller) when the upstream never reported one.
func (e *Engine) finishUsage(call Call, prov model.Provider, cred model.Credential, adapter provider.Adapter, providerProto model.Protocol, credentialID string, attempt int, providerRaw []byte, outputText string, estimatedTokens int64, usage canonical.Usage, ok bool) {
	if ok {
		e.emitUsage(call, prov, credentialID, attempt, summarizeUsage(providerProto, usage))
		return
	}
	go e.fallbackUsage(call, prov, cred, adapter, providerProto, credentialID, attempt, providerRaw, outputText, estimatedTokens)
}

// fallbackUsage is the §4.8 worker: it counts tokens over the original
// request plus the accumulated output text via the provider's own
// CountTokens operation, falling back further to the len/4 estimate if
// that call itself fails. Any failure here is swallowed: the attempt is
// logged with no usage rather than retried or surfaced to the caller.
func (e *Engine) fallbackUsage(call Call, prov model.Provider, cred model.Credential, adapter provider.Adapter, providerProto model.Protocol, credentialID string, attempt int, providerRaw []byte, outputText string, estimatedTokens int64) {
	ctx, cancel := context.WithTimeout(context.Background(), countTokensFallbackTimeout)
	defer cancel()
	summary := e.countTokensFallback(ctx, prov, cred, adapter, providerProto, call.OutboundProxy, providerRaw, outputText)
	if summary == nil && estimatedTokens > 0 {
		summary = totalUsageSummary(providerProto, estimatedTokens)
	}
	if summary != nil {
		e.emitUsage(call, prov, credentialID, attempt, summary)
	}
}

// countTokensFallback builds a CountTokens request out of the original
// generate request with the accumulated output text appended as a
// trailing assistant turn, so the count approximates total tokens
// (input and output) rather than just the prompt.
func (e *Engine) countTokensFallback(ctx context.Context, prov model.Provider, cred model.Credential, adapter provider.Adapter, providerProto model.Protocol, outboundProxy string, providerRaw []byte, outputText string) *model.UsageSummary {
	canonReq, err := translator.DecodeCanonicalRequest(providerProto, providerRaw)
	if err != nil {
		return nil
	}
	if outputText != "" {
		canonReq.Messages = append(canonReq.Messages, canonical.Message{
			Role:    canonical.RoleAssistant,
			Content: []canonical.Block{{Type: canonical.BlockText, Text: outputText}},
		})
	}
	encoded, err := translator.EncodeCanonicalRequest(providerProto, canonReq)
	if err != nil {
		return nil
	}
	ctReq := provider.Request{Protocol: providerProto, Operation: model.OpCountTokens, Model: canonReq.Model, Raw: encoded}
	httpReq, err := adapter.BuildUpstream(ctx, prov, cred, ctReq)
	if err != nil {
		return nil
	}
	resp, failure, sendErr := e.send(ctx, outboundProxy, httpReq)
	if sendErr != nil || failure != nil {
		return nil
	}
	count := translator.ParseCountTokensCount(providerProto, resp.Body)
	if count <= 0 {
		return nil
	}
	return totalUsageSummary(providerProto, count)
}

// summarizeUsage maps canonical usage into the provider-native
// UsageSummary shape (§3's one-field-set-per-provider union), returning
// nil when the upstream reported nothing.
func summarizeUsage(proto model.Protocol, u canonical.Usage) *model.UsageSummary {
	if u == (canonical.Usage{}) {
		return nil
	}
	switch proto {
	case model.ProtocolClaude:
		return &model.UsageSummary{
			ClaudeInputTokens:         u.InputTokens,
			ClaudeOutputTokens:        u.OutputTokens,
			ClaudeCacheCreationTokens: u.CacheCreationTokens,
			ClaudeCacheReadTokens:     u.CacheReadTokens,
		}
	case model.ProtocolGemini:
		return &model.UsageSummary{
			GeminiPromptTokens:     u.InputTokens,
			GeminiCandidatesTokens: u.OutputTokens,
			GeminiTotalTokens:      u.InputTokens + u.OutputTokens,
			GeminiCachedTokens:     u.CachedTokens,
		}
	case model.ProtocolOpenAIChat:
		return &model.UsageSummary{
			OpenAIChatPromptTokens:     u.InputTokens,
			OpenAIChatCompletionTokens: u.OutputTokens,
			OpenAIChatTotalTokens:      u.InputTokens + u.OutputTokens,
		}
	case model.ProtocolOpenAIResponse:
		return &model.UsageSummary{
			OpenAIRespInputTokens:     u.InputTokens,
			OpenAIRespOutputTokens:    u.OutputTokens,
			OpenAIRespTotalTokens:     u.InputTokens + u.OutputTokens,
			OpenAIRespCachedTokens:    u.CachedTokens,
			OpenAIRespReasoningTokens: u.ReasoningTokens,
		}
	default:
		return nil
	}
}

// totalUsageSummary records one approximate token count (the §4.8
// CountTokens-fallback result, or its own len/4 estimate) in the
// provider's UsageSummary shape. An approximation has no native
// input/output split, so it is recorded against the provider's
// total/output-ish field rather than invented input/output halves.
func totalUsageSummary(proto model.Protocol, count int64) *model.UsageSummary {
	switch proto {
	case model.ProtocolClaude:
		return &model.UsageSummary{ClaudeOutputTokens: count}
	case model.ProtocolGemini:
		return &model.UsageSummary{GeminiTotalTokens: count}
	case model.ProtocolOpenAIChat:
		return &model.UsageSummary{OpenAIChatTotalTokens: count}
	case model.ProtocolOpenAIResponse:
		return &model.UsageSummary{OpenAIRespTotalTokens: count}
	default:
		return nil
	}
}

// estimatedTokensFor runs the spec §4.8 len/4 fallback estimate over a
// synchronously-available response's output text, via the same
// OutputTextAccumulator the streaming paths use.
func estimatedTokensFor(text string) int64 {
	var acc stream.OutputTextAccumulator
	acc.Add(text)
	return acc.EstimatedTokens()
}

// outputText concatenates a canonical response's text-bearing blocks,
// the basis for the §4.8 fallback token estimate and CountTokens call.
func outputText(r canonical.Response) string {
	var b strings.Builder
	for _, blk := range r.Content {
		if blk.Type == canonical.BlockText || blk.Type == canonical.BlockThinking {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// upstreamIsEventStream reports whether an upstream response's
// Content-Type was text/event-stream, one of the two conditions (spec
// §4.6 case 3) that keep Gemini's downstream framing as SSE instead of
// falling back to NDJSON.
func upstreamIsEventStream(headers []provider.HeaderKV) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Key, "Content-Type") && strings.Contains(strings.ToLower(h.Value), "text/event-stream") {
			return true
		}
	}
	return false
}

// send performs the network call. A non-2xx response is re-materialized
// as an UpstreamFailure::Http per spec §4.5e (its body is always fully
// buffered, since it never reaches a caller as a stream). A 2xx response
// to a streaming request is handed back as a channel of raw chunks read
// off the wire incrementally rather than buffered, so downstream framing
// (and the router's keep-alive ticker) can start forwarding immediately.
func (e *Engine) send(ctx context.Context, outboundProxy string, httpReq provider.UpstreamHttpRequest) (provider.UpstreamHttpResponse, *provider.UpstreamFailure, error) {
	client := e.HTTP.For(outboundProxy)
	var bodyReader io.Reader
	if len(httpReq.Body) > 0 {
		bodyReader = bytes.NewReader(httpReq.Body)
	}
	httpReqObj, err := http.NewRequestWithContext(ctx, httpReq.Method, httpReq.URL, bodyReader)
	if err != nil {
		f := &provider.UpstreamFailure{Kind: provider.TransportOther, Message: err.Error()}
		return provider.UpstreamHttpResponse{}, f, err
	}
	for _, h := range httpReq.Headers {
		httpReqObj.Header.Add(h.Key, h.Value)
	}
	resp, err := client.Do(httpReqObj)
	if err != nil {
		f := classifyTransportError(err)
		return provider.UpstreamHttpResponse{}, &f, err
	}
	headers := make([]provider.HeaderKV, 0, len(resp.Header))
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers = append(headers, provider.HeaderKV{Key: k, Value: v})
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return provider.UpstreamHttpResponse{}, &provider.UpstreamFailure{Status: resp.StatusCode, Headers: headers, Body: body}, nil
	}
	if !httpReq.IsStream {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return provider.UpstreamHttpResponse{Status: resp.StatusCode, Headers: headers, Body: body}, nil, nil
	}

	chunks := make(chan []byte, 16)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		buf := make([]byte, 8192)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	return provider.UpstreamHttpResponse{Status: resp.StatusCode, Headers: headers, IsStream: true, StreamChunks: chunks}, nil, nil
}

func classifyTransportError(err error) provider.UpstreamFailure {
	msg := err.Error()
	kind := provider.TransportOther
	switch {
	case isTimeout(err):
		kind = provider.TransportTimeout
	case containsAny(msg, "connection refused", "no such host"):
		kind = provider.TransportConnect
	case containsAny(msg, "certificate", "x509"):
		kind = provider.TransportTLS
	}
	return provider.UpstreamFailure{Kind: kind, Message: msg}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func failureResult(f provider.UpstreamFailure) Result {
	return Result{Status: f.Status, Headers: f.Headers, Body: f.Body}
}

func asEngineError(f provider.UpstreamFailure) error {
	if f.IsTransport() {
		return newErr(KindUpstream, 502, "upstream_transport_error", f.Message)
	}
	return newErr(KindUpstreamHTTP, f.Status, "upstream_http_error", string(f.Body))
}

// shapeResponse implements spec §4.6's five-case response-shaping
// matrix, dispatching on whether the caller wanted a stream, whether the
// provider actually produced one, and whether caller and provider
// protocols differ. It also owns emitting the usage-bearing record once
// usage is known for that case (spec §4.7/§4.8), since that moment
// differs per case: immediately for a buffered response, only once a
// stream finishes for the streaming cases.
func (e *Engine) shapeResponse(ctx context.Context, adapter provider.Adapter, prov model.Provider, cred model.Credential, req provider.Request, resolved provider.Resolved, resp provider.UpstreamHttpResponse, call Call, credentialID string, attempt int) (Result, error) {
	sameProtocol := resolved.ProviderProto == call.CallerProtocol

	if !resp.IsStream && !call.Stream {
		body := resp.Body
		if req.Operation.IsGenerate() {
			body = adapter.NormalizeNonStreamResponse(ctx, prov, cred, resolved.ProviderProto, req.Operation, req, body)
			if canonResp, err := translator.DecodeCanonicalResponse(resolved.ProviderProto, body); err == nil {
				text := outputText(canonResp)
				e.finishUsage(call, prov, cred, adapter, resolved.ProviderProto, credentialID, attempt, req.Raw, text, estimatedTokensFor(text), canonResp.Usage, canonResp.Usage != canonical.Usage{})
			}
			if !sameProtocol {
				converted, err := translator.ConvertResponse(resolved.ProviderProto, call.CallerProtocol, body)
				if err != nil {
					return Result{}, ErrTransform("response", err)
				}
				body = converted
			}
		} else if !sameProtocol {
			converted, err := shapeBasicOp(req.Operation, resolved.ProviderProto, call.CallerProtocol, body)
			if err != nil {
				return Result{}, ErrTransform("response", err)
			}
			body = converted
		}
		return Result{Status: 200, Headers: jsonHeaders, Body: body}, nil
	}

	if resp.IsStream && call.Stream {
		sseFraming := call.CallerProtocol != model.ProtocolGemini || call.AltSSE || upstreamIsEventStream(resp.Headers)
		if sameProtocol && resolved.ProviderProto != model.ProtocolGemini {
			return e.passthroughStream(resp, resolved.ProviderProto, call, prov, cred, adapter, req, credentialID, attempt), nil
		}
		return e.transformStream(resp, resolved.ProviderProto, call.CallerProtocol, call.Model, sseFraming, call, prov, cred, adapter, req, credentialID, attempt), nil
	}

	if resp.IsStream && !call.Stream {
		canonResp, err := accumulateStream(resp, resolved.ProviderProto)
		if err != nil {
			return Result{}, ErrTransform("response", err)
		}
		text := outputText(canonResp)
		e.finishUsage(call, prov, cred, adapter, resolved.ProviderProto, credentialID, attempt, req.Raw, text, estimatedTokensFor(text), canonResp.Usage, canonResp.Usage != canonical.Usage{})
		body, err := translator.EncodeCanonicalResponse(call.CallerProtocol, canonResp)
		if err != nil {
			return Result{}, ErrTransform("response", err)
		}
		return Result{Status: 200, Headers: jsonHeaders, Body: body}, nil
	}

	// !resp.IsStream && call.Stream: provider answered in one shot but the
	// caller wants a stream; synthesize one from the full response.
	body := resp.Body
	if req.Operation.IsGenerate() {
		body = adapter.NormalizeNonStreamResponse(ctx, prov, cred, resolved.ProviderProto, req.Operation, req, body)
	}
	canonResp, err := translator.DecodeCanonicalResponse(resolved.ProviderProto, body)
	if err != nil {
		return Result{}, ErrTransform("response", err)
	}
	text := outputText(canonResp)
	e.finishUsage(call, prov, cred, adapter, resolved.ProviderProto, credentialID, attempt, req.Raw, text, estimatedTokensFor(text), canonResp.Usage, canonResp.Usage != canonical.Usage{})
	sseFraming := call.CallerProtocol != model.ProtocolGemini || call.AltSSE
	encodeFn, err := stream.NewEncodeFn(call.CallerProtocol, call.Model, sseFraming)
	if err != nil {
		return Result{}, ErrTransform("response", err)
	}
	chunks := make(chan []byte, 32)
	go func() {
		defer close(chunks)
		for _, ev := range stream.Synthesize(canonResp) {
			for _, frame := range encodeFn(ev) {
				chunks <- []byte(frame)
			}
		}
	}()
	return Result{IsStream: true, StreamNDJSON: !sseFraming, StreamChunks: chunks}, nil
}

// shapeBasicOp converts a non-generate response body between protocols.
func shapeBasicOp(op model.Operation, src, dst model.Protocol, body []byte) ([]byte, error) {
	switch op {
	case model.OpModelList, model.OpModelGet:
		return translator.ConvertModelList(src, dst, body)
	case model.OpCountTokens:
		return translator.ConvertCountTokensResponse(src, dst, body)
	default:
		return body, nil
	}
}

// passthroughStream forwards raw upstream chunks unchanged (spec §4.6
// case 2), while decoding a side copy to accumulate usage and output
// text for logging; decode errors never interrupt forwarding. Once the
// upstream closes, finishUsage emits the native usage or runs the §4.8
// fallback.
func (e *Engine) passthroughStream(resp provider.UpstreamHttpResponse, providerProto model.Protocol, call Call, prov model.Provider, cred model.Credential, adapter provider.Adapter, req provider.Request, credentialID string, attempt int) Result {
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		decodeFn, decodeErr := stream.NewDecodeFn(providerProto)
		var sse stream.SSEDecoder
		var usageAcc stream.UsageAccumulator
		var textAcc stream.OutputTextAccumulator
		for chunk := range resp.StreamChunks {
			out <- chunk
			if decodeErr == nil {
				for _, ev := range sse.Feed(chunk) {
					for _, canon := range decodeFn(ev) {
						stream.Observe(canon, &usageAcc, &textAcc)
					}
				}
			}
		}
		u, ok := usageAcc.Usage()
		e.finishUsage(call, prov, cred, adapter, providerProto, credentialID, attempt, req.Raw, textAcc.String(), textAcc.EstimatedTokens(), u, ok)
	}()
	return Result{IsStream: true, StreamChunks: out}
}

// transformStream decodes the provider's stream into canonical events and
// re-encodes them for another (spec §4.6 case 3), accumulating usage and
// output text along the way via the Pipeline. sseFraming only affects a
// Gemini destination: false renders NDJSON instead of SSE.
func (e *Engine) transformStream(resp provider.UpstreamHttpResponse, providerProto, callerProto model.Protocol, requestModel string, sseFraming bool, call Call, prov model.Provider, cred model.Credential, adapter provider.Adapter, req provider.Request, credentialID string, attempt int) Result {
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		pipeline, err := stream.NewPipeline(providerProto, callerProto, requestModel, sseFraming)
		if err != nil {
			return
		}
		for chunk := range resp.StreamChunks {
			for _, frame := range pipeline.Feed(chunk) {
				out <- []byte(frame)
			}
		}
		u, ok := pipeline.Usage()
		e.finishUsage(call, prov, cred, adapter, providerProto, credentialID, attempt, req.Raw, pipeline.OutputText(), pipeline.FallbackTokens(), u, ok)
	}()
	return Result{IsStream: true, StreamNDJSON: !sseFraming, StreamChunks: out}
}

// accumulateStream fully drains a provider stream into one canonical
// response (spec §4.6 case 4). EOF-tolerant: whatever was accumulated
// when the channel closes is returned even if message_stop never arrived.
func accumulateStream(resp provider.UpstreamHttpResponse, providerProto model.Protocol) (canonical.Response, error) {
	decodeFn, err := stream.NewDecodeFn(providerProto)
	if err != nil {
		return canonical.Response{}, err
	}
	var sse stream.SSEDecoder
	acc := stream.NewResponseAccumulator()
	for chunk := range resp.StreamChunks {
		for _, ev := range sse.Feed(chunk) {
			for _, canon := range decodeFn(ev) {
				acc.Feed(canon)
			}
		}
	}
	return acc.Response(), nil
}
