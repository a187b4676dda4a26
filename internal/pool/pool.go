// Package pool implements the per-provider credential pool (C2, spec
// §4.1): weighted-random acquisition over enabled-and-available
// credentials, with two unavailability scopes (whole-credential and
// per-model) and lazy wall-clock expiry.
//
// Grounded on sdk/cliproxy/auth/types.go (Auth, QuotaState, ModelState,
// Clone) for the state shape and sdk/cliproxy/auth/selector.go
// (RoundRobinSelector.Pick) for the "filter unavailable, then pick one"
// skeleton — the selection strategy itself is replaced with weighted
// random per §4.1, and the idempotent-merge rule for repeated
// mark_unavailable reasons is added since the teacher selector has no
// equivalent of that invariant.
package pool

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/dfft546/gproxy/internal/model"
)

// ErrNoActiveCredentials is returned when acquire finds no eligible
// credential for a provider (spec §4.1, surfaced by the engine as 503
// no_active_credentials per §7).
var ErrNoActiveCredentials = errors.New("pool: no active credentials")

// entry is the mutable per-credential pool state.
type entry struct {
	cred    model.Credential
	enabled bool

	wholeUntil  time.Time // zero = available
	wholeReason string

	// modelUntil[model] / modelReason[model] mirror the whole-credential
	// fields but scoped to one model name.
	modelUntil  map[string]time.Time
	modelReason map[string]string
}

func (e *entry) wholeAvailable(now time.Time) bool {
	return e.enabled && (e.wholeUntil.IsZero() || !now.Before(e.wholeUntil))
}

func (e *entry) modelAvailable(now time.Time, modelName string) bool {
	if !e.wholeAvailable(now) {
		return false
	}
	if modelName == "" || e.modelUntil == nil {
		return true
	}
	until, ok := e.modelUntil[modelName]
	if !ok {
		return true
	}
	return !now.Before(until)
}

// Pool holds credential state for one provider.
type Pool struct {
	mu      sync.Mutex
	byID    map[string]*entry
	order   []string // stable iteration order, set on Reset
	randSrc *rand.Rand
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		byID:    make(map[string]*entry),
		randSrc: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset replaces the credential set wholesale (used by snapshot reload).
// Unavailability state for credentials that still exist is preserved;
// credentials no longer present are dropped.
func (p *Pool) Reset(creds []model.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string]*entry, len(creds))
	order := make([]string, 0, len(creds))
	for _, c := range creds {
		e, existed := p.byID[c.ID]
		if !existed {
			e = &entry{}
		}
		e.cred = c
		e.enabled = c.Enabled
		next[c.ID] = e
		order = append(order, c.ID)
	}
	p.byID = next
	p.order = order
}

// Acquire returns an available credential's id and secret, chosen by
// weighted random over whole-credential-available and enabled
// credentials. Weight 0 credentials are included only if every available
// candidate has weight 0 (last-resort tiebreak, §4.1).
func (p *Pool) Acquire() (string, model.Secret, error) {
	return p.AcquireForModel("")
}

// AcquireForModel additionally excludes credentials whose (id, model)
// scope is unavailable. Pass an empty modelName to behave like Acquire.
func (p *Pool) AcquireForModel(modelName string) (string, model.Secret, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()

	var candidates []*entry
	for _, id := range p.order {
		e := p.byID[id]
		if e == nil {
			continue
		}
		if modelName == "" {
			if e.wholeAvailable(now) {
				candidates = append(candidates, e)
			}
		} else if e.modelAvailable(now, modelName) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", model.Secret{}, ErrNoActiveCredentials
	}

	chosen := weightedPick(p.randSrc, candidates)
	return chosen.cred.ID, chosen.cred.Secret, nil
}

// HasAvailable reports whether at least one credential is eligible for
// the given model scope (empty modelName checks whole-credential
// availability only), without drawing one. Used by the engine to decide
// whether a retryable failure still has somewhere to go (spec §4.5g).
func (p *Pool) HasAvailable(modelName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, id := range p.order {
		e := p.byID[id]
		if e == nil {
			continue
		}
		if modelName == "" {
			if e.wholeAvailable(now) {
				return true
			}
		} else if e.modelAvailable(now, modelName) {
			return true
		}
	}
	return false
}

// SecretByID looks up one credential's secret directly, bypassing the
// weighted-acquire path. Used by the engine's UpstreamUsage call, which
// already names a specific credential rather than asking the pool to
// pick one (spec §4.5 item: "UpstreamUsage{credential_id}").
func (p *Pool) SecretByID(credentialID string) (model.Secret, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[credentialID]
	if !ok {
		return model.Secret{}, false
	}
	return e.cred.Secret, true
}

// weightedPick runs a weighted-random draw over candidates. If every
// candidate has weight <= 0 it falls back to a uniform draw (the "weight
// 0 is eligible only as a last-resort tiebreak" rule — when *all*
// eligible credentials are weight 0, they are the only resort, so the
// pick degrades to uniform among them).
func weightedPick(r *rand.Rand, candidates []*entry) *entry {
	total := 0
	for _, c := range candidates {
		if c.cred.Weight > 0 {
			total += c.cred.Weight
		}
	}
	if total == 0 {
		return candidates[r.Intn(len(candidates))]
	}
	target := r.Intn(total)
	for _, c := range candidates {
		w := c.cred.Weight
		if w <= 0 {
			continue
		}
		if target < w {
			return c
		}
		target -= w
	}
	return candidates[len(candidates)-1]
}

// MarkUnavailable marks a credential wholly unavailable. duration==0
// means "no explicit expiry" (treated as a very long cooldown — callers
// wanting a permanent Dead-level disallow should instead call SetEnabled
// via the admin surface). Idempotent: if the same reason is already
// recorded, the longer of the existing and new deadlines wins; otherwise
// the new entry replaces the old one (spec §4.1).
func (p *Pool) MarkUnavailable(credentialID string, duration time.Duration, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.byID[credentialID]
	if e == nil {
		return
	}
	until := deadlineFor(duration)
	if e.wholeReason == reason && e.wholeUntil.After(until) {
		return // existing deadline already longer
	}
	e.wholeUntil = until
	e.wholeReason = reason
}

// MarkModelUnavailable is MarkUnavailable scoped to one model.
func (p *Pool) MarkModelUnavailable(credentialID, modelName string, duration time.Duration, reason string) {
	if modelName == "" {
		p.MarkUnavailable(credentialID, duration, reason)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.byID[credentialID]
	if e == nil {
		return
	}
	if e.modelUntil == nil {
		e.modelUntil = make(map[string]time.Time)
		e.modelReason = make(map[string]string)
	}
	until := deadlineFor(duration)
	if e.modelReason[modelName] == reason && e.modelUntil[modelName].After(until) {
		return
	}
	e.modelUntil[modelName] = until
	e.modelReason[modelName] = reason
}

// deadlineFor converts a retry-after duration into an absolute deadline.
// duration <= 0 is treated as "effectively indefinite" (100 years out) so
// that a Dead-level mark_unavailable with no explicit "until" behaves as
// the spec's Dead level (§3: "until explicit clear").
func deadlineFor(duration time.Duration) time.Time {
	if duration <= 0 {
		return time.Now().Add(100 * 365 * 24 * time.Hour)
	}
	return time.Now().Add(duration)
}

// UpdateCredential swaps a credential's secret bytes in place, never
// touching enabled/weight (spec §4.1).
func (p *Pool) UpdateCredential(credentialID string, secret model.Secret) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.byID[credentialID]; e != nil {
		e.cred.Secret = secret
	}
}

// SetEnabled flips a credential's enabled flag. Disabling removes it from
// future acquisitions immediately; in-flight holders are unaffected
// (spec §4.1) because Acquire already returned a copy of the secret.
func (p *Pool) SetEnabled(credentialID string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.byID[credentialID]; e != nil {
		e.enabled = enabled
	}
}

// Clear removes a credential entirely (deletion is equivalent to disable
// then delete, spec §8 pool monotonicity).
func (p *Pool) Clear(credentialID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, credentialID)
	for i, id := range p.order {
		if id == credentialID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
