// Package snapshot implements C4: an atomically swapped immutable view of
// providers, credentials, users, keys, disallow rules, and global config.
// Every request-handling operation captures the current snapshot exactly
// once at the top of the request (spec §4.2). Grounded on the teacher's
// sdk/cliproxy/auth.Manager + watcher.go reload pattern (atomic replace
// triggered by a file-watch event), generalized from "auth files on disk"
// to "the whole admin-managed universe".
package snapshot

import (
	"sync/atomic"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/pool"
)

// Snapshot is one immutable, fully-inflated view of the admin-managed
// state. Pools are inflated (one pool.Pool per provider) so a reader
// never has to re-derive pool state from raw credential lists.
type Snapshot struct {
	Providers map[string]model.Provider // by id
	Disallow  map[string]model.DisallowEntry // by credential_id+scope key, informational mirror of pool state
	Config    model.GlobalConfig

	Pools map[string]*pool.Pool // provider id -> pool
	Auth  *authtable.Table
}

// ProviderByName looks a provider up by its Name (the {provider} path
// segment in §6.1 routes is the provider name, not its id).
func (s *Snapshot) ProviderByName(name string) (model.Provider, bool) {
	for _, p := range s.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return model.Provider{}, false
}

// EnabledProviders returns every enabled provider, used by aggregate
// routes (§6.1) to fan out.
func (s *Snapshot) EnabledProviders() []model.Provider {
	out := make([]model.Provider, 0, len(s.Providers))
	for _, p := range s.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Store holds the current Snapshot behind an atomic pointer (spec §4.2:
// "writers build a new value and atomically publish").
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore seeds a Store with an initial (typically empty) snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	if initial == nil {
		initial = &Snapshot{
			Providers: map[string]model.Provider{},
			Disallow:  map[string]model.DisallowEntry{},
			Pools:     map[string]*pool.Pool{},
			Auth:      authtable.New(),
		}
	}
	s.ptr.Store(initial)
	return s
}

// Current returns the live snapshot. Callers should capture this once at
// the top of a request and use that value for the whole request (spec
// §4.2), not call Current() repeatedly mid-request.
func (s *Store) Current() *Snapshot {
	return s.ptr.Load()
}

// Publish atomically swaps in a new snapshot. In-flight requests that
// already captured the previous snapshot continue to see it (spec §2:
// "in-flight requests continue against the pre-swap view").
func (s *Store) Publish(next *Snapshot) {
	s.ptr.Store(next)
}
