package snapshot

import (
	"testing"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/pool"
)

func TestNewStoreDefaultsToEmptySnapshot(t *testing.T) {
	s := NewStore(nil)
	snap := s.Current()
	if snap == nil {
		t.Fatal("Current() = nil, want a seeded empty snapshot")
	}
	if len(snap.Providers) != 0 || len(snap.Disallow) != 0 || len(snap.Pools) != 0 {
		t.Fatalf("NewStore(nil) = %+v, want every map empty", snap)
	}
	if snap.Auth == nil {
		t.Fatal("NewStore(nil).Auth = nil, want an initialized table")
	}
	if _, err := snap.Auth.Authenticate("anything"); err == nil {
		t.Fatal("empty Auth table authenticated an unknown key")
	}
}

func TestProviderByName(t *testing.T) {
	snap := &Snapshot{Providers: map[string]model.Provider{
		"id-1": {ID: "id-1", Name: "anthropic", Enabled: true},
		"id-2": {ID: "id-2", Name: "openai", Enabled: false},
	}}

	got, ok := snap.ProviderByName("openai")
	if !ok || got.ID != "id-2" {
		t.Fatalf("ProviderByName(openai) = %+v, %v", got, ok)
	}

	if _, ok := snap.ProviderByName("missing"); ok {
		t.Fatal("ProviderByName(missing) reported found")
	}
}

func TestEnabledProviders(t *testing.T) {
	snap := &Snapshot{Providers: map[string]model.Provider{
		"id-1": {ID: "id-1", Name: "anthropic", Enabled: true},
		"id-2": {ID: "id-2", Name: "openai", Enabled: false},
		"id-3": {ID: "id-3", Name: "gemini", Enabled: true},
	}}

	enabled := snap.EnabledProviders()
	if len(enabled) != 2 {
		t.Fatalf("EnabledProviders() = %+v, want 2 entries", enabled)
	}
	for _, p := range enabled {
		if !p.Enabled {
			t.Fatalf("EnabledProviders() returned a disabled provider: %+v", p)
		}
	}
}

func TestPublishSwapsAtomically(t *testing.T) {
	s := NewStore(nil)
	first := s.Current()

	next := &Snapshot{
		Providers: map[string]model.Provider{"id-1": {ID: "id-1", Name: "anthropic", Enabled: true}},
		Pools:     map[string]*pool.Pool{"id-1": pool.New()},
		Auth:      authtable.New(),
	}
	s.Publish(next)

	if s.Current() != next {
		t.Fatal("Current() after Publish did not return the published snapshot")
	}
	if first == s.Current() {
		t.Fatal("Current() still returns the pre-publish snapshot")
	}
	if _, ok := first.ProviderByName("anthropic"); ok {
		t.Fatal("in-flight reference to the old snapshot observed the new provider")
	}
}
