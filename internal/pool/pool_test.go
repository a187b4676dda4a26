package pool

import (
	"testing"
	"time"

	"github.com/dfft546/gproxy/internal/model"
)

func creds(ids ...string) []model.Credential {
	out := make([]model.Credential, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Credential{ID: id, Weight: 1, Enabled: true})
	}
	return out
}

func TestAcquireNoCredentials(t *testing.T) {
	p := New()
	if _, _, err := p.Acquire(); err != ErrNoActiveCredentials {
		t.Fatalf("expected ErrNoActiveCredentials, got %v", err)
	}
}

func TestAcquireReturnsOnlyEnabled(t *testing.T) {
	p := New()
	p.Reset([]model.Credential{
		{ID: "a", Weight: 1, Enabled: true},
		{ID: "b", Weight: 1, Enabled: false},
	})
	for i := 0; i < 50; i++ {
		id, _, err := p.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		if id != "a" {
			t.Fatalf("expected only 'a', got %q", id)
		}
	}
}

func TestDisablingPreventsFutureAcquire(t *testing.T) {
	p := New()
	p.Reset(creds("a"))
	p.SetEnabled("a", false)
	if _, _, err := p.Acquire(); err != ErrNoActiveCredentials {
		t.Fatalf("expected no active credentials after disable, got %v", err)
	}
}

func TestMarkUnavailableExcludesUntilExpiry(t *testing.T) {
	p := New()
	p.Reset(creds("a", "b"))
	p.MarkUnavailable("a", 50*time.Millisecond, "rate_limit")
	id, _, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if id != "b" {
		t.Fatalf("expected b while a is cooling down, got %s", id)
	}
	time.Sleep(60 * time.Millisecond)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, _, err = p.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		seen[id] = true
	}
	if !seen["a"] {
		t.Fatalf("expected 'a' to become available again after expiry, saw %v", seen)
	}
}

func TestMarkUnavailableIdempotentMerge(t *testing.T) {
	p := New()
	p.Reset(creds("a"))
	p.MarkUnavailable("a", 50*time.Millisecond, "rate_limit")
	// A shorter duration with the same reason must not shorten the deadline.
	p.MarkUnavailable("a", 10*time.Millisecond, "rate_limit")
	time.Sleep(20 * time.Millisecond)
	if _, _, err := p.Acquire(); err != ErrNoActiveCredentials {
		t.Fatalf("expected still unavailable (longer deadline should win), got %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, _, err := p.Acquire(); err != nil {
		t.Fatalf("expected available after original deadline passed, got %v", err)
	}
}

func TestMarkUnavailableDifferentReasonReplaces(t *testing.T) {
	p := New()
	p.Reset(creds("a"))
	p.MarkUnavailable("a", time.Hour, "rate_limit")
	p.MarkUnavailable("a", 10*time.Millisecond, "manual_override")
	time.Sleep(20 * time.Millisecond)
	if _, _, err := p.Acquire(); err != nil {
		t.Fatalf("a new reason should replace the old deadline, got %v", err)
	}
}

func TestModelScopeIndependentOfWholeScope(t *testing.T) {
	p := New()
	p.Reset(creds("a", "b"))
	p.MarkModelUnavailable("a", "gpt-5", time.Hour, "rate_limit")

	if _, _, err := p.AcquireForModel("gpt-5"); err != nil {
		t.Fatal(err)
	}
	id, _, err := p.AcquireForModel("gpt-5")
	if err != nil {
		t.Fatal(err)
	}
	if id != "b" {
		t.Fatalf("expected only b eligible for gpt-5, got %s", id)
	}

	// A different model is unaffected.
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, _, err = p.AcquireForModel("other-model")
		if err != nil {
			t.Fatal(err)
		}
		seen[id] = true
	}
	if !seen["a"] {
		t.Fatalf("credential 'a' should still serve a different model, saw %v", seen)
	}
}

func TestUpdateCredentialPreservesWeightAndEnabled(t *testing.T) {
	p := New()
	p.Reset([]model.Credential{{ID: "a", Weight: 3, Enabled: true, Secret: model.Secret{APIKey: "old"}}})
	p.UpdateCredential("a", model.Secret{APIKey: "new"})
	_, secret, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if secret.APIKey != "new" {
		t.Fatalf("expected updated secret, got %+v", secret)
	}
}

func TestWeightZeroOnlyLastResort(t *testing.T) {
	p := New()
	p.Reset([]model.Credential{
		{ID: "zero", Weight: 0, Enabled: true},
		{ID: "heavy", Weight: 10, Enabled: true},
	})
	seenZero := false
	for i := 0; i < 200; i++ {
		id, _, err := p.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		if id == "zero" {
			seenZero = true
		}
	}
	if seenZero {
		t.Fatalf("weight-0 credential should not be picked while a positive-weight one is available")
	}

	// Now make "zero" the only available one.
	p.SetEnabled("heavy", false)
	id, _, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if id != "zero" {
		t.Fatalf("weight-0 credential should be a last-resort pick, got %s", id)
	}
}

func TestClearRemovesCredential(t *testing.T) {
	p := New()
	p.Reset(creds("a", "b"))
	p.Clear("a")
	for i := 0; i < 20; i++ {
		id, _, err := p.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		if id != "b" {
			t.Fatalf("expected only b after clearing a, got %s", id)
		}
	}
}
