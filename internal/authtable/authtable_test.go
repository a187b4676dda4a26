package authtable

import (
	"testing"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticateUnknownKey(t *testing.T) {
	tbl := New()
	if _, err := tbl.Authenticate("nope"); err == nil {
		t.Fatal("Authenticate(unknown key): want error")
	}
	if _, err := tbl.Authenticate(""); err == nil {
		t.Fatal("Authenticate(\"\"): want error")
	}
}

func TestAuthenticateSucceedsForEnabledUserAndKey(t *testing.T) {
	tbl := New()
	tbl.Reset(
		[]model.User{{ID: "u1", Enabled: true}},
		[]model.UserKey{{ID: "k1", UserID: "u1", KeyValue: "sk-live", Enabled: true}},
	)

	id, err := tbl.Authenticate("sk-live")
	if err != nil {
		t.Fatalf("Authenticate() = %v", err)
	}
	if id.UserID != "u1" || id.KeyID != "k1" {
		t.Fatalf("Authenticate() = %+v, want u1/k1", id)
	}
}

func TestAuthenticateFailsWhenKeyDisabled(t *testing.T) {
	tbl := New()
	tbl.Reset(
		[]model.User{{ID: "u1", Enabled: true}},
		[]model.UserKey{{ID: "k1", UserID: "u1", KeyValue: "sk-live", Enabled: false}},
	)
	if _, err := tbl.Authenticate("sk-live"); err == nil {
		t.Fatal("Authenticate() with disabled key: want error")
	}
}

func TestAuthenticateFailsWhenOwningUserDisabled(t *testing.T) {
	tbl := New()
	tbl.Reset(
		[]model.User{{ID: "u1", Enabled: false}},
		[]model.UserKey{{ID: "k1", UserID: "u1", KeyValue: "sk-live", Enabled: true}},
	)
	if _, err := tbl.Authenticate("sk-live"); err == nil {
		t.Fatal("Authenticate() with disabled owning user: want error")
	}
}

func TestResetReplacesWholeTable(t *testing.T) {
	tbl := New()
	tbl.Reset(
		[]model.User{{ID: "u1", Enabled: true}},
		[]model.UserKey{{ID: "k1", UserID: "u1", KeyValue: "sk-old", Enabled: true}},
	)
	tbl.Reset(
		[]model.User{{ID: "u2", Enabled: true}},
		[]model.UserKey{{ID: "k2", UserID: "u2", KeyValue: "sk-new", Enabled: true}},
	)

	if _, err := tbl.Authenticate("sk-old"); err == nil {
		t.Fatal("Authenticate() with a key from before Reset: want error")
	}
	if _, err := tbl.Authenticate("sk-new"); err != nil {
		t.Fatalf("Authenticate(sk-new) = %v", err)
	}
}

func TestAdminAuthenticatorPlaintext(t *testing.T) {
	a := NewAdminAuthenticator("admin-secret")
	if !a.Check("admin-secret") {
		t.Fatal("Check() rejected the configured plaintext key")
	}
	if a.Check("wrong") {
		t.Fatal("Check() accepted a wrong plaintext key")
	}
	if a.Check("") {
		t.Fatal("Check() accepted an empty provided value")
	}
}

func TestAdminAuthenticatorUnconfigured(t *testing.T) {
	a := NewAdminAuthenticator("")
	if a.Check("anything") {
		t.Fatal("Check() accepted a value against an unconfigured admin key")
	}
}

func TestAdminAuthenticatorBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() = %v", err)
	}
	a := NewAdminAuthenticator(string(hash))
	if !a.Check("admin-secret") {
		t.Fatal("Check() rejected the correct password against a bcrypt-hashed configured key")
	}
	if a.Check("wrong-secret") {
		t.Fatal("Check() accepted a wrong password against a bcrypt-hashed configured key")
	}
}
