// Package authtable implements C3: mapping downstream API-key material to
// (user-id, key-id), honoring enabled flags on both, snapshot-replaced
// atomically. Grounded on the teacher's sdk/access key-provider registry
// (resolve bearer material to an identity) generalized to the spec's
// per-user/per-key enabled semantics, plus golang.org/x/crypto/bcrypt for
// the admin-key comparison exactly as
// internal/api/handlers/management/handler.go does it.
package authtable

import (
	"crypto/subtle"
	"sync/atomic"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the result of a successful authentication.
type Identity struct {
	UserID string
	KeyID  string
}

type tableData struct {
	byKey map[string]Identity
	users map[string]bool // user id -> enabled
}

// Table is an atomically-swapped snapshot of the user/key universe.
type Table struct {
	data atomic.Pointer[tableData]
}

// New returns an empty table.
func New() *Table {
	t := &Table{}
	t.data.Store(&tableData{byKey: map[string]Identity{}, users: map[string]bool{}})
	return t
}

// Reset atomically replaces the whole table (spec §3, §4.2).
func (t *Table) Reset(users []model.User, keys []model.UserKey) {
	next := &tableData{
		byKey: make(map[string]Identity, len(keys)),
		users: make(map[string]bool, len(users)),
	}
	for _, u := range users {
		next.users[u.ID] = u.Enabled
	}
	for _, k := range keys {
		if !k.Enabled {
			continue
		}
		next.byKey[k.KeyValue] = Identity{UserID: k.UserID, KeyID: k.ID}
	}
	t.data.Store(next)
}

// ErrUnauthenticated is returned for unknown keys or disabled key/user.
var ErrUnauthenticated = authErr("authtable: no/unknown key, or disabled key or user")

type authErr string

func (e authErr) Error() string { return string(e) }

// Authenticate resolves raw downstream key material to an Identity. A key
// authenticates only if both the key and its owning user are enabled
// (spec §3 invariant).
func (t *Table) Authenticate(keyValue string) (Identity, error) {
	if keyValue == "" {
		return Identity{}, ErrUnauthenticated
	}
	d := t.data.Load()
	id, ok := d.byKey[keyValue]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	if enabled, ok := d.users[id.UserID]; !ok || !enabled {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// AdminAuthenticator compares provided admin-key material against the
// configured admin key. If the configured key looks like a bcrypt hash it
// is compared with bcrypt; otherwise a constant-time byte comparison is
// used (the admin key is process-wide secret material per spec §3, not a
// per-user password, so plaintext storage is the common case, but an
// operator may pre-hash it).
type AdminAuthenticator struct {
	configured string
}

// NewAdminAuthenticator builds an authenticator for the given configured
// admin-key value (plaintext or a bcrypt hash).
func NewAdminAuthenticator(configured string) *AdminAuthenticator {
	return &AdminAuthenticator{configured: configured}
}

// Check reports whether provided matches the configured admin key.
func (a *AdminAuthenticator) Check(provided string) bool {
	if a == nil || a.configured == "" || provided == "" {
		return false
	}
	if looksLikeBcryptHash(a.configured) {
		return bcrypt.CompareHashAndPassword([]byte(a.configured), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.configured), []byte(provided)) == 1
}

func looksLikeBcryptHash(s string) bool {
	return len(s) >= 4 && s[0] == '$' && (s[1:4] == "2a$" || s[1:4] == "2b$" || s[1:4] == "2y$")
}
