// Package storage is the narrow persistence interface the engine and
// admin surface read and write through (spec §6.4): list/upsert/delete
// for the admin-managed entities, global config, usage aggregation,
// traffic logging, snapshot loading, and a health check. Concrete
// schema is each implementation's own concern.
package storage

import (
	"context"
	"time"

	"github.com/dfft546/gproxy/internal/model"
)

// LogFilter narrows a query_logs call (spec's admin `/logs` query:
// limit/provider/since).
type LogFilter struct {
	Limit    int
	Provider string
	Since    time.Time
}

// Store is the full persistence surface.
type Store interface {
	ListProviders(ctx context.Context) ([]model.Provider, error)
	UpsertProvider(ctx context.Context, p model.Provider) error
	DeleteProvider(ctx context.Context, id string) error
	SetProviderEnabled(ctx context.Context, id string, enabled bool) error

	ListCredentials(ctx context.Context, providerID string) ([]model.Credential, error)
	UpsertCredential(ctx context.Context, c model.Credential) error
	DeleteCredential(ctx context.Context, id string) error
	SetCredentialEnabled(ctx context.Context, id string, enabled bool) error

	ListDisallowEntries(ctx context.Context) ([]model.DisallowEntry, error)
	UpsertDisallowEntry(ctx context.Context, e model.DisallowEntry) error
	DeleteDisallowEntry(ctx context.Context, credentialID string, scope model.DisallowScope) error

	ListUsers(ctx context.Context) ([]model.User, error)
	UpsertUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id string) error
	SetUserEnabled(ctx context.Context, id string, enabled bool) error

	ListUserKeys(ctx context.Context, userID string) ([]model.UserKey, error)
	UpsertUserKey(ctx context.Context, k model.UserKey) error
	DeleteUserKey(ctx context.Context, id string) error
	SetUserKeyEnabled(ctx context.Context, id string, enabled bool) error

	GetGlobalConfig(ctx context.Context) (model.GlobalConfig, error)
	UpsertGlobalConfig(ctx context.Context, cfg model.GlobalConfig) error

	AggregateUsageTokens(ctx context.Context, since time.Time) (model.UsageSummary, error)
	QueryLogs(ctx context.Context, filter LogFilter) ([]model.UpstreamRecord, error)
	InsertUpstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error
	InsertDownstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error

	// LoadSnapshot reads every admin-managed entity in one pass, the
	// source the snapshot store (C4) rebuilds from on startup and reload.
	LoadSnapshot(ctx context.Context) (Snapshot, error)

	Health(ctx context.Context) error
	Close() error
}

// Snapshot is the flat read LoadSnapshot returns; internal/snapshot
// assembles its own atomic Snapshot type from this.
type Snapshot struct {
	Providers   []model.Provider
	Credentials []model.Credential
	Disallow    []model.DisallowEntry
	Users       []model.User
	UserKeys    []model.UserKey
	Config      model.GlobalConfig
}

// ErrNotFound is returned by delete/set-enabled calls against an id that
// does not exist.
type ErrNotFound string

func (e ErrNotFound) Error() string { return "storage: not found: " + string(e) }
