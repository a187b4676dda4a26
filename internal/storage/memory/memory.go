// Package memory is an in-process storage.Store, the default backend
// when no DSN is configured and the implementation package-level tests
// exercise.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/storage"
)

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu          sync.Mutex
	providers   map[string]model.Provider
	credentials map[string]model.Credential
	disallow    map[string]model.DisallowEntry
	users       map[string]model.User
	userKeys    map[string]model.UserKey
	config      model.GlobalConfig
	traffic     []model.UpstreamRecord
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		providers:   make(map[string]model.Provider),
		credentials: make(map[string]model.Credential),
		disallow:    make(map[string]model.DisallowEntry),
		users:       make(map[string]model.User),
		userKeys:    make(map[string]model.UserKey),
	}
}

func disallowKey(credentialID string, scope model.DisallowScope) string {
	if scope.AllModels {
		return credentialID + "|*"
	}
	return credentialID + "|" + scope.Model
}

func (s *Store) ListProviders(ctx context.Context) ([]model.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpsertProvider(ctx context.Context, p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return storage.ErrNotFound(id)
	}
	delete(s.providers, id)
	return nil
}

func (s *Store) SetProviderEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return storage.ErrNotFound(id)
	}
	p.Enabled = enabled
	s.providers[id] = p
	return nil
}

func (s *Store) ListCredentials(ctx context.Context, providerID string) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Credential, 0)
	for _, c := range s.credentials {
		if providerID == "" || c.ProviderID == providerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) UpsertCredential(ctx context.Context, c model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.ID] = c
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return storage.ErrNotFound(id)
	}
	delete(s.credentials, id)
	return nil
}

func (s *Store) SetCredentialEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return storage.ErrNotFound(id)
	}
	c.Enabled = enabled
	s.credentials[id] = c
	return nil
}

func (s *Store) ListDisallowEntries(ctx context.Context) ([]model.DisallowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DisallowEntry, 0, len(s.disallow))
	for _, e := range s.disallow {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) UpsertDisallowEntry(ctx context.Context, e model.DisallowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disallow[disallowKey(e.CredentialID, e.Scope)] = e
	return nil
}

func (s *Store) DeleteDisallowEntry(ctx context.Context, credentialID string, scope model.DisallowScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disallow, disallowKey(credentialID, scope))
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound(id)
	}
	delete(s.users, id)
	return nil
}

func (s *Store) SetUserEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound(id)
	}
	u.Enabled = enabled
	s.users[id] = u
	return nil
}

func (s *Store) ListUserKeys(ctx context.Context, userID string) ([]model.UserKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.UserKey, 0)
	for _, k := range s.userKeys {
		if userID == "" || k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) UpsertUserKey(ctx context.Context, k model.UserKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userKeys[k.ID] = k
	return nil
}

func (s *Store) DeleteUserKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userKeys[id]; !ok {
		return storage.ErrNotFound(id)
	}
	delete(s.userKeys, id)
	return nil
}

func (s *Store) SetUserKeyEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.userKeys[id]
	if !ok {
		return storage.ErrNotFound(id)
	}
	k.Enabled = enabled
	s.userKeys[id] = k
	return nil
}

func (s *Store) GetGlobalConfig(ctx context.Context) (model.GlobalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *Store) UpsertGlobalConfig(ctx context.Context, cfg model.GlobalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return nil
}

func (s *Store) AggregateUsageTokens(ctx context.Context, since time.Time) (model.UsageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total model.UsageSummary
	for _, rec := range s.traffic {
		if rec.Timestamp.Before(since) || rec.Usage == nil {
			continue
		}
		u := rec.Usage
		total.ClaudeInputTokens += u.ClaudeInputTokens
		total.ClaudeOutputTokens += u.ClaudeOutputTokens
		total.ClaudeCacheCreationTokens += u.ClaudeCacheCreationTokens
		total.ClaudeCacheReadTokens += u.ClaudeCacheReadTokens
		total.GeminiPromptTokens += u.GeminiPromptTokens
		total.GeminiCandidatesTokens += u.GeminiCandidatesTokens
		total.GeminiTotalTokens += u.GeminiTotalTokens
		total.GeminiCachedTokens += u.GeminiCachedTokens
		total.OpenAIChatPromptTokens += u.OpenAIChatPromptTokens
		total.OpenAIChatCompletionTokens += u.OpenAIChatCompletionTokens
		total.OpenAIChatTotalTokens += u.OpenAIChatTotalTokens
		total.OpenAIRespInputTokens += u.OpenAIRespInputTokens
		total.OpenAIRespOutputTokens += u.OpenAIRespOutputTokens
		total.OpenAIRespTotalTokens += u.OpenAIRespTotalTokens
	}
	return total, nil
}

func (s *Store) QueryLogs(ctx context.Context, filter storage.LogFilter) ([]model.UpstreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UpstreamRecord
	for i := len(s.traffic) - 1; i >= 0; i-- {
		rec := s.traffic[i]
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Provider != "" && rec.Provider != filter.Provider {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) InsertUpstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.RespBody = model.CapBody(rec.RespBody)
	s.traffic = append(s.traffic, rec)
	return nil
}

func (s *Store) InsertDownstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error {
	return s.InsertUpstreamTraffic(ctx, rec)
}

func (s *Store) LoadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storage.Snapshot{Config: s.config}
	for _, p := range s.providers {
		snap.Providers = append(snap.Providers, p)
	}
	for _, c := range s.credentials {
		snap.Credentials = append(snap.Credentials, c)
	}
	for _, e := range s.disallow {
		snap.Disallow = append(snap.Disallow, e)
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	for _, k := range s.userKeys {
		snap.UserKeys = append(snap.UserKeys, k)
	}
	return snap, nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
