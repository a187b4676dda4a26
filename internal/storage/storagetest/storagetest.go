// Package storagetest is a conformance suite run against every
// storage.Store implementation, so memory and bolt exercise identical
// behavior assertions instead of duplicating the same table of checks.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/storage"
)

// Exercise runs the full CRUD/list/usage/log surface against store.
func Exercise(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("providers", func(t *testing.T) { testProviders(t, ctx, store) })
	t.Run("credentials", func(t *testing.T) { testCredentials(t, ctx, store) })
	t.Run("disallow", func(t *testing.T) { testDisallow(t, ctx, store) })
	t.Run("users", func(t *testing.T) { testUsers(t, ctx, store) })
	t.Run("userKeys", func(t *testing.T) { testUserKeys(t, ctx, store) })
	t.Run("globalConfig", func(t *testing.T) { testGlobalConfig(t, ctx, store) })
	t.Run("traffic", func(t *testing.T) { testTraffic(t, ctx, store) })
	t.Run("loadSnapshot", func(t *testing.T) { testLoadSnapshot(t, ctx, store) })
	t.Run("health", func(t *testing.T) {
		if err := store.Health(ctx); err != nil {
			t.Fatalf("Health() = %v", err)
		}
	})
}

func testProviders(t *testing.T, ctx context.Context, store storage.Store) {
	p := model.Provider{ID: "p1", Name: "anthropic", Variant: model.VariantAnthropic, Enabled: true}
	if err := store.UpsertProvider(ctx, p); err != nil {
		t.Fatalf("UpsertProvider() = %v", err)
	}
	list, err := store.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() = %v", err)
	}
	if len(list) != 1 || list[0].ID != "p1" {
		t.Fatalf("ListProviders() = %+v, want one entry p1", list)
	}

	if err := store.SetProviderEnabled(ctx, "p1", false); err != nil {
		t.Fatalf("SetProviderEnabled() = %v", err)
	}
	list, _ = store.ListProviders(ctx)
	if list[0].Enabled {
		t.Fatalf("provider still enabled after SetProviderEnabled(false)")
	}

	if err := store.SetProviderEnabled(ctx, "missing", true); err == nil {
		t.Fatalf("SetProviderEnabled() on missing id: want error")
	}

	if err := store.DeleteProvider(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProvider() = %v", err)
	}
	if list, _ = store.ListProviders(ctx); len(list) != 0 {
		t.Fatalf("ListProviders() after delete = %+v, want empty", list)
	}
	if err := store.DeleteProvider(ctx, "p1"); err == nil {
		t.Fatalf("DeleteProvider() on already-deleted id: want error")
	}
}

func testCredentials(t *testing.T, ctx context.Context, store storage.Store) {
	_ = store.UpsertProvider(ctx, model.Provider{ID: "p2", Name: "p2", Enabled: true})
	c1 := model.Credential{ID: "c1", ProviderID: "p2", Secret: model.Secret{Kind: model.SecretAPIKey, APIKey: "a"}, Enabled: true}
	c2 := model.Credential{ID: "c2", ProviderID: "other", Secret: model.Secret{Kind: model.SecretAPIKey, APIKey: "b"}, Enabled: true}
	if err := store.UpsertCredential(ctx, c1); err != nil {
		t.Fatalf("UpsertCredential() = %v", err)
	}
	if err := store.UpsertCredential(ctx, c2); err != nil {
		t.Fatalf("UpsertCredential() = %v", err)
	}

	scoped, err := store.ListCredentials(ctx, "p2")
	if err != nil {
		t.Fatalf("ListCredentials(p2) = %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "c1" {
		t.Fatalf("ListCredentials(p2) = %+v, want only c1", scoped)
	}

	all, err := store.ListCredentials(ctx, "")
	if err != nil {
		t.Fatalf("ListCredentials(\"\") = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListCredentials(\"\") = %+v, want both", all)
	}

	if err := store.SetCredentialEnabled(ctx, "c1", false); err != nil {
		t.Fatalf("SetCredentialEnabled() = %v", err)
	}
	scoped, _ = store.ListCredentials(ctx, "p2")
	if scoped[0].Enabled {
		t.Fatalf("credential still enabled after disable")
	}

	if err := store.DeleteCredential(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCredential() = %v", err)
	}
	if err := store.DeleteCredential(ctx, "c2"); err != nil {
		t.Fatalf("DeleteCredential() = %v", err)
	}
}

func testDisallow(t *testing.T, ctx context.Context, store storage.Store) {
	entry := model.DisallowEntry{CredentialID: "cX", Scope: model.DisallowScope{Model: "gpt-4o"}}
	if err := store.UpsertDisallowEntry(ctx, entry); err != nil {
		t.Fatalf("UpsertDisallowEntry() = %v", err)
	}
	list, err := store.ListDisallowEntries(ctx)
	if err != nil {
		t.Fatalf("ListDisallowEntries() = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListDisallowEntries() = %+v, want one entry", list)
	}
	if err := store.DeleteDisallowEntry(ctx, "cX", model.DisallowScope{Model: "gpt-4o"}); err != nil {
		t.Fatalf("DeleteDisallowEntry() = %v", err)
	}
	if list, _ = store.ListDisallowEntries(ctx); len(list) != 0 {
		t.Fatalf("ListDisallowEntries() after delete = %+v, want empty", list)
	}
}

func testUsers(t *testing.T, ctx context.Context, store storage.Store) {
	u := model.User{ID: "u1", Name: "alice", Enabled: true}
	if err := store.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser() = %v", err)
	}
	if err := store.SetUserEnabled(ctx, "u1", false); err != nil {
		t.Fatalf("SetUserEnabled() = %v", err)
	}
	list, _ := store.ListUsers(ctx)
	if len(list) != 1 || list[0].Enabled {
		t.Fatalf("ListUsers() = %+v, want one disabled user", list)
	}
	if err := store.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser() = %v", err)
	}
}

func testUserKeys(t *testing.T, ctx context.Context, store storage.Store) {
	_ = store.UpsertUser(ctx, model.User{ID: "u2", Enabled: true})
	k1 := model.UserKey{ID: "k1", UserID: "u2", KeyValue: "sk-1", Enabled: true}
	k2 := model.UserKey{ID: "k2", UserID: "other", KeyValue: "sk-2", Enabled: true}
	_ = store.UpsertUserKey(ctx, k1)
	_ = store.UpsertUserKey(ctx, k2)

	scoped, err := store.ListUserKeys(ctx, "u2")
	if err != nil {
		t.Fatalf("ListUserKeys(u2) = %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "k1" {
		t.Fatalf("ListUserKeys(u2) = %+v, want only k1", scoped)
	}

	if err := store.SetUserKeyEnabled(ctx, "k1", false); err != nil {
		t.Fatalf("SetUserKeyEnabled() = %v", err)
	}
	if err := store.DeleteUserKey(ctx, "k1"); err != nil {
		t.Fatalf("DeleteUserKey() = %v", err)
	}
	if err := store.DeleteUserKey(ctx, "k2"); err != nil {
		t.Fatalf("DeleteUserKey() = %v", err)
	}
}

func testGlobalConfig(t *testing.T, ctx context.Context, store storage.Store) {
	cfg := model.GlobalConfig{Host: "0.0.0.0", Port: 8080, AdminKey: "secret"}
	if err := store.UpsertGlobalConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertGlobalConfig() = %v", err)
	}
	got, err := store.GetGlobalConfig(ctx)
	if err != nil {
		t.Fatalf("GetGlobalConfig() = %v", err)
	}
	if got.Port != 8080 || got.AdminKey != "secret" {
		t.Fatalf("GetGlobalConfig() = %+v, want round-tripped config", got)
	}
}

func testTraffic(t *testing.T, ctx context.Context, store storage.Store) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	rec1 := model.UpstreamRecord{TraceID: "t1", Timestamp: older, Provider: "anthropic", Status: 200,
		Usage: &model.UsageSummary{ClaudeInputTokens: 10, ClaudeOutputTokens: 5}}
	rec2 := model.UpstreamRecord{TraceID: "t2", Timestamp: newer, Provider: "openai", Status: 200,
		Usage: &model.UsageSummary{OpenAIChatPromptTokens: 7, OpenAIChatCompletionTokens: 3}}

	if err := store.InsertUpstreamTraffic(ctx, rec1); err != nil {
		t.Fatalf("InsertUpstreamTraffic() = %v", err)
	}
	if err := store.InsertDownstreamTraffic(ctx, rec2); err != nil {
		t.Fatalf("InsertDownstreamTraffic() = %v", err)
	}

	total, err := store.AggregateUsageTokens(ctx, time.Time{})
	if err != nil {
		t.Fatalf("AggregateUsageTokens() = %v", err)
	}
	if total.ClaudeInputTokens != 10 || total.OpenAIChatPromptTokens != 7 {
		t.Fatalf("AggregateUsageTokens() = %+v, want both records summed", total)
	}

	total, err = store.AggregateUsageTokens(ctx, newer.Add(-time.Minute))
	if err != nil {
		t.Fatalf("AggregateUsageTokens(since) = %v", err)
	}
	if total.ClaudeInputTokens != 0 || total.OpenAIChatPromptTokens != 7 {
		t.Fatalf("AggregateUsageTokens(since) = %+v, want only the newer record", total)
	}

	logs, err := store.QueryLogs(ctx, storage.LogFilter{Provider: "openai"})
	if err != nil {
		t.Fatalf("QueryLogs(provider) = %v", err)
	}
	if len(logs) != 1 || logs[0].TraceID != "t2" {
		t.Fatalf("QueryLogs(provider=openai) = %+v, want only t2", logs)
	}

	logs, err = store.QueryLogs(ctx, storage.LogFilter{Limit: 1})
	if err != nil {
		t.Fatalf("QueryLogs(limit) = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("QueryLogs(limit=1) = %+v, want exactly one", logs)
	}
}

func testLoadSnapshot(t *testing.T, ctx context.Context, store storage.Store) {
	_ = store.UpsertProvider(ctx, model.Provider{ID: "snapP", Name: "snapP", Enabled: true})
	_ = store.UpsertCredential(ctx, model.Credential{ID: "snapC", ProviderID: "snapP", Secret: model.Secret{Kind: model.SecretAPIKey, APIKey: "k"}})
	_ = store.UpsertUser(ctx, model.User{ID: "snapU", Enabled: true})
	_ = store.UpsertUserKey(ctx, model.UserKey{ID: "snapK", UserID: "snapU", KeyValue: "sk-snap"})
	_ = store.UpsertGlobalConfig(ctx, model.GlobalConfig{Host: "h", Port: 1})

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot() = %v", err)
	}
	if len(snap.Providers) == 0 || len(snap.Credentials) == 0 || len(snap.Users) == 0 || len(snap.UserKeys) == 0 {
		t.Fatalf("LoadSnapshot() = %+v, want every entity populated", snap)
	}
	if snap.Config.Port != 1 {
		t.Fatalf("LoadSnapshot().Config = %+v, want Port 1", snap.Config)
	}
}
