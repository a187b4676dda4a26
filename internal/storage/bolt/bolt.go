// Package bolt is the production storage.Store backend, a single
// go.etcd.io/bbolt file holding one bucket per entity kind. Grounded on
// internal/provider/gemini-web/state.go's bolt usage (open once, one
// bucket per concern, JSON-encode values) generalized from that file's
// single conversation-cache bucket to the full admin-managed schema.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProviders   = []byte("providers")
	bucketCredentials = []byte("credentials")
	bucketDisallow    = []byte("disallow")
	bucketUsers       = []byte("users")
	bucketUserKeys    = []byte("user_keys")
	bucketConfig      = []byte("config")
	bucketTraffic     = []byte("traffic")
)

var allBuckets = [][]byte{bucketProviders, bucketCredentials, bucketDisallow, bucketUsers, bucketUserKeys, bucketConfig, bucketTraffic}

const configKey = "global"

// Store is a bbolt-backed storage.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures
// every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), raw)
}

func (s *Store) ListProviders(ctx context.Context) ([]model.Provider, error) {
	var out []model.Provider
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProviders).ForEach(func(k, v []byte) error {
			var p model.Provider
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (s *Store) UpsertProvider(ctx context.Context, p model.Provider) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketProviders, p.ID, p) })
}

func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	return s.deleteByID(bucketProviders, id)
}

func (s *Store) SetProviderEnabled(ctx context.Context, id string, enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		raw := b.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound(id)
		}
		var p model.Provider
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		p.Enabled = enabled
		return put(tx, bucketProviders, id, p)
	})
}

func (s *Store) ListCredentials(ctx context.Context, providerID string) ([]model.Credential, error) {
	var out []model.Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			var c model.Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if providerID == "" || c.ProviderID == providerID {
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) UpsertCredential(ctx context.Context, c model.Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketCredentials, c.ID, c) })
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	return s.deleteByID(bucketCredentials, id)
}

func (s *Store) SetCredentialEnabled(ctx context.Context, id string, enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		raw := b.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound(id)
		}
		var c model.Credential
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		c.Enabled = enabled
		return put(tx, bucketCredentials, id, c)
	})
}

func disallowKey(credentialID string, scope model.DisallowScope) string {
	if scope.AllModels {
		return credentialID + "|*"
	}
	return credentialID + "|" + scope.Model
}

func (s *Store) ListDisallowEntries(ctx context.Context) ([]model.DisallowEntry, error) {
	var out []model.DisallowEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDisallow).ForEach(func(k, v []byte) error {
			var e model.DisallowEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *Store) UpsertDisallowEntry(ctx context.Context, e model.DisallowEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketDisallow, disallowKey(e.CredentialID, e.Scope), e) })
}

func (s *Store) DeleteDisallowEntry(ctx context.Context, credentialID string, scope model.DisallowScope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDisallow).Delete([]byte(disallowKey(credentialID, scope)))
	})
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var out []model.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u model.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	return out, err
}

func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketUsers, u.ID, u) })
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.deleteByID(bucketUsers, id)
}

func (s *Store) SetUserEnabled(ctx context.Context, id string, enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		raw := b.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound(id)
		}
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		u.Enabled = enabled
		return put(tx, bucketUsers, id, u)
	})
}

func (s *Store) ListUserKeys(ctx context.Context, userID string) ([]model.UserKey, error) {
	var out []model.UserKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserKeys).ForEach(func(k, v []byte) error {
			var uk model.UserKey
			if err := json.Unmarshal(v, &uk); err != nil {
				return err
			}
			if userID == "" || uk.UserID == userID {
				out = append(out, uk)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) UpsertUserKey(ctx context.Context, k model.UserKey) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketUserKeys, k.ID, k) })
}

func (s *Store) DeleteUserKey(ctx context.Context, id string) error {
	return s.deleteByID(bucketUserKeys, id)
}

func (s *Store) SetUserKeyEnabled(ctx context.Context, id string, enabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUserKeys)
		raw := b.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound(id)
		}
		var k model.UserKey
		if err := json.Unmarshal(raw, &k); err != nil {
			return err
		}
		k.Enabled = enabled
		return put(tx, bucketUserKeys, id, k)
	})
}

func (s *Store) GetGlobalConfig(ctx context.Context) (model.GlobalConfig, error) {
	var cfg model.GlobalConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get([]byte(configKey))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &cfg)
	})
	return cfg, err
}

func (s *Store) UpsertGlobalConfig(ctx context.Context, cfg model.GlobalConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketConfig, configKey, cfg) })
}

func (s *Store) AggregateUsageTokens(ctx context.Context, since time.Time) (model.UsageSummary, error) {
	var total model.UsageSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTraffic).ForEach(func(k, v []byte) error {
			var rec model.UpstreamRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Timestamp.Before(since) || rec.Usage == nil {
				return nil
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
			return nil
		})
	})
	return total, err
}

func (s *Store) QueryLogs(ctx context.Context, filter storage.LogFilter) ([]model.UpstreamRecord, error) {
	var out []model.UpstreamRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTraffic).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec model.UpstreamRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
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
		return nil
	})
	return out, err
}

// trafficKey orders records chronologically within the bucket so
// QueryLogs's cursor walk (newest first) doesn't need a secondary index.
func trafficKey(rec model.UpstreamRecord) string {
	return fmt.Sprintf("%020d-%s", rec.Timestamp.UnixNano(), rec.TraceID)
}

func (s *Store) InsertUpstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error {
	rec.RespBody = model.CapBody(rec.RespBody)
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketTraffic, trafficKey(rec), rec) })
}

func (s *Store) InsertDownstreamTraffic(ctx context.Context, rec model.UpstreamRecord) error {
	return s.InsertUpstreamTraffic(ctx, rec)
}

func (s *Store) LoadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	var snap storage.Snapshot
	var err error
	snap.Providers, err = s.ListProviders(ctx)
	if err != nil {
		return snap, err
	}
	snap.Credentials, err = s.ListCredentials(ctx, "")
	if err != nil {
		return snap, err
	}
	snap.Disallow, err = s.ListDisallowEntries(ctx)
	if err != nil {
		return snap, err
	}
	snap.Users, err = s.ListUsers(ctx)
	if err != nil {
		return snap, err
	}
	snap.UserKeys, err = s.ListUserKeys(ctx, "")
	if err != nil {
		return snap, err
	}
	snap.Config, err = s.GetGlobalConfig(ctx)
	return snap, err
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) deleteByID(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) == nil {
			return storage.ErrNotFound(id)
		}
		return b.Delete([]byte(id))
	})
}
