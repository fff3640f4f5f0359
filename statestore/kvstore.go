package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopworks/taor/agentstate"
)

// DefaultTTL is the expiration applied to stored session state when no
// other TTL is configured.
const DefaultTTL = time.Hour

// KVStore is the shared-store strategy: session state lives serialized
// in a KeyValue store under "prefix:sessionID", so any process can load
// it. Managers returned by KVStore write back after every mutation,
// refreshing the entry's TTL.
//
// Writes are last-writer-wins, not compare-and-swap: callers must
// serialize turns per session or risk losing an earlier turn's
// increments.
type KVStore struct {
	kv     KeyValue
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	opts   []agentstate.ManagerOption
}

// KVStoreOption configures a KVStore.
type KVStoreOption func(*KVStore)

// WithKeyPrefix sets the key namespace (default "agent-loop").
func WithKeyPrefix(prefix string) KVStoreOption {
	return func(s *KVStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets the expiration applied on every write.
func WithTTL(ttl time.Duration) KVStoreOption {
	return func(s *KVStore) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger for persistence failures.
func WithLogger(logger *slog.Logger) KVStoreOption {
	return func(s *KVStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithManagerOptions sets options applied to every manager the store
// constructs or restores.
func WithManagerOptions(opts ...agentstate.ManagerOption) KVStoreOption {
	return func(s *KVStore) {
		s.opts = append(s.opts, opts...)
	}
}

// NewKVStore creates a KVStore over the given KeyValue.
func NewKVStore(kv KeyValue, opts ...KVStoreOption) *KVStore {
	s := &KVStore{
		kv:     kv,
		prefix: "agent-loop",
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// GetOrCreate implements Store. On a hit the stored snapshot is
// deserialized into a fresh manager; on a miss a new manager is created
// from seed and its initial state written through.
func (s *KVStore) GetOrCreate(ctx context.Context, sessionID string, seed agentstate.Seed) (Manager, error) {
	data, found, err := s.kv.Get(ctx, s.key(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if found {
		inner, err := agentstate.FromJSON(data, s.opts...)
		if err != nil {
			return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
		}
		return s.wrap(inner), nil
	}

	inner := agentstate.NewManager(sessionID, seed, s.opts...)
	pm := s.wrap(inner)
	pm.save()
	return pm, nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, sessionID string) (Manager, bool, error) {
	data, found, err := s.kv.Get(ctx, s.key(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !found {
		return nil, false, nil
	}
	inner, err := agentstate.FromJSON(data, s.opts...)
	if err != nil {
		return nil, false, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	return s.wrap(inner), true, nil
}

// Delete implements Store.
func (s *KVStore) Delete(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, s.key(sessionID))
}

// List implements Store.
func (s *KVStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+":")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, s.prefix+":"))
	}
	return ids, nil
}

func (s *KVStore) wrap(inner *agentstate.Manager) *PersistentManager {
	return &PersistentManager{
		inner:  inner,
		store:  s,
		logger: s.logger,
	}
}

// saveState writes a serialized snapshot, refreshing its TTL.
func (s *KVStore) saveState(sessionID string, data []byte) error {
	return s.kv.Set(context.Background(), s.key(sessionID), data, s.ttl)
}
