package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

// MemoryStore keeps entities as encoded JSON in process memory. Values are
// encoded on save so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]map[string][]byte
}

var _ aggregator.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, kind, id string, dst any) (bool, error) {
	s.mu.RLock()
	data, ok := s.entities[kind][id]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

func (s *MemoryStore) Save(_ context.Context, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(kind, id, data)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities[kind], id)
	return nil
}

func (s *MemoryStore) put(kind, id string, data []byte) {
	byID, ok := s.entities[kind]
	if !ok {
		byID = make(map[string][]byte)
		s.entities[kind] = byID
	}
	byID[id] = data
}

// Atomically stages fn's writes and applies them only if fn succeeds.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(aggregator.Repository) error) error {
	tx := &memoryTx{store: s, writes: make(map[memoryKey][]byte)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range tx.order {
		data := tx.writes[key]
		if data == nil {
			delete(s.entities[key.kind], key.id)
			continue
		}
		s.put(key.kind, key.id, data)
	}
	return nil
}

// IDs returns the IDs of all entities of a kind in ascending order.
func (s *MemoryStore) IDs(_ context.Context, kind string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entities[kind]))
	for id := range s.entities[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Dump returns a copy of every stored document, keyed by kind then id.
func (s *MemoryStore) Dump() map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]string, len(s.entities))
	for kind, byID := range s.entities {
		if len(byID) == 0 {
			continue
		}
		docs := make(map[string]string, len(byID))
		for id, data := range byID {
			docs[id] = string(data)
		}
		out[kind] = docs
	}
	return out
}

type memoryKey struct {
	kind string
	id   string
}

// memoryTx buffers writes. A nil value marks a removal.
type memoryTx struct {
	store  *MemoryStore
	writes map[memoryKey][]byte
	order  []memoryKey
}

func (tx *memoryTx) Load(ctx context.Context, kind, id string, dst any) (bool, error) {
	key := memoryKey{kind: kind, id: id}
	if data, staged := tx.writes[key]; staged {
		if data == nil {
			return false, nil
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return false, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
		}
		return true, nil
	}
	return tx.store.Load(ctx, kind, id, dst)
}

func (tx *memoryTx) Save(_ context.Context, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}
	tx.stage(memoryKey{kind: kind, id: id}, data)
	return nil
}

func (tx *memoryTx) Remove(_ context.Context, kind, id string) error {
	tx.stage(memoryKey{kind: kind, id: id}, nil)
	return nil
}

func (tx *memoryTx) stage(key memoryKey, data []byte) {
	if _, seen := tx.writes[key]; !seen {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = data
}
