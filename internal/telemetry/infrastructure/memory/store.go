package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// Store is an in-memory time series and attribute store.
type Store struct {
	mu         sync.RWMutex
	series     map[string]map[string][]telemetry.TsKvEntry
	attributes map[attributeKey]map[string]telemetry.AttributeKvEntry
}

type attributeKey struct {
	deviceID string
	scope    string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		series:     make(map[string]map[string][]telemetry.TsKvEntry),
		attributes: make(map[attributeKey]map[string]telemetry.AttributeKvEntry),
	}
}

// Save stores samples, replacing an existing sample with the same key and ts.
func (s *Store) Save(ctx context.Context, deviceID string, entries []telemetry.TsKvEntry) error {
	_ = ctx
	if deviceID == "" {
		return errors.New("memory store: empty device id")
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.series[deviceID]
	if byKey == nil {
		byKey = make(map[string][]telemetry.TsKvEntry)
		s.series[deviceID] = byKey
	}
	for _, entry := range entries {
		samples := byKey[entry.Key]
		idx := sort.Search(len(samples), func(i int) bool { return samples[i].TS >= entry.TS })
		if idx < len(samples) && samples[idx].TS == entry.TS {
			samples[idx] = entry
			continue
		}
		samples = append(samples, telemetry.TsKvEntry{})
		copy(samples[idx+1:], samples[idx:])
		samples[idx] = entry
		byKey[entry.Key] = samples
	}
	return nil
}

// LoadRange returns samples within [startTS, endTS].
func (s *Store) LoadRange(ctx context.Context, deviceID, key string, startTS, endTS int64) ([]telemetry.TsKvEntry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]telemetry.TsKvEntry, 0)
	for _, entry := range s.series[deviceID][key] {
		if entry.TS >= startTS && entry.TS <= endTS {
			result = append(result, entry)
		}
	}
	return result, nil
}

// LoadLatest returns the newest sample per key.
func (s *Store) LoadLatest(ctx context.Context, deviceID string, keys []string) ([]telemetry.TsKvEntry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.series[deviceID]
	if keys == nil {
		keys = make([]string, 0, len(byKey))
		for key := range byKey {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	result := make([]telemetry.TsKvEntry, 0, len(keys))
	for _, key := range keys {
		samples := byKey[key]
		if len(samples) == 0 {
			continue
		}
		result = append(result, samples[len(samples)-1])
	}
	return result, nil
}

// SaveAttributes stores attribute values; an older update never replaces a newer one.
func (s *Store) SaveAttributes(ctx context.Context, deviceID, scope string, entries []telemetry.AttributeKvEntry) error {
	_ = ctx
	if deviceID == "" || scope == "" {
		return errors.New("memory store: invalid arguments")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := attributeKey{deviceID: deviceID, scope: scope}
	current := s.attributes[k]
	if current == nil {
		current = make(map[string]telemetry.AttributeKvEntry)
		s.attributes[k] = current
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
		if existing, ok := current[entry.Key]; ok && existing.LastUpdateTS > entry.LastUpdateTS {
			continue
		}
		current[entry.Key] = entry
	}
	return nil
}

// LoadAttributes returns attributes of a scope, optionally restricted to keys.
func (s *Store) LoadAttributes(ctx context.Context, deviceID, scope string, keys []string) ([]telemetry.AttributeKvEntry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := s.attributes[attributeKey{deviceID: deviceID, scope: scope}]
	result := make([]telemetry.AttributeKvEntry, 0)
	if keys == nil {
		for _, entry := range current {
			result = append(result, entry)
		}
		sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
		return result, nil
	}
	for _, key := range keys {
		if entry, ok := current[key]; ok {
			result = append(result, entry)
		}
	}
	return result, nil
}

// Attributes adapts the store to telemetry.AttributeRepository.
func (s *Store) Attributes() telemetry.AttributeRepository {
	return attributeView{store: s}
}

type attributeView struct {
	store *Store
}

func (v attributeView) Save(ctx context.Context, deviceID, scope string, entries []telemetry.AttributeKvEntry) error {
	return v.store.SaveAttributes(ctx, deviceID, scope, entries)
}

func (v attributeView) Load(ctx context.Context, deviceID, scope string, keys []string) ([]telemetry.AttributeKvEntry, error) {
	return v.store.LoadAttributes(ctx, deviceID, scope, keys)
}
