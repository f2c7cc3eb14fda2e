package gps

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the receiver state. Values are
// scalars, time.Time, or slices that are never mutated after insertion.
type Snapshot map[string]any

func (s Snapshot) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (s Snapshot) Int(key string) (int, bool) {
	v, ok := s[key].(int)
	return v, ok
}

func (s Snapshot) Text(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

func (s Snapshot) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

func (s Snapshot) Time(key string) (time.Time, bool) {
	v, ok := s[key].(time.Time)
	return v, ok
}

// TimestampKey returns the timestamp field name for a message group. The
// base group uses "timestamp".
func TimestampKey(group string) string {
	if group == "" {
		return "timestamp"
	}
	return group + "_timestamp"
}

// Store holds the last known value of every receiver field. Each Update is
// applied atomically with respect to Snapshot.
type Store struct {
	mu      sync.RWMutex
	fields  map[string]any
	updates uint64
}

func NewStore() *Store {
	return &Store{fields: make(map[string]any)}
}

// Update merges fields and stamps the group's timestamp with now.
func (s *Store) Update(group string, fields map[string]any, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		s.fields[k] = v
	}
	s.fields[TimestampKey(group)] = now.UTC()
	s.updates++
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Updates is the number of Update calls so far.
func (s *Store) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
