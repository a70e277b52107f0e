// Package contextstore holds the session-scoped key/value context that is
// injected into every outgoing turn and merged from every provider response.
package contextstore

import (
	"encoding/json"
	"fmt"
	"sync"

	apperrors "cognigy-connector/internal/common/errors"
)

// Provider-internal keys that never count as user context.
var reservedKeys = map[string]struct{}{
	"_cognigy": {},
	"_plugin":  {},
	"_data":    {},
	"linear":   {},
	"loop":     {},
	"type":     {},
}

// IsReserved reports whether key belongs to the provider's internal metadata.
func IsReserved(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// Strip returns a copy of m without reserved keys, or nil when nothing remains.
func Strip(m map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for k, v := range m {
		if IsReserved(k) {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(m))
		}
		out[k] = deepCopy(v)
	}
	return out
}

// ParseSeed accepts a decoded object or a JSON-encoded string. A nil seed or
// an empty string yields an empty mapping.
func ParseSeed(seed interface{}) (map[string]interface{}, error) {
	switch v := seed.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case string:
		if v == "" {
			return map[string]interface{}{}, nil
		}
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, apperrors.NewConfigurationError("connector.context is not a valid JSON object", err)
		}
		if out == nil {
			out = map[string]interface{}{}
		}
		return out, nil
	case []byte:
		return ParseSeed(string(v))
	case map[string]interface{}:
		return deepCopy(v).(map[string]interface{}), nil
	default:
		// Normalize other decoded shapes (map[interface{}]interface{}, structs)
		// through JSON so the store only ever holds JSON-compatible values.
		data, err := json.Marshal(normalizeKeys(v))
		if err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("connector.context of type %T is not JSON compatible", seed), err)
		}
		var out map[string]interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, apperrors.NewConfigurationError("connector.context must be an object", err)
		}
		if out == nil {
			out = map[string]interface{}{}
		}
		return out, nil
	}
}

// Store is safe for concurrent use; streaming sessions merge from several
// goroutines.
type Store struct {
	mu   sync.RWMutex
	seed map[string]interface{}
	live map[string]interface{}
}

// New parses the seed and makes it the live context.
func New(seed interface{}) (*Store, error) {
	s := &Store{}
	if err := s.Initialize(seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize replaces both the remembered seed and the live context.
func (s *Store) Initialize(seed interface{}) error {
	parsed, err := ParseSeed(seed)
	if err != nil {
		return err
	}
	stripped := Strip(parsed)
	if stripped == nil {
		stripped = map[string]interface{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = stripped
	s.live = deepCopy(stripped).(map[string]interface{})
	return nil
}

// Reset restores the live context to the remembered seed.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == nil {
		s.live = map[string]interface{}{}
		return
	}
	s.live = deepCopy(s.seed).(map[string]interface{})
}

// Merge sets or overwrites every non-reserved key of incoming. It reports
// whether any user field was accepted.
func (s *Store) Merge(incoming map[string]interface{}) bool {
	accepted := Strip(incoming)
	if len(accepted) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		s.live = make(map[string]interface{}, len(accepted))
	}
	for k, v := range accepted {
		s.live[k] = v
	}
	return true
}

// Snapshot returns a deep copy of the live context.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live == nil {
		return map[string]interface{}{}
	}
	return deepCopy(s.live).(map[string]interface{})
}

// Clear empties the live context. The seed is kept for the next Reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = map[string]interface{}{}
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func normalizeKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeKeys(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}
