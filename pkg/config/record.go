package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is the raw configuration document: a mapping of named sections to
// values, exactly as decoded from JSON.
type Record map[string]interface{}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return Record(cloneMap(r))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case Record:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Get returns the value at a dotted path such as "hashi.port".
func (r Record) Get(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at a dotted path, creating intermediate sections.
// A non-object value in the way is replaced by a fresh section.
func (r Record) Set(path string, value interface{}) {
	keys := strings.Split(path, ".")
	cur := map[string]interface{}(r)
	for _, key := range keys[:len(keys)-1] {
		next, ok := asMap(cur[key])
		if !ok {
			next = map[string]interface{}{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// Merge fills every key missing from r with the value from defaults,
// recursing into sections present in both. Existing values win.
func (r Record) Merge(defaults Record) {
	mergeInto(r, defaults)
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = cloneValue(v)
			continue
		}
		dm, dok := asMap(existing)
		sm, sok := asMap(v)
		if dok && sok {
			mergeInto(dm, sm)
		}
	}
}

// Keys returns the top-level section names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalIndent renders the record the way it is stored on disk.
func (r Record) MarshalIndent() ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	data, err := json.MarshalIndent(map[string]interface{}(r), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append(data, '\n'), nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

// section returns a sub-mapping or an empty one.
func (r Record) section(name string) map[string]interface{} {
	if m, ok := asMap(r[name]); ok {
		return m
	}
	return map[string]interface{}{}
}

func getString(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return def
}

// getNumber accepts JSON numbers and numeric strings, mirroring how the
// setup flow has written values over time.
func getNumber(m map[string]interface{}, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err == nil {
			return f
		}
	}
	return def
}

// getBool treats only an explicit JSON boolean as a value; anything else
// falls back to def.
func getBool(m map[string]interface{}, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

func getStrings(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return strings.Fields(v)
	}
	return nil
}
