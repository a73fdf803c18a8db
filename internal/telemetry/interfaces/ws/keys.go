package ws

import "strings"

// ParseKeys splits a comma separated key filter into distinct keys, keeping
// first-seen order. ok is false when the filter names no key, which callers
// treat as "all keys".
func ParseKeys(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, false
	}
	return keys, true
}
