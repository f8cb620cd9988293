package config

import (
	"sort"
	"strings"
)

// Resolve expands placeholders in every string field and returns a new Config.
//
// Two passes run over all fields. The first replaces $($KEY) with the raw value
// of KEY. The second replaces $KEY with the value KEY had after the first pass.
// A field never substitutes itself and list fields are neither sources nor
// targets. Substituted text is not rescanned within the same pass, but $KEY
// text produced by the $($KEY) pass is expanded by the $KEY pass. When several
// keys match at the same position the longest one wins. Unknown placeholders
// stay as written.
func Resolve(c *Config) *Config {
	out := c.Clone()
	keys := stringKeys(c)

	raw := snapshot(c, keys)
	for _, k := range keys {
		out.Set(k, expand(raw[k], k, keys, raw, true))
	}

	first := snapshot(out, keys)
	for _, k := range keys {
		out.Set(k, expand(first[k], k, keys, first, false))
	}
	return out
}

// stringKeys returns the names of string fields, longest first.
func stringKeys(c *Config) []string {
	keys := make([]string, 0, len(c.fields))
	for k, v := range c.fields {
		if !v.IsList {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func snapshot(c *Config, keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = c.Get(k)
	}
	return m
}

// expand performs a single left to right scan of s.
func expand(s, self string, keys []string, vals map[string]string, selfRef bool) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if name, n, ok := match(s[i:], self, keys, selfRef); ok {
			b.WriteString(vals[name])
			i += n
			continue
		}
		b.WriteByte('$')
		i++
	}
	return b.String()
}

// match reports the key referenced at the start of s and the placeholder length.
func match(s, self string, keys []string, selfRef bool) (string, int, bool) {
	if selfRef {
		if !strings.HasPrefix(s, "$($") {
			return "", 0, false
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return "", 0, false
		}
		name := s[3:end]
		for _, k := range keys {
			if k == name && k != self {
				return k, end + 1, true
			}
		}
		return "", 0, false
	}
	for _, k := range keys {
		if k == self {
			continue
		}
		if strings.HasPrefix(s[1:], k) {
			return k, len(k) + 1, true
		}
	}
	return "", 0, false
}
