// Package config holds the per-streamer configuration used by the capture loop.
//
// A streamer config file is a line oriented list of KEY=VALUE pairs:
//
//	STREAM_SOURCE="twitch"            # trailing comments are allowed
//	VIDEO_TITLE="$STREAMER_NAME - $TIME_DATE"
//	STREAMLINK_FLAGS=("--twitch-disable-ads" "--retry-streams 30")
//
// Values are either a single string or an ordered list of strings. Placeholders
// inside string values are expanded by Resolve. Process level settings (log
// level, directories, retry cadence) come from the environment, see Settings.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Value is either a single string or a list of strings.
type Value struct {
	Str    string
	List   []string
	IsList bool
}

// Config maps field names to values. Lookups never fail; missing fields read as
// empty. Insertion order is kept for diagnostics only.
type Config struct {
	order  []string
	fields map[string]Value
}

// New returns an empty Config.
func New() *Config {
	return &Config{fields: map[string]Value{}}
}

// LoadFile parses the config file at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Parse reads KEY=VALUE lines. Blank lines, comment lines and lines without
// '=' are skipped.
func Parse(r io.Reader) (*Config, error) {
	c := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		raw = strings.TrimSpace(stripComment(raw))
		if strings.HasPrefix(raw, "(") {
			c.SetList(key, parseList(raw))
			continue
		}
		c.Set(key, parseScalar(raw))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// stripComment cuts the value at the first '#' that is not inside double quotes.
func stripComment(s string) string {
	inQuote := false
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return s[:i]
			}
		}
	}
	return s
}

// parseList returns the quoted items between '(' and ')'.
func parseList(s string) []string {
	s = strings.TrimPrefix(s, "(")
	if i := strings.LastIndex(s, ")"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, `"`)
	out := []string{}
	for i := 1; i < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return out
}

// parseScalar unquotes a value. Quoted segments are trimmed, unquoted segments
// are kept as they are.
func parseScalar(s string) string {
	parts := strings.Split(s, `"`)
	var b strings.Builder
	for i, p := range parts {
		if i%2 == 1 {
			p = strings.TrimSpace(p)
		}
		b.WriteString(p)
	}
	return b.String()
}

// Lookup returns the raw value stored under key.
func (c *Config) Lookup(key string) (Value, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// Get returns the string value of key, or "" when missing or a list.
func (c *Config) Get(key string) string {
	v, ok := c.fields[key]
	if !ok || v.IsList {
		return ""
	}
	return v.Str
}

// GetOr returns the string value of key, or def when the key is missing.
func (c *Config) GetOr(key, def string) string {
	v, ok := c.fields[key]
	if !ok || v.IsList {
		return def
	}
	return v.Str
}

// List returns the list value of key, or nil when missing or a string.
func (c *Config) List(key string) []string {
	v, ok := c.fields[key]
	if !ok || !v.IsList {
		return nil
	}
	return append([]string(nil), v.List...)
}

// IsTrue reports whether key holds the literal "true".
func (c *Config) IsTrue(key string) bool { return c.Get(key) == "true" }

// Set stores a string value.
func (c *Config) Set(key, value string) { c.put(key, Value{Str: value}) }

// SetList stores a list value.
func (c *Config) SetList(key string, values []string) {
	c.put(key, Value{List: append([]string(nil), values...), IsList: true})
}

func (c *Config) put(key string, v Value) {
	if _, ok := c.fields[key]; !ok {
		c.order = append(c.order, key)
	}
	c.fields[key] = v
}

// Delete removes key.
func (c *Config) Delete(key string) {
	if _, ok := c.fields[key]; !ok {
		return
	}
	delete(c.fields, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (c *Config) Keys() []string { return append([]string(nil), c.order...) }

// Len returns the number of fields.
func (c *Config) Len() int { return len(c.order) }

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := &Config{order: append([]string(nil), c.order...), fields: make(map[string]Value, len(c.fields))}
	for k, v := range c.fields {
		if v.IsList {
			v.List = append([]string(nil), v.List...)
		}
		out.fields[k] = v
	}
	return out
}

// Equal reports whether both configs hold the same fields and values.
func (c *Config) Equal(o *Config) bool {
	if len(c.fields) != len(o.fields) {
		return false
	}
	for k, v := range c.fields {
		w, ok := o.fields[k]
		if !ok || v.IsList != w.IsList || v.Str != w.Str || len(v.List) != len(w.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != w.List[i] {
				return false
			}
		}
	}
	return true
}

// String renders the config one field per line, in insertion order.
func (c *Config) String() string {
	var b strings.Builder
	for _, k := range c.order {
		v := c.fields[k]
		if v.IsList {
			fmt.Fprintf(&b, "%s=%q\n", k, v.List)
			continue
		}
		fmt.Fprintf(&b, "%s=%q\n", k, v.Str)
	}
	return b.String()
}
