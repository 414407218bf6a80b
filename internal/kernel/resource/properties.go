package resource

import "strconv"

// Properties is an opaque key/value bag attached to slices, resource
// requests, and reservation configuration. Keys and values are free-form
// strings; typed accessors cover the common numeric/boolean cases without
// forcing every caller to parse.
type Properties map[string]string

// Clone returns a shallow copy of p.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// GetInt parses key as an int, returning def if absent or unparseable.
func (p Properties) GetInt(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool parses key as a bool, returning def if absent or unparseable.
func (p Properties) GetBool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
