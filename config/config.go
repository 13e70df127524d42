// Package config is the configuration collaborator: a plain option getter,
// not a parser. CLI dispatch and file/ini loading are out of scope (see
// spec.md §1); callers of this package are only ever handed values that
// were already resolved elsewhere.
package config

import "strconv"

// Options is the minimal "option -> value" accessor spec.md's collaborator
// contract requires, modeled on rclone's fs/config/configmap.Mapper getter
// shape.
type Options interface {
	// Get returns the value for key and whether it was set.
	Get(key string) (value string, ok bool)
}

// Map is a simple in-memory Options backed by a map, sufficient for wiring
// tests and the cmd harness without a parser.
type Map map[string]string

// Get implements Options.
func (m Map) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// String returns the value for key, or def if unset.
func String(o Options, key, def string) string {
	if v, ok := o.Get(key); ok {
		return v
	}
	return def
}

// Int returns the integer value for key, or def if unset or unparseable.
func Int(o Options, key string, def int) int {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean value for key, or def if unset or unparseable.
func Bool(o Options, key string, def bool) bool {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
