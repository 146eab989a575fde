package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CustomKey is the top-level section holding workflow-specific settings.
const CustomKey = "custom"

// Keys read from the custom section.
const (
	RootDataDirKey    = "dlc_root_data_dir"
	OutputDirKey      = "dlc_output_dir"
	DatabasePrefixKey = "database.prefix"
)

// Config is a read-only snapshot of the workflow configuration mapping.
// The layout follows dj_local_conf.json: top-level keys may be dotted
// literals ("database.host") or nested mappings, and workflow settings
// live under the "custom" section.
type Config struct {
	values map[string]any
}

// New returns a snapshot of values. The input is deep-copied so later
// changes by the caller are not observed, and an empty custom section is
// inserted when absent.
func New(values map[string]any) *Config {
	cp := copyMap(values)
	if cp == nil {
		cp = make(map[string]any)
	}
	if _, ok := cp[CustomKey].(map[string]any); !ok {
		cp[CustomKey] = map[string]any{}
	}
	return &Config{values: cp}
}

// Default returns an empty configuration with only the custom section.
func Default() *Config {
	return New(nil)
}

// Get looks up a top-level key. A literal dotted key takes precedence over
// the equivalent nested path.
func (c *Config) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return lookup(c.values, key)
}

// Custom looks up a key inside the custom section.
func (c *Config) Custom(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	custom, _ := c.values[CustomKey].(map[string]any)
	return lookup(custom, key)
}

// String returns the top-level key formatted as a string, or def when the
// key is unset or empty.
func (c *Config) String(key, def string) string {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	if s := stringify(v); s != "" {
		return s
	}
	return def
}

// DatabasePrefix returns custom.database.prefix, or "" when unset.
func (c *Config) DatabasePrefix() string {
	v, ok := c.Custom(DatabasePrefixKey)
	if !ok {
		return ""
	}
	return stringify(v)
}

// With returns a copy of c with the top-level key set to v.
func (c *Config) With(key string, v any) *Config {
	next := New(c.snapshot())
	next.values[key] = copyValue(v)
	return next
}

// WithCustom returns a copy of c with custom[key] set to v.
func (c *Config) WithCustom(key string, v any) *Config {
	next := New(c.snapshot())
	next.values[CustomKey].(map[string]any)[key] = copyValue(v)
	return next
}

// Map returns a deep copy of the underlying mapping.
func (c *Config) Map() map[string]any {
	return copyMap(c.snapshot())
}

func (c *Config) snapshot() map[string]any {
	if c == nil {
		return nil
	}
	return c.values
}

// Database describes the backing store connection.
type Database struct {
	Backend  string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Default connection settings.
const (
	DefaultBackend    = "sqlite"
	DefaultSQLitePath = "dlc_workflow.db"
	DefaultHost       = "localhost"
	DefaultPort       = 5432
	DefaultUser       = "postgres"
	DefaultName       = "dlc"
)

// Database returns the connection settings with defaults applied.
func (c *Config) Database() (Database, error) {
	db := Database{
		Backend:  strings.ToLower(c.String("database.backend", DefaultBackend)),
		Path:     c.String("database.path", DefaultSQLitePath),
		Host:     c.String("database.host", DefaultHost),
		Port:     DefaultPort,
		User:     c.String("database.user", DefaultUser),
		Password: c.String("database.password", ""),
		Name:     c.String("database.name", DefaultName),
	}
	if raw := c.String("database.port", ""); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Database{}, fmt.Errorf("invalid database.port %q: %w", raw, err)
		}
		db.Port = port
	}
	switch db.Backend {
	case "sqlite", "postgres":
	default:
		return Database{}, fmt.Errorf("unsupported database.backend %q", db.Backend)
	}
	return db, nil
}

// lookup resolves key in m, first as a literal key and then by descending
// into nested mappings at each dot.
func lookup(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	for i := 0; i < len(key); i++ {
		if key[i] != '.' {
			continue
		}
		sub, ok := m[key[:i]].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := lookup(sub, key[i+1:]); ok {
			return v, true
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
