package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/datajoint/workflow-deeplabcut/internal/fsutil"
)

// DefaultConfigPath is the file read when no -config flag is given.
const DefaultConfigPath = "dj_local_conf.json"

// maxFileSize bounds configuration files (1MB).
const maxFileSize = 1 * 1024 * 1024

// ErrUnsupportedFormat is returned for files that are neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Load reads a configuration file from disk.
func Load(path string) (*Config, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS reads a JSON (.json) or YAML (.yaml, .yml) configuration file
// from fsys. Keys omitted from the file fall back to defaults at lookup
// time, so partial files are fine.
func LoadFS(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)

	var decode func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		decode = json.Unmarshal
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	values := map[string]any{}
	if err := decode(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	if custom, ok := values[CustomKey]; ok && custom != nil {
		if _, ok := custom.(map[string]any); !ok {
			return nil, fmt.Errorf("config section %q must be a mapping, got %T", CustomKey, custom)
		}
	}
	return New(values), nil
}

// LoadOrDefault behaves like Load but returns Default when path does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// envOverrides maps environment variables onto top-level keys.
var envOverrides = []struct {
	env string
	key string
}{
	{"DJ_HOST", "database.host"},
	{"DJ_PORT", "database.port"},
	{"DJ_USER", "database.user"},
	{"DJ_PASS", "database.password"},
}

// ApplyEnv loads the given dotenv files (".env" when none are given; a
// missing file is not an error) and overlays the DJ_* connection
// variables on top of c.
func ApplyEnv(c *Config, envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)
	return OverlayEnv(c, os.Getenv)
}

// OverlayEnv returns a copy of c with every non-empty DJ_* variable
// reported by getenv applied.
func OverlayEnv(c *Config, getenv func(string) string) *Config {
	out := c
	if out == nil {
		out = Default()
	}
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.env)); v != "" {
			out = out.With(o.key, v)
		}
	}
	return out
}
