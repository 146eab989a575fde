// Package paths resolves the raw-data root directories and the processed
// output directory from the workflow configuration.
package paths

import (
	"errors"
	"fmt"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
)

// ErrConfigIncomplete is returned when neither custom.dlc_output_dir nor
// custom.dlc_root_data_dir yields a directory.
var ErrConfigIncomplete = errors.New("configuration incomplete")

// RootDataDirs returns the configured raw-data root directories.
//
// An unset or empty custom.dlc_root_data_dir yields nil. A single path is
// wrapped into a one-element slice; a sequence is returned in order with
// its element count preserved. A []string value is returned as stored, so
// callers must not modify the result.
func RootDataDirs(cfg *config.Config) []string {
	v, ok := cfg.Custom(config.RootDataDirKey)
	if !ok || !truthy(v) {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		dirs := make([]string, len(t))
		for i, e := range t {
			dirs[i] = asString(e)
		}
		return dirs
	default:
		return []string{asString(t)}
	}
}

// ProcessedDataDir returns custom.dlc_output_dir when set, falling back to
// the first root data directory. It fails with ErrConfigIncomplete when
// neither is configured.
func ProcessedDataDir(cfg *config.Config) (string, error) {
	if v, ok := cfg.Custom(config.OutputDirKey); ok && truthy(v) {
		return asString(v), nil
	}
	roots := RootDataDirs(cfg)
	if len(roots) == 0 {
		return "", fmt.Errorf("%w: custom.%s is unset and custom.%s has no entries",
			ErrConfigIncomplete, config.OutputDirKey, config.RootDataDirKey)
	}
	return roots[0], nil
}

// truthy mirrors the configuration file's notion of an empty value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
