package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config file locations.
const (
	// GlobalConfigDir is the directory under $XDG_CONFIG_HOME (or ~/.config).
	GlobalConfigDir = "hopctl"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// ProjectConfigDir is the per-project directory, relative to the cwd.
	ProjectConfigDir = ".hopctl"
	// ProjectConfigFile is the project config file name.
	ProjectConfigFile = "config.yaml"
)

// LoadConfig loads configuration with this precedence, lowest first:
//
//  1. Default()
//  2. ~/.config/hopctl/config.yaml
//  3. .hopctl/config.yaml
//  4. the file named by the "config" key (--config or HOPCTL_CONFIG)
//  5. HOPCTL_* environment variables and flags bound to v
//
// Missing global and project files are skipped; a missing explicit file is
// an error. The result has "~" expanded in paths and is validated.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg, _, err := LoadConfigFiles(v)
	return cfg, err
}

// LoadConfigFiles is LoadConfig that also reports which files were read,
// in the order they were applied.
func LoadConfigFiles(v *viper.Viper) (*Config, []string, error) {
	cfg := Default()

	defaults, err := toMap(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, nil, err
	}

	var loaded []string
	for _, path := range []string{globalConfigPath(), projectConfigPath()} {
		if path == "" {
			continue
		}
		if err := mergeFile(v, path); err != nil {
			return nil, nil, err
		}
		loaded = append(loaded, path)
	}

	if explicit := v.GetString("config"); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, nil, fmt.Errorf("config file: %w", err)
		}
		if err := mergeFile(v, explicit); err != nil {
			return nil, nil, err
		}
		loaded = append(loaded, explicit)
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loaded, nil
}

// globalConfigPath returns the global config file if it exists.
func globalConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return existing(filepath.Join(dir, GlobalConfigDir, GlobalConfigFile))
}

// projectConfigPath returns the project config file if it exists.
func projectConfigPath() string {
	return existing(filepath.Join(ProjectConfigDir, ProjectConfigFile))
}

func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// mergeFile reads a YAML file into a scratch viper and merges its settings
// into v, so each layer only overrides the keys it sets.
func mergeFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	layer := viper.New()
	layer.SetConfigType("yaml")
	if err := layer.ReadConfig(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return v.MergeConfigMap(layer.AllSettings())
}

// expandPaths replaces a leading "~" with the home directory.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.WorkDir, &c.Paths.Log, &c.Paths.DebugLog} {
		if *p != "~" && !strings.HasPrefix(*p, "~/") {
			continue
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = filepath.Join(home, strings.TrimPrefix(*p, "~"))
	}
	return nil
}

// toMap flattens cfg into the nested map viper merges, with durations as
// strings so they round-trip through the same hook as YAML values.
func toMap(cfg *Config) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  &out,
		DecodeHook: func(from, _ reflect.Type, data any) (any, error) {
			if d, ok := data.(time.Duration); ok && from == reflect.TypeOf(d) {
				return d.String(), nil
			}
			return data, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return out, nil
}
