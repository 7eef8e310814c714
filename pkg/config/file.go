package config

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Target   targetSection   `toml:"target"`
	Tape     tapeSection     `toml:"tape"`
	Passes   map[string]bool `toml:"passes"`
	Warnings map[string]bool `toml:"warnings"`
}

type targetSection struct {
	Qbe string `toml:"qbe"`
}

type tapeSection struct {
	Size int64 `toml:"size"`
}

// LoadFile applies a TOML configuration file on top of the current settings.
// It returns the keys it did not recognize; callers decide whether to warn.
func (c *Config) LoadFile(path string) ([]string, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}

	if meta.IsDefined("target", "qbe") {
		c.QbeTarget = fc.Target.Qbe
	}
	if meta.IsDefined("tape", "size") {
		size, err := safecast.Conv[int](fc.Tape.Size)
		if err != nil {
			return nil, fmt.Errorf("%s: tape.size: %w", path, err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("%s: tape.size must be positive, got %d", path, size)
		}
		c.TapeSize = size
	}

	for _, name := range sortedKeys(fc.Passes) {
		ft, ok := c.FeatureMap[name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown pass '%s'", path, name)
		}
		c.SetFeature(ft, fc.Passes[name])
	}
	for _, name := range sortedKeys(fc.Warnings) {
		if name == "all" {
			c.SetAllWarnings(fc.Warnings[name])
			continue
		}
		wt, ok := c.WarningMap[name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown warning '%s'", path, name)
		}
		c.SetWarning(wt, fc.Warnings[name])
	}

	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return unknown, nil
}

// "all" sorts first, so explicit names override it.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "all":
			return -1
		case b == "all":
			return 1
		case a < b:
			return -1
		default:
			return 1
		}
	})
	return keys
}
