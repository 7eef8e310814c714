package config

import (
	"fmt"
	"os"
	"strings"

	"modernc.org/libqbe"

	"github.com/xplshn/bflift/pkg/cli"
)

// Feature toggles one optimizer pass.
type Feature int

const (
	FeatFoldMoves Feature = iota
	FeatFoldCells
	FeatClearLoops
	FeatPruneUnreachable
	FeatCount
)

type Warning int

const (
	WarnEmptyLoop Warning = iota
	WarnUnreadableSource
	WarnEmptyInput
	WarnConfigKey
	WarnStaleArtifact
	WarnCount
)

const DefaultTapeSize = 30000

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	TargetArch string
	QbeTarget  string
	WordSize   int
	WordType   string
	TapeSize   int
	Quiet      bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		TapeSize:   DefaultTapeSize,
		WordSize:   8,
		WordType:   "l",
	}

	features := map[Feature]Info{
		FeatFoldMoves:        {"fold-moves", true, "Merge adjacent tape pointer moves."},
		FeatFoldCells:        {"fold-cells", true, "Merge adjacent updates of the current cell."},
		FeatClearLoops:       {"clear-loops", true, "Rewrite '[-]' and '[+]' loops into a single store."},
		FeatPruneUnreachable: {"prune-unreachable", true, "Drop blocks no longer reachable from the entry."},
	}

	warnings := map[Warning]Info{
		WarnEmptyLoop:        {"empty-loop", true, "Warn about '[]', which never terminates once entered."},
		WarnUnreadableSource: {"unreadable-source", true, "Warn when a source file cannot be read and is lifted as empty."},
		WarnEmptyInput:       {"empty-input", false, "Warn when a source holds no instructions at all."},
		WarnConfigKey:        {"config-key", true, "Warn about unknown keys in the configuration file."},
		WarnStaleArtifact:    {"stale-artifact", true, "Warn when a routine artifact no longer matches its source file."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}
	return cfg
}

// SetTarget picks the QBE target, defaulting to the host.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		c.infof("no target specified, defaulting to host target '%s'", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		c.infof("using specified target '%s'", c.QbeTarget)
	}

	c.TargetArch = goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType = 8, "l"
	case "arm", "rv32":
		c.WordSize, c.WordType = 4, "w"
	default:
		fmt.Fprintf(os.Stderr, "bflift: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		fmt.Fprintf(os.Stderr, "bflift: warning: defaulting to 64-bit properties. Compilation may fail.\n")
		c.WordSize, c.WordType = 8, "l"
	}
}

func (c *Config) infof(format string, args ...any) {
	if c.Quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "bflift: info: "+format+"\n", args...)
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// DisableOptimizations turns every pass off.
func (c *Config) DisableOptimizations() {
	for i := Feature(0); i < FeatCount; i++ {
		c.SetFeature(i, false)
	}
}

func (c *Config) SetAllWarnings(enabled bool) {
	for i := Warning(0); i < WarnCount; i++ {
		c.SetWarning(i, enabled)
	}
}

// SetupFlagGroups registers -W<warning>/-Wno-<warning> and -F<pass>/-Fno-<pass>.
// The returned entries are indexed by Warning and Feature respectively.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) ([]cli.FlagGroupEntry, []cli.FlagGroupEntry) {
	warningFlags := make([]cli.FlagGroupEntry, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		warningFlags[i] = cli.FlagGroupEntry{
			Name: info.Name, Prefix: "W", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		}
	}
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning", "Available Warning Flags:", warningFlags)

	featureFlags := make([]cli.FlagGroupEntry, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		featureFlags[i] = cli.FlagGroupEntry{
			Name: info.Name, Prefix: "F", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		}
	}
	fs.AddFlagGroup("Pass Flags", "Enable or disable specific optimizer passes", "pass", "Available Pass Flags:", featureFlags)

	return warningFlags, featureFlags
}

// ApplyFlagGroups copies parsed group flags over the current settings.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}

// FeatureNames lists the enabled passes in pipeline order.
func (c *Config) FeatureNames() []string {
	var names []string
	for i := Feature(0); i < FeatCount; i++ {
		if c.IsFeatureEnabled(i) {
			names = append(names, c.Features[i].Name)
		}
	}
	return names
}

func (c *Config) String() string {
	return fmt.Sprintf("target=%s tape=%d passes=[%s]", c.QbeTarget, c.TapeSize, strings.Join(c.FeatureNames(), ","))
}
