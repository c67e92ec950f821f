// Package config provides application configuration management for proctail.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the proctail configuration.
type Config struct {
	Viewer    ViewerConfig    `toml:"viewer"`
	Stream    StreamConfig    `toml:"stream"`
	Collector CollectorConfig `toml:"collector"`
}

// ViewerConfig holds terminal viewer settings. Sizes are in terminal lines.
type ViewerConfig struct {
	NearBottomThreshold int  `toml:"near_bottom_threshold"` // distance from the tail that keeps autoscroll on
	Overscan            int  `toml:"overscan"`              // rows rendered beyond each viewport edge
	EstimatedHeight     int  `toml:"estimated_height"`      // height assumed for rows not yet measured
	Markdown            bool `toml:"markdown"`              // render assistant messages as markdown
}

// StreamConfig holds settings for reaching a collector.
type StreamConfig struct {
	CollectorURL string `toml:"collector_url"` // empty = discover a local collector
	Token        string `toml:"token"`
	PollInterval string `toml:"poll_interval"` // e.g. "5s"
}

// PollDuration returns the parsed poll interval (default: 5s).
func (c StreamConfig) PollDuration() time.Duration {
	if c.PollInterval != "" {
		if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Second
}

// CollectorConfig holds settings for proctail serve.
type CollectorConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Token      string `toml:"token"`
	RetainDone string `toml:"retain_done"` // how long finished processes stay listed
}

// RetainDuration returns the parsed retention (default: 30m).
func (c CollectorConfig) RetainDuration() time.Duration {
	if c.RetainDone != "" {
		if d, err := time.ParseDuration(c.RetainDone); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Minute
}

// Dir returns the path to the .proctail directory. PROCTAIL_HOME overrides it.
func Dir() (string, error) {
	if dir := os.Getenv("PROCTAIL_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".proctail"), nil
}

// Path returns the path to the main config file.
func Path() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// Load loads the configuration from ~/.proctail/config.toml. A missing file
// yields the defaults, which are written to disk for the user to edit.
func Load() (Config, error) {
	configPath, err := Path()
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if saveErr := Save(cfg); saveErr != nil {
			return cfg, nil // return defaults even if save fails
		}
		return cfg, nil
	} else if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing keys get correct values.
	config := Default()
	md, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("parse %s: unknown key %q", configPath, undecoded[0].String())
	}

	config.Viewer = config.Viewer.withDefaults()
	return config, nil
}

// Default returns a default configuration with all defaults set.
func Default() Config {
	return Config{
		Viewer: ViewerConfig{
			NearBottomThreshold: 5,
			Overscan:            5,
			EstimatedHeight:     3,
			Markdown:            true,
		},
		Stream: StreamConfig{
			PollInterval: "5s",
		},
		Collector: CollectorConfig{
			Host:       "localhost",
			Port:       8785,
			RetainDone: "30m",
		},
	}
}

// withDefaults replaces out-of-range viewer values with their defaults.
func (v ViewerConfig) withDefaults() ViewerConfig {
	d := Default().Viewer
	if v.NearBottomThreshold <= 0 {
		v.NearBottomThreshold = d.NearBottomThreshold
	}
	if v.Overscan < 0 {
		v.Overscan = d.Overscan
	}
	if v.EstimatedHeight <= 0 {
		v.EstimatedHeight = d.EstimatedHeight
	}
	return v
}

// Save saves the configuration to ~/.proctail/config.toml.
func Save(config Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(configPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
