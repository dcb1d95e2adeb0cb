// Package config loads the alarmd daemon configuration from a TOML file,
// fills defaults for anything unset, and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adhocore/gronx"

	"github.com/Coolhgg/alarmd/common"
)

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the daemon. Zero values are replaced by
// defaults in Load, so a partial (or absent) config file is fine.
type Config struct {
	// Addr is the listen address for the bus and gateway HTTP server.
	Addr string `toml:"addr"`
	// Origin is the upstream app origin the gateway fronts.
	Origin string `toml:"origin"`
	// CachePath is the SQLite file backing the cache generation store.
	CachePath string `toml:"cache_path"`
	// ShellDir is the directory holding the static shell assets to precache.
	ShellDir string `toml:"shell_dir"`

	EvalInterval Duration `toml:"eval_interval"`
	SnoozeDelay  Duration `toml:"snooze_delay"`
	// NavTimeout bounds network-first fetches for navigations; APITimeout
	// bounds the rest. NavTimeout should be the shorter of the two to keep
	// the user-facing load path fast.
	NavTimeout Duration `toml:"nav_timeout"`
	APITimeout Duration `toml:"api_timeout"`

	// CheckCron schedules the periodic alarm-check re-evaluation. Occurrences
	// closer together than the minimum-interval floor are pushed apart.
	CheckCron      string   `toml:"check_cron"`
	SyncRetryDelay Duration `toml:"sync_retry_delay"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Addr:           "127.0.0.1:7643",
		Origin:         "http://127.0.0.1:3000",
		CachePath:      defaultCachePath(),
		ShellDir:       "",
		EvalInterval:   Duration(common.DefEvalInterval),
		SnoozeDelay:    Duration(common.DefSnoozeDelay),
		NavTimeout:     Duration(3 * time.Second),
		APITimeout:     Duration(5 * time.Second),
		CheckCron:      "*/5 * * * *",
		SyncRetryDelay: Duration(common.DefSyncRetryDelay),
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "alarmd-cache.db"
	}
	return dir + "/alarmd/cache.db"
}

// Load reads path if it exists, overlays it on Default, applies ALARMD_ADDR
// and ALARMD_ORIGIN environment overrides, and validates. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}
	if v := os.Getenv("ALARMD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("ALARMD_ORIGIN"); v != "" {
		cfg.Origin = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: origin %q is not an absolute URL", c.Origin)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: origin scheme %q is not http(s)", u.Scheme)
	}
	if c.EvalInterval.Std() <= 0 {
		return errors.New("config: eval_interval must be positive")
	}
	if c.SnoozeDelay.Std() <= 0 {
		return errors.New("config: snooze_delay must be positive")
	}
	if c.NavTimeout.Std() <= 0 || c.APITimeout.Std() <= 0 {
		return errors.New("config: nav_timeout and api_timeout must be positive")
	}
	if c.CheckCron != "" && !gronx.New().IsValid(c.CheckCron) {
		return fmt.Errorf("config: check_cron %q is not a valid cron expression", c.CheckCron)
	}
	if c.SyncRetryDelay.Std() <= 0 {
		return errors.New("config: sync_retry_delay must be positive")
	}
	return nil
}

// OriginURL returns the parsed upstream origin. Validate must have passed.
func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}
