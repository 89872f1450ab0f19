// Package config loads the application's persisted config.json: a
// typed object with defaults for every field, merged over defaults on
// load. A malformed file falls back to defaults entirely rather than
// refusing to start.
package config

import (
	"encoding/json"
	"os"
)

// General holds the fields the core actually reads from config.json;
// everything else in the file (window geometry, theme, etc.) is out of
// scope and passed through untouched by callers that round-trip it.
type General struct {
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	MaxTotalInstances      int    `json:"max_total_instances"`
	CookiesPath            string `json:"cookies_path"`
	CookiesFromBrowser     string `json:"cookies_from_browser"`
}

// Config is the root config.json document.
type Config struct {
	General General `json:"general"`
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		General: General{
			MaxConcurrentDownloads: 4,
			MaxTotalInstances:      10,
		},
	}
}

// CookiesConfigured reports whether a cookie source is set (the
// sentinel "none" and empty string both mean "unset").
func (g General) CookiesConfigured() bool {
	return g.CookiesPath != "" || (g.CookiesFromBrowser != "" && g.CookiesFromBrowser != "none")
}

// Load reads path, merging known fields over the defaults. A missing
// file, malformed JSON, or read error all yield Default() rather than
// an error — the loader never blocks startup on a bad config file.
func Load(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return Default()
	}

	if onDisk.General.MaxConcurrentDownloads > 0 {
		cfg.General.MaxConcurrentDownloads = onDisk.General.MaxConcurrentDownloads
	}
	if onDisk.General.MaxTotalInstances > 0 {
		cfg.General.MaxTotalInstances = onDisk.General.MaxTotalInstances
	}
	cfg.General.CookiesPath = onDisk.General.CookiesPath
	cfg.General.CookiesFromBrowser = onDisk.General.CookiesFromBrowser

	return cfg
}

// Save writes cfg to path as pretty-printed JSON via tmp-then-rename,
// matching the atomicity discipline used for jobs.json.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
