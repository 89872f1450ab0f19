package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.json"))
	if cfg.General.MaxConcurrentDownloads != 4 || cfg.General.MaxTotalInstances != 10 {
		t.Errorf("expected defaults, got %+v", cfg.General)
	}
}

func TestLoadMalformedFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	if cfg.General.MaxConcurrentDownloads != 4 {
		t.Errorf("expected default on malformed file, got %+v", cfg.General)
	}
}

func TestLoadMergesKnownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"general":{"max_concurrent_downloads":2,"unknown_field":"x"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	if cfg.General.MaxConcurrentDownloads != 2 {
		t.Errorf("expected overridden value 2, got %d", cfg.General.MaxConcurrentDownloads)
	}
	if cfg.General.MaxTotalInstances != 10 {
		t.Errorf("expected default for unset field, got %d", cfg.General.MaxTotalInstances)
	}
}

func TestCookiesConfigured(t *testing.T) {
	cases := []struct {
		g    General
		want bool
	}{
		{General{}, false},
		{General{CookiesFromBrowser: "none"}, false},
		{General{CookiesFromBrowser: "firefox"}, true},
		{General{CookiesPath: "/tmp/c.txt"}, true},
	}
	for _, tc := range cases {
		if got := tc.g.CookiesConfigured(); got != tc.want {
			t.Errorf("CookiesConfigured(%+v) = %v, want %v", tc.g, got, tc.want)
		}
	}
}
