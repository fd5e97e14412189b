package main

import (
	"strings"
	"testing"
)

func TestLoadConfigMissingTokenReturnsNil(t *testing.T) {
	t.Setenv(EnvDiscordToken, "")

	cfg, err := LoadConfig()
	if err == nil {
		t.Fatal("err = nil, want missing-token error")
	}
	if !strings.Contains(err.Error(), EnvDiscordToken) {
		t.Errorf("err = %v, want it to name %s", err, EnvDiscordToken)
	}
	if cfg != nil {
		t.Errorf("cfg = %+v, want nil on load failure", cfg)
	}
}

func TestLoadConfigInvalidGuildID(t *testing.T) {
	t.Setenv(EnvDiscordToken, "token")
	t.Setenv(EnvGuildID, "12345")

	cfg, err := LoadConfig()
	if err == nil {
		t.Fatal("err = nil, want snowflake validation error")
	}
	if cfg != nil {
		t.Errorf("cfg = %+v, want nil on load failure", cfg)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvDiscordToken, "token")
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvMaxPrevPlayed, "")
	t.Setenv(EnvMaxPlaylistLen, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if cfg.MaxPreviouslyPlayed != 12 {
		t.Errorf("MaxPreviouslyPlayed = %d, want 12", cfg.MaxPreviouslyPlayed)
	}
	if cfg.MaxPlaylistSongs != 50 {
		t.Errorf("MaxPlaylistSongs = %d, want 50", cfg.MaxPlaylistSongs)
	}
}
