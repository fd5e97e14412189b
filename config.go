package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================================
// Config
// ============================================================================

const (
	// Environment Variables
	EnvDiscordToken   = "DISCORD_TOKEN"
	EnvSilent         = "SILENT"
	EnvStreamingURL   = "STREAMING_URL"
	EnvOwnerIDs       = "OWNER_IDS"
	EnvGuildID        = "GUILD_ID"
	EnvMaxPrevPlayed  = "MAX_PREVIOUSLY_PLAYED"
	EnvMaxPlaylistLen = "MAX_PLAYLIST_SONGS"

	// Config error messages
	MsgConfigMissingToken   = "DISCORD_TOKEN environment variable is required"
	MsgConfigInvalidGuildID = "GUILD_ID does not look like a Discord snowflake"
)

type Config struct {
	Token               string
	GuildID             string
	DatabasePath        string
	OwnerIDs            []string
	StreamingURL        string
	Silent              bool
	MaxPreviouslyPlayed int
	MaxPlaylistSongs    int
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv(EnvDiscordToken)
	dbPath := filepath.Join(".", GetProjectName()+".db")

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))
	streamingURL := os.Getenv(EnvStreamingURL)

	ownerIDsStr := os.Getenv(EnvOwnerIDs)
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:        token,
		GuildID:      os.Getenv(EnvGuildID),
		DatabasePath: dbPath,
		OwnerIDs:     ownerIDs,
		StreamingURL: streamingURL,
		Silent:       silent,
	}

	cfg.MaxPreviouslyPlayed, _ = strconv.Atoi(os.Getenv(EnvMaxPrevPlayed))
	if cfg.MaxPreviouslyPlayed == 0 {
		cfg.MaxPreviouslyPlayed = 12
	}
	cfg.MaxPlaylistSongs, _ = strconv.Atoi(os.Getenv(EnvMaxPlaylistLen))
	if cfg.MaxPlaylistSongs == 0 {
		cfg.MaxPlaylistSongs = 50
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
