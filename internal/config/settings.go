package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings are process-environment overrides for the release client.
type Settings struct {
	Token        string `env:"GITHUB_TOKEN"`
	APIBase      string `env:"APWORLDMGR_API_URL" envDefault:"https://api.github.com"`
	DownloadBase string `env:"APWORLDMGR_DOWNLOAD_URL" envDefault:"https://github.com"`
	PerPage      int    `env:"APWORLDMGR_PER_PAGE" envDefault:"100"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return s, nil
}
