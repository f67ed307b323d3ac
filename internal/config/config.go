package config

import (
	"fmt"
	"os"

	"go-manga-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") and populates a models.Config. Missing optional fields fall
// back to defaults; a missing file is an error the caller may tolerate.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	cfg := Defaults()
	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config file %s not found: %w", configFilePath, err)
		}
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.SavePath == "" {
		log.Warn("Warning: SavePath is not set in config.toml")
	}
	if cfg.DatabasePath == "" {
		log.Warn("Warning: DatabasePath is not set in config.toml")
	}
	if _, err := models.ParseFormat(cfg.Format); err != nil {
		return models.Config{}, err
	}
	if _, err := models.ParseQuality(cfg.Quality); err != nil {
		return models.Config{}, err
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// Defaults returns the configuration used when no file or flag says otherwise.
func Defaults() models.Config {
	return models.Config{
		SavePath:            "downloads",
		DatabasePath:        "manga.db",
		BleveIndexPath:      "manga.bleve",
		Concurrency:         4,
		MaxRetries:          3,
		FetchTimeoutSec:     30,
		RetryBaseDelayMs:    1000,
		RetryMaxDelayMs:     30000,
		ChapterFailureRatio: 0,
		Format:              string(models.FormatCBZ),
		Quality:             string(models.QualityHigh),
		KeepPages:           true,
	}
}
