package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds environment-driven defaults. Command-line flags override
// every field.
type Config struct {
	DataDir   string
	StylesDir string
	ModelsDir string
	DBPath    string
	SaveDir   string

	TelegramToken string
	TelegramChat  string
}

// Load reads an optional .env file and the process environment
func Load() (*Config, error) {
	// Missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       getEnv("STYLESWEEP_DATA", "data"),
		StylesDir:     getEnv("STYLESWEEP_STYLES", "styles"),
		ModelsDir:     getEnv("STYLESWEEP_MODELS", "models"),
		DBPath:        os.Getenv("STYLESWEEP_DB"),
		SaveDir:       getEnv("STYLESWEEP_SAVE", "save"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		TelegramChat:  os.Getenv("TELEGRAM_CHAT"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
