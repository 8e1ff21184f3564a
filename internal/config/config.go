package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	ChatTopK       int
	CacheDBPath    string
	TokenPath      string
}

func LoadConfig() Config {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	home := getEnv("REDLINE_HOME", defaultHome())

	return Config{
		APIBaseURL:     getEnv("REDLINE_API_URL", "http://localhost:8000"),
		RequestTimeout: time.Duration(getEnvAsInt("REDLINE_TIMEOUT_SECONDS", 120)) * time.Second,
		ChatTopK:       getEnvAsInt("REDLINE_CHAT_TOP_K", 5),
		CacheDBPath:    getEnv("REDLINE_CACHE_DB", filepath.Join(home, "cache.db")),
		TokenPath:      getEnv("REDLINE_TOKEN_FILE", filepath.Join(home, "token.json")),
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".redline"
	}
	return filepath.Join(home, ".redline")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
