package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DataFile              string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	PasswordHashing       string
	StoreBusyTimeout      time.Duration
	SettingsCacheTTL      time.Duration
	ReportTimezone        string
	LogLevel              string
	LogFormat             string
	// Warnings are problems Load worked around, reported once a logger
	// exists.
	Warnings []string
}

// Load reads an optional .env file, an optional config.yaml in the working
// directory and the process environment, in increasing precedence.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATA_FILE", "warungpos.json")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("PASSWORD_HASHING", "plaintext")
	v.SetDefault("STORE_BUSY_TIMEOUT_MS", 2000)
	v.SetDefault("SETTINGS_CACHE_TTL_SECONDS", 60)
	v.SetDefault("REPORT_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var warnings []string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			warnings = append(warnings, fmt.Sprintf("ignoring config.yaml: %v", err))
		}
	}

	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	busyMS := v.GetInt("STORE_BUSY_TIMEOUT_MS")
	if busyMS < 1 {
		busyMS = 2000
	}
	cacheTTL := v.GetInt("SETTINGS_CACHE_TTL_SECONDS")
	if cacheTTL < 1 {
		cacheTTL = 60
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		DataFile:              strings.TrimSpace(v.GetString("DATA_FILE")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		PasswordHashing:       strings.ToLower(strings.TrimSpace(v.GetString("PASSWORD_HASHING"))),
		StoreBusyTimeout:      time.Duration(busyMS) * time.Millisecond,
		SettingsCacheTTL:      time.Duration(cacheTTL) * time.Second,
		ReportTimezone:        v.GetString("REPORT_TIMEZONE"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		Warnings:              warnings,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
