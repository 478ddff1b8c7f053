package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"progress_report_bot/internal/domain/progress"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string
	LogLevel      string
	Environment   string
	// DefaultTallyTimes are the baseline wake times (UTC) merged with
	// every channel's custom time-of-day.
	DefaultTallyTimes []progress.TimeOfDay
	// DisplayZone is the timezone used for operator-facing datetimes;
	// storage stays in UTC.
	DisplayZone *time.Location
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	timesSpec := os.Getenv("DEFAULT_TALLY_TIMES")
	if timesSpec == "" {
		timesSpec = "00:00,06:00,12:00,18:00"
	}
	times, err := ParseTimes(timesSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TALLY_TIMES: %w", err)
	}
	cfg.DefaultTallyTimes = times

	zoneName := os.Getenv("DISPLAY_TIMEZONE")
	if zoneName == "" {
		zoneName = "Asia/Tokyo"
	}
	cfg.DisplayZone, err = time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", zoneName, err)
	}

	return cfg, nil
}

// ParseTimes parses a comma-separated list of HH:MM times of day.
func ParseTimes(spec string) ([]progress.TimeOfDay, error) {
	parts := strings.Split(spec, ",")
	times := make([]progress.TimeOfDay, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		hm := strings.SplitN(part, ":", 2)
		if len(hm) != 2 {
			return nil, fmt.Errorf("malformed time %q, want HH:MM", part)
		}
		hour, err := strconv.Atoi(hm[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("malformed hour in %q", part)
		}
		minute, err := strconv.Atoi(hm[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("malformed minute in %q", part)
		}
		times = append(times, progress.TimeOfDay{Hour: hour, Minute: minute})
	}
	return times, nil
}
