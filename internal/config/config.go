// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App         AppConfig
	Logger      LoggerConfig
	Data        DataConfig
	Server      ServerConfig
	Circulation CirculationConfig
	Maintenance MaintenanceConfig
	Notify      NotifyConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds on-disk storage configuration.
type DataConfig struct {
	// BasePath holds the sqlite database and the notification outbox.
	BasePath string
}

// DatabasePath returns the sqlite file location.
func (d DataConfig) DatabasePath() string {
	return filepath.Join(d.BasePath, "circulation.db")
}

// OutboxPath returns the badger outbox directory.
func (d DataConfig) OutboxPath() string {
	return filepath.Join(d.BasePath, "outbox")
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	CORSOrigins  []string      // Allowed CORS origins (default: *)
	RateLimit    int           // Requests per minute per client IP (default: 120)
}

// CirculationConfig holds the lending policy.
type CirculationConfig struct {
	ReservationWindow time.Duration // hold after an immediate reservation (default: 24h)
	QueueHoldWindow   time.Duration // holdUntil after queue promotion (default: 48h)
	DefaultLoanDays   int           // loan period when collection gives none (default: 14)
	MaxActiveLoans    int           // active loans plus live reservations (default: 3)
	DailyFineRate     string        // decimal amount per overdue day (default: 10)
	DueSoonWindow     time.Duration // reminder horizon (default: 72h)
}

// MaintenanceConfig holds the background sweep intervals.
type MaintenanceConfig struct {
	SweepInterval    time.Duration // full sweep (default: 2h)
	ExpiryInterval   time.Duration // reservation expiry only (default: 1h)
	ReminderInterval time.Duration // due-soon and overdue notices (default: 24h)
}

// NotifyConfig holds the outbox relay settings.
type NotifyConfig struct {
	RelayInterval time.Duration // outbox poll interval (default: 5s)
	MaxAttempts   int           // deliveries before dead-lettering (default: 5)
	RatePerSecond float64       // delivery rate (default: 20)
	Burst         int           // delivery burst (default: 40)
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for the database and outbox")

	// Server flags
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := flag.String("cors-origins", "", "Comma separated CORS origins (default: *)")
	rateLimit := flag.String("rate-limit", "", "Requests per minute per client (default: 120)")

	// Circulation flags
	reservationWindow := flag.String("reservation-window", "", "Reservation hold window (default: 24h)")
	queueHoldWindow := flag.String("queue-hold-window", "", "Hold window after queue promotion (default: 48h)")
	loanDays := flag.String("loan-days", "", "Default loan period in days (default: 14)")
	maxLoans := flag.String("max-active-loans", "", "Active loan cap per member (default: 3)")
	fineRate := flag.String("daily-fine-rate", "", "Fine per overdue day (default: 10)")

	// Maintenance flags
	sweepInterval := flag.String("sweep-interval", "", "Maintenance sweep interval (default: 2h)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	// Parse flags but don't exit on error - we want to handle it gracefully.
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "*")),
			RateLimit:   getIntConfigValue(*rateLimit, "RATE_LIMIT", 120),
		},
		Circulation: CirculationConfig{
			DefaultLoanDays: getIntConfigValue(*loanDays, "DEFAULT_LOAN_DAYS", 14),
			MaxActiveLoans:  getIntConfigValue(*maxLoans, "MAX_ACTIVE_LOANS", 3),
			DailyFineRate:   getConfigValue(*fineRate, "DAILY_FINE_RATE", "10"),
		},
		Notify: NotifyConfig{
			MaxAttempts:   getIntConfigValue("", "NOTIFY_MAX_ATTEMPTS", 5),
			RatePerSecond: getFloatConfigValue("", "NOTIFY_RATE", 20),
			Burst:         getIntConfigValue("", "NOTIFY_BURST", 40),
		},
	}

	durations := []struct {
		dst          *time.Duration
		flagValue    string
		envKey       string
		defaultValue string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Circulation.ReservationWindow, *reservationWindow, "RESERVATION_WINDOW", "24h"},
		{&cfg.Circulation.QueueHoldWindow, *queueHoldWindow, "QUEUE_HOLD_WINDOW", "48h"},
		{&cfg.Circulation.DueSoonWindow, "", "DUE_SOON_WINDOW", "72h"},
		{&cfg.Maintenance.SweepInterval, *sweepInterval, "SWEEP_INTERVAL", "2h"},
		{&cfg.Maintenance.ExpiryInterval, "", "EXPIRY_INTERVAL", "1h"},
		{&cfg.Maintenance.ReminderInterval, "", "REMINDER_INTERVAL", "24h"},
		{&cfg.Notify.RelayInterval, "", "NOTIFY_RELAY_INTERVAL", "5s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.defaultValue)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.envKey), raw, err)
		}
		*d.dst = parsed
	}

	// Expand and validate data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	return c.Circulation.Validate()
}

// Validate checks the lending policy values.
func (c CirculationConfig) Validate() error {
	if c.ReservationWindow <= 0 {
		return errors.New("reservation window must be positive")
	}
	if c.QueueHoldWindow < c.ReservationWindow {
		return fmt.Errorf("queue hold window %s is shorter than reservation window %s", c.QueueHoldWindow, c.ReservationWindow)
	}
	if c.DefaultLoanDays < 1 {
		return fmt.Errorf("default loan days must be at least 1, got %d", c.DefaultLoanDays)
	}
	if c.MaxActiveLoans < 1 {
		return fmt.Errorf("max active loans must be at least 1, got %d", c.MaxActiveLoans)
	}
	if rate, err := strconv.ParseFloat(c.DailyFineRate, 64); err != nil || rate < 0 {
		return fmt.Errorf("invalid daily fine rate: %q", c.DailyFineRate)
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Circulation", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
