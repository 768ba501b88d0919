package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	LogLevel  string
	LogFormat string
	HTTPAddr  string

	LocationSource       string
	LocationAPIBaseURL   string
	LocationAPIToken     string
	LocationRateLimitRPS int
	LocationTimeoutMs    int
	LocationXLSXPath     string

	ExtractReadTimeoutMs  int
	LocationLoadTimeoutMs int

	LowConfidenceThreshold   float64
	MatchAutoSubmitThreshold float64
	DetectThreshold          float64
	DefaultIncidentType      string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "meldung.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		HTTPAddr:  getEnv("HTTP_ADDR", "127.0.0.1:8080"),

		LocationSource:       getEnv("LOCATION_SOURCE", "db"),
		LocationAPIBaseURL:   getEnv("LOCATION_API_BASE_URL", "http://127.0.0.1:8000"),
		LocationAPIToken:     getEnv("LOCATION_API_TOKEN", ""),
		LocationRateLimitRPS: getEnvInt("LOCATION_RATE_LIMIT_RPS", 5),
		LocationTimeoutMs:    getEnvInt("LOCATION_TIMEOUT_MS", 15000),
		LocationXLSXPath:     getEnv("LOCATION_XLSX_PATH", filepath.Join(cwd, "data", "locations.xlsx")),

		ExtractReadTimeoutMs:  getEnvInt("EXTRACT_READ_TIMEOUT_MS", 10000),
		LocationLoadTimeoutMs: getEnvInt("LOCATION_LOAD_TIMEOUT_MS", 10000),

		LowConfidenceThreshold:   getEnvFloat("LOW_CONFIDENCE_THRESHOLD", 0.5),
		MatchAutoSubmitThreshold: getEnvFloat("MATCH_AUTO_SUBMIT_THRESHOLD", 0.95),
		DetectThreshold:          getEnvFloat("DETECT_THRESHOLD", 0.3),
		DefaultIncidentType:      getEnv("DEFAULT_INCIDENT_TYPE", "sonstiges"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", false),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
