package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// Config is the process configuration for the server and the CLI.
type Config struct {
	OpsAddr        string
	LogLevel       slog.Level
	Database       DatabaseConfig
	Redis          RedisConfig
	Expiry         ExpiryConfig
	VocabularyFile string
}

// DatabaseConfig configures the Postgres pool and transaction runner.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures the revocation store client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RecordTTL    time.Duration
}

// ExpiryConfig configures the periodic expiry sweep.
type ExpiryConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// LoadDotEnv loads .env files when present. Missing files are ignored and
// variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		OpsAddr:  getenv("CONSENTMGR_OPS_ADDR", ":9090"),
		LogLevel: level(os.Getenv("LOG_LEVEL")),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    intEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			TxTimeout:       durationEnv("DB_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			RecordTTL:    durationEnv("REVOCATION_TTL", 24*time.Hour),
		},
		Expiry: ExpiryConfig{
			Enabled:   os.Getenv("EXPIRY_DISABLED") != "true",
			Interval:  durationEnv("EXPIRY_INTERVAL", time.Minute),
			BatchSize: intEnv("EXPIRY_BATCH_SIZE", 500),
		},
		VocabularyFile: os.Getenv("CONSENT_VOCABULARY_FILE"),
	}
}

// LoadVocabularies reads the status vocabulary file. An empty path yields the
// built-in default.
func LoadVocabularies(path string) (models.Vocabularies, error) {
	if path == "" {
		return models.NewVocabularies(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return models.Vocabularies{}, fmt.Errorf("read vocabulary file: %w", err)
	}
	return ParseVocabularies(b)
}

// ParseVocabularies decodes a YAML vocabulary document. Omitting the default
// section keeps the built-in default.
func ParseVocabularies(b []byte) (models.Vocabularies, error) {
	v := models.NewVocabularies()
	var doc struct {
		Default *models.StatusVocabulary           `yaml:"default"`
		Orgs    map[string]models.StatusVocabulary `yaml:"orgs"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return models.Vocabularies{}, fmt.Errorf("parse vocabulary file: %w", err)
	}
	if doc.Default != nil {
		v.Default = *doc.Default
	}
	if err := checkVocabulary("default", v.Default); err != nil {
		return models.Vocabularies{}, err
	}
	for org, voc := range doc.Orgs {
		if err := checkVocabulary(org, voc); err != nil {
			return models.Vocabularies{}, err
		}
		if v.Orgs == nil {
			v.Orgs = make(map[id.OrgID]models.StatusVocabulary, len(doc.Orgs))
		}
		v.Orgs[id.OrgID(org)] = voc
	}
	return v, nil
}

// checkVocabulary requires terminal and expirable statuses to be allowed,
// Expired to be allowed and terminal whenever anything expires, and no
// status to be both terminal and expirable.
func checkVocabulary(name string, v models.StatusVocabulary) error {
	if len(v.Allowed) == 0 {
		return fmt.Errorf("vocabulary %q: no allowed statuses", name)
	}
	for _, s := range append(slices.Clone(v.Terminal), v.Expirable...) {
		if !v.Allows(s) {
			return fmt.Errorf("vocabulary %q: status %q is not allowed", name, s)
		}
	}
	for _, s := range v.Expirable {
		if v.IsTerminal(s) {
			return fmt.Errorf("vocabulary %q: status %q cannot be terminal and expirable", name, s)
		}
	}
	if len(v.Expirable) > 0 && !v.IsTerminal(models.StatusExpired) {
		return fmt.Errorf("vocabulary %q: %q must be an allowed terminal status", name, models.StatusExpired)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func level(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
