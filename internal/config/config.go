package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/soaringjerry/Quill/internal/utils"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Addr string

	Store          string
	SQLitePath     string
	MigrationsDir  string
	MongoURI       string
	MongoDB        string
	MemorySnapshot string
	SeedPath       string

	JWTSecret string
	TokenTTL  time.Duration

	Location     *time.Location
	SingleActive bool

	RateLimit      float64
	RateBurst      int
	// TrustedProxies lists peers (CIDR or address) allowed to set X-Forwarded-For.
	TrustedProxies []string

	CORSOrigins    []string
	StaticDir      string
	DevFrontendURL string

	Commit    string
	BuildTime string
}

// Load reads an optional .env file and then the QUILL_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("config: load .env: %v", err)
		} else {
			log.Printf("config: no .env file, using process environment")
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:           utils.SafeEnv("QUILL_ADDR", ":8080"),
		Store:          strings.ToLower(utils.SafeEnv("QUILL_STORE", StoreSQLite)),
		SQLitePath:     utils.SafeEnv("QUILL_SQLITE_PATH", "./data/quill.db"),
		MigrationsDir:  utils.SafeEnv("QUILL_MIGRATIONS_DIR", ""),
		MongoURI:       utils.SafeEnv("QUILL_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        utils.SafeEnv("QUILL_MONGO_DB", "quill"),
		MemorySnapshot: utils.SafeEnv("QUILL_MEMORY_SNAPSHOT", ""),
		SeedPath:       utils.SafeEnv("QUILL_SEED_PATH", ""),
		JWTSecret:      utils.SafeEnv("QUILL_JWT_SECRET", ""),
		TokenTTL:       utils.EnvDuration("QUILL_TOKEN_TTL", 720*time.Hour),
		SingleActive:   utils.EnvBool("QUILL_SINGLE_ACTIVE_FORM", false),
		RateLimit:      utils.EnvFloat("QUILL_RATE_LIMIT", 20),
		RateBurst:      utils.EnvInt("QUILL_RATE_BURST", 40),
		TrustedProxies: utils.EnvList("QUILL_TRUSTED_PROXIES"),
		CORSOrigins:    utils.EnvList("QUILL_CORS_ORIGINS"),
		StaticDir:      utils.SafeEnv("QUILL_STATIC_DIR", ""),
		DevFrontendURL: utils.SafeEnv("QUILL_DEV_FRONTEND_URL", ""),
		Commit:         os.Getenv("QUILL_COMMIT"),
		BuildTime:      os.Getenv("QUILL_BUILD_TIME"),
	}

	switch cfg.Store {
	case StoreSQLite, StoreMongo, StoreMemory:
	default:
		return nil, fmt.Errorf("QUILL_STORE=%q: want sqlite, mongo or memory", cfg.Store)
	}

	cfg.Location = time.Local
	if tz := utils.SafeEnv("QUILL_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("QUILL_TIMEZONE=%q: %w", tz, err)
		}
		cfg.Location = loc
	}

	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("QUILL_TOKEN_TTL must be positive, got %s", cfg.TokenTTL)
	}
	if cfg.JWTSecret == "" {
		log.Printf("config: QUILL_JWT_SECRET not set, using the development secret")
	}
	return cfg, nil
}
