package config

import (
	"time"

	"github.com/dmitrijs2005/examreg/internal/common"
)

// Identity provider kinds.
const (
	ProviderLocal    = "local"
	ProviderFirebase = "firebase"
)

// Document store kinds.
const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
)

// Config holds runtime settings for the exam-registration client.
//
// Durations are time.Duration values; MaxRetries counts total attempts of a
// remote profile read.
type Config struct {
	LocalDSN string
	LogLevel string

	Provider          string
	FirebaseAPIKey    string
	LocalSecret       string
	ProviderRateLimit float64

	Store                string
	FirestoreProject     string
	FirestoreCredentials string
	PostgresDSN          string

	CompanionURL   string
	RedirectSource string

	RefreshInterval time.Duration
	ExpiryThreshold time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	FetchWait       time.Duration

	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalDSN = "examreg.db"
	c.LogLevel = "info"

	c.Provider = ProviderLocal
	c.LocalSecret = "examreg-dev-secret"
	c.ProviderRateLimit = 5

	c.Store = StoreMemory

	c.CompanionURL = "https://counselling.example.org/login"
	c.RedirectSource = "examreg"

	c.RefreshInterval = common.TokenRefreshInterval
	c.ExpiryThreshold = common.TokenExpiryThreshold
	c.MaxRetries = common.MaxRetries
	c.RetryDelay = common.RetryInitialDelay
	c.FetchWait = common.FetchWait
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
