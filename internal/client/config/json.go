package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/examreg/internal/flagx"
	"github.com/dmitrijs2005/examreg/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	LocalDSN string `json:"local_dsn"`
	LogLevel string `json:"log_level"`

	Provider          string  `json:"provider"`
	FirebaseAPIKey    string  `json:"firebase_api_key"`
	LocalSecret       string  `json:"local_secret"`
	ProviderRateLimit float64 `json:"provider_rate_limit"`

	Store                string `json:"store"`
	FirestoreProject     string `json:"firestore_project"`
	FirestoreCredentials string `json:"firestore_credentials"`
	PostgresDSN          string `json:"postgres_dsn"`

	CompanionURL   string `json:"companion_url"`
	RedirectSource string `json:"redirect_source"`

	RefreshInterval timex.Duration `json:"refresh_interval"`
	ExpiryThreshold timex.Duration `json:"expiry_threshold"`
	MaxRetries      int            `json:"max_retries"`
	RetryDelay      timex.Duration `json:"retry_delay"`
	FetchWait       timex.Duration `json:"fetch_wait"`

	MetricsAddr string `json:"metrics_addr"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c/-config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.LocalDSN, jc.LocalDSN)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.Provider, jc.Provider)
	setString(&cfg.FirebaseAPIKey, jc.FirebaseAPIKey)
	setString(&cfg.LocalSecret, jc.LocalSecret)
	if jc.ProviderRateLimit != 0 {
		cfg.ProviderRateLimit = jc.ProviderRateLimit
	}
	setString(&cfg.Store, jc.Store)
	setString(&cfg.FirestoreProject, jc.FirestoreProject)
	setString(&cfg.FirestoreCredentials, jc.FirestoreCredentials)
	setString(&cfg.PostgresDSN, jc.PostgresDSN)
	setString(&cfg.CompanionURL, jc.CompanionURL)
	setString(&cfg.RedirectSource, jc.RedirectSource)
	setDuration(&cfg.RefreshInterval, jc.RefreshInterval)
	setDuration(&cfg.ExpiryThreshold, jc.ExpiryThreshold)
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	setDuration(&cfg.RetryDelay, jc.RetryDelay)
	setDuration(&cfg.FetchWait, jc.FetchWait)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
}
