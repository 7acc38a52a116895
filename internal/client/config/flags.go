package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/examreg/internal/flagx"
)

var knownFlags = []string{"-d", "-p", "-k", "-s", "-project", "-creds", "-pg", "-u", "-r", "-m", "-l"}

// parseFlags populates Config fields from command-line flags. os.Args is
// filtered through flagx.FilterArgs so the JSON flags do not interfere.
// Invalid values panic.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.LocalDSN, "d", cfg.LocalDSN, "local database file")
	fs.StringVar(&cfg.Provider, "p", cfg.Provider, "identity provider (local|firebase)")
	fs.StringVar(&cfg.FirebaseAPIKey, "k", cfg.FirebaseAPIKey, "Firebase web API key")
	fs.StringVar(&cfg.Store, "s", cfg.Store, "document store (memory|firestore|postgres)")
	fs.StringVar(&cfg.FirestoreProject, "project", cfg.FirestoreProject, "Firestore project id")
	fs.StringVar(&cfg.FirestoreCredentials, "creds", cfg.FirestoreCredentials, "Firestore credentials file")
	fs.StringVar(&cfg.PostgresDSN, "pg", cfg.PostgresDSN, "postgres DSN")
	fs.StringVar(&cfg.CompanionURL, "u", cfg.CompanionURL, "companion application URL")
	fs.DurationVar(&cfg.RefreshInterval, "r", cfg.RefreshInterval, "token refresh interval")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
