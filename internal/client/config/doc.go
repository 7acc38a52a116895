// Package config loads runtime configuration for the exam-registration client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string     local database file (sqlite)
//	-p string     identity provider: local | firebase
//	-k string     Firebase web API key
//	-s string     document store: memory | firestore | postgres
//	-project      Firestore project id
//	-creds        Firestore service account credentials file
//	-pg string    postgres DSN for the document store
//	-u string     companion application URL used by redirect
//	-r duration   token refresh interval (e.g. 45m)
//	-m string     address of the /metrics listener, empty disables it
//	-l string     log level: debug | info | warn | error
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "45m"
// or integer nanoseconds. Absent or zero values keep the previous layer:
//
//	{
//	  "local_dsn": "examreg.db",
//	  "provider": "firebase",
//	  "firebase_api_key": "AIza...",
//	  "store": "firestore",
//	  "firestore_project": "examreg-prod",
//	  "refresh_interval": "45m",
//	  "expiry_threshold": "5m",
//	  "max_retries": 3,
//	  "retry_delay": "1s"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
