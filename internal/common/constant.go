// Package common contains shared constants and sentinel errors used across
// the exam-registration client components.
package common

import "time"

// Durable local storage keys.
const (
	// AuthTokenKey holds the raw bearer token of the active session.
	AuthTokenKey = "authToken"

	// RedirectTokenKey is the session-scoped mirror used by the companion app handoff.
	RedirectTokenKey = "josaa_auth_token"

	pendingProfilePrefix = "pending_profile_"
	cachedProfilePrefix  = "user_profile_"
)

// Document store collections.
const (
	UsersCollection           = "users"
	ProbeCollection           = "connection_test"
	RedemptionCodesCollection = "redemption_codes"
)

// Redirect query parameters appended by the secure handoff.
const (
	RedirectTokenParam  = "token"
	RedirectSourceParam = "source"
	RedirectUIDParam    = "uid"
)

// Session and sync defaults.
const (
	TokenExpiryThreshold = 5 * time.Minute
	TokenRefreshInterval = 45 * time.Minute
	MaxRetries           = 3
	RetryInitialDelay    = time.Second
	FetchWait            = 500 * time.Millisecond
)

// PendingProfileKey returns the durable key of the pending write for uid.
func PendingProfileKey(uid string) string { return pendingProfilePrefix + uid }

// CachedProfileKey returns the durable key of the cached snapshot for uid.
func CachedProfileKey(uid string) string { return cachedProfilePrefix + uid }
