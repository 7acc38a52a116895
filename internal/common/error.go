// Package common defines shared constants and sentinel errors used across
// the client layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Document store outcomes.
	ErrorNotFound  = errors.New("not found")
	ErrDenied      = errors.New("permission denied")
	ErrUnavailable = errors.New("remote unavailable")
	ErrConflict    = errors.New("document changed concurrently")

	// Identity provider failures. Specific causes wrap ErrProvider.
	ErrProvider           = errors.New("identity provider error")
	ErrNoIdentity         = errors.New("no identity")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")

	// Token lifecycle errors.
	ErrMalformedToken = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")

	// Session errors.
	ErrNotSignedIn    = errors.New("not signed in")
	ErrSessionExpired = errors.New("session expired")

	// Access control for consumer features.
	ErrForbidden = errors.New("forbidden")
)
