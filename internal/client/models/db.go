// Package models defines the client-side data models: the authenticated
// identity, its bearer token and the application profile document.
package models

import "time"

// Identity is an authenticated principal issued by the identity provider.
type Identity struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Token is a bearer credential together with its decoded expiry.
type Token struct {
	Raw       string
	ExpiresAt time.Time
}
