// Package identity defines the identity-provider boundary consumed by the
// session layer and the presence stream that signals sign-in and sign-out.
package identity

import (
	"context"

	"github.com/dmitrijs2005/examreg/internal/client/models"
)

// Provider is the external authentication service.
//
// Contract:
//   - SignIn / CreateIdentity authenticate and publish the identity on the
//     presence stream; SignOut publishes nil.
//   - MintToken always forces a fresh bearer token for id (never a cached one).
//   - Failures wrap common.ErrProvider.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
	SignOut(ctx context.Context) error
	CreateIdentity(ctx context.Context, email, password, displayName string) (*models.Identity, error)
	SendVerification(ctx context.Context, id *models.Identity) error
	MintToken(ctx context.Context, id *models.Identity) (string, error)
	Subscribe() (<-chan *models.Identity, func())
}
