package local

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/examreg/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_CreateSignInMint(t *testing.T) {
	ctx := context.Background()
	p := New([]byte("secret"), time.Hour)

	ch, cancel := p.Subscribe()
	defer cancel()
	require.Nil(t, <-ch)

	id, err := p.CreateIdentity(ctx, " Alice@Example.com ", "pw", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.NotEmpty(t, id.UID)
	require.Equal(t, id.UID, (<-ch).UID)

	raw, err := p.MintToken(ctx, id)
	require.NoError(t, err)

	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	sub, err := tok.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, id.UID, sub)

	require.NoError(t, p.SignOut(ctx))
	require.Nil(t, <-ch)

	_, err = p.MintToken(ctx, id)
	require.ErrorIs(t, err, common.ErrProvider)

	again, err := p.SignIn(ctx, "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, id.UID, again.UID)
}

func TestProvider_Errors(t *testing.T) {
	ctx := context.Background()
	p := New([]byte("secret"), 0)

	_, err := p.CreateIdentity(ctx, "", "pw", "")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = p.CreateIdentity(ctx, "a@b.c", "pw", "")
	require.NoError(t, err)
	_, err = p.CreateIdentity(ctx, "a@b.c", "pw", "")
	require.ErrorIs(t, err, ErrEmailExists)
	require.ErrorIs(t, err, common.ErrProvider)

	_, err = p.SignIn(ctx, "a@b.c", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "nobody@b.c", "pw")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = p.MintToken(ctx, nil)
	require.ErrorIs(t, err, common.ErrNoIdentity)
}

func TestProvider_SendVerification(t *testing.T) {
	ctx := context.Background()
	p := New([]byte("secret"), time.Hour)

	id, err := p.CreateIdentity(ctx, "v@x.io", "pw", "")
	require.NoError(t, err)
	require.NoError(t, p.SendVerification(ctx, id))
	assert.Equal(t, []string{"v@x.io"}, p.Verifications())

	signed, err := p.SignIn(ctx, "v@x.io", "pw")
	require.NoError(t, err)
	assert.True(t, signed.EmailVerified)

	require.ErrorIs(t, p.SendVerification(ctx, nil), common.ErrNoIdentity)
}
