package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/pkg/errors"
	pkgjwt "quitline-realtime/pkg/jwt"
)

func TestIdentityFromCredential(t *testing.T) {
	manager := pkgjwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	userID := uuid.New()
	credential, err := manager.Generate(userID, "Member Bob", "avatars/bob.png")
	require.NoError(t, err)

	identity, err := IdentityFromCredential(credential)

	require.NoError(t, err)
	assert.Equal(t, userID, identity.ID)
	assert.Equal(t, "Member Bob", identity.DisplayName)
	assert.Equal(t, "avatars/bob.png", identity.AvatarRef)
}

func TestIdentityDisplayNameNormalized(t *testing.T) {
	manager := pkgjwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	credential, err := manager.Generate(uuid.New(), "  Coach\x00\nAnna\t", "")
	require.NoError(t, err)

	identity, err := IdentityFromCredential(credential)

	require.NoError(t, err)
	assert.Equal(t, "CoachAnna", identity.DisplayName)
}

func TestIdentityFromMalformedCredential(t *testing.T) {
	_, err := IdentityFromCredential("not-a-jwt")

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidToken))
}

func TestIdentityRequiresUserID(t *testing.T) {
	manager := pkgjwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	credential, err := manager.Generate(uuid.Nil, "Nobody", "")
	require.NoError(t, err)

	_, err = IdentityFromCredential(credential)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidToken))
}
