package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/errors"
	"quitline-realtime/pkg/sanitize"
)

// Claims is the identity portion of the platform's access token. The realtime
// core consumes an already-valid credential; validation happens upstream, so
// the claims are read without signature verification here.
type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	jwt.RegisteredClaims
}

// IdentityFromCredential derives the session identity from an access token.
func IdentityFromCredential(credential string) (domain.Identity, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(credential, &Claims{})
	if err != nil {
		return domain.Identity{}, errors.InvalidTokenError(fmt.Sprintf("failed to parse credential: %v", err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return domain.Identity{}, errors.InvalidTokenError("invalid claims")
	}
	if claims.UserID == uuid.Nil {
		return domain.Identity{}, errors.InvalidTokenError("credential carries no user id")
	}

	return domain.Identity{
		ID:          claims.UserID,
		DisplayName: sanitize.DisplayName(claims.DisplayName),
		AvatarRef:   claims.AvatarRef,
	}, nil
}
