package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// AccessTokenPayload is what the caller supplies when minting.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.Role
	JTI    string
}

// AccessTokenClaims identify the actor behind an order or payout request:
// a customer acting on their own orders or an admin acting on any.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks, so a signed token that
// names no user or an unknown role never reaches a handler.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("user_id claim missing")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("role claim %q not recognized", c.Role)
	}
	return nil
}
