package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultUserClaim = "user_id"

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret    []byte
	userClaim string
}

func NewJWTVerifier(secret, userClaim string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	userClaim = strings.TrimSpace(userClaim)
	if userClaim == "" {
		userClaim = DefaultUserClaim
	}
	return &JWTVerifier{secret: []byte(secret), userClaim: userClaim}, nil
}

// Resolve verifies the token and reads the user id from the configured claim,
// falling back to "sub".
func (v *JWTVerifier) Resolve(_ context.Context, token string) (Identity, error) {
	tok, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unsupported claim type %T", ErrInvalidCredentials, tok.Claims)
	}

	userID := claimString(claims[v.userClaim])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token carries no %s or sub claim", ErrInvalidCredentials, v.userClaim)
	}
	return Identity{UserID: userID, Roles: claimRoles(claims["roles"])}, nil
}

func claimString(raw any) string {
	switch value := raw.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

func claimRoles(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(items))
	for _, item := range items {
		if role, ok := item.(string); ok && role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
