package identity

import (
	"errors"
	"fmt"
	"strings"

	"doc-collab/internal/models"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token has no subject claim")

// FromToken reads the participant identity out of an account JWT.
// The signature is not checked here; the server verifies the token when the
// session connects.
func FromToken(token string) (models.Identity, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to parse auth token: %w", err)
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	id := firstClaim(claims, "sub", "user_id")
	if id == "" {
		return models.Identity{}, ErrNoSubject
	}

	name := firstClaim(claims, "name", "preferred_username", "email")
	if name == "" {
		name = id
	}

	return models.Identity{ID: id, Name: name}, nil
}

func firstClaim(claims gojwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
