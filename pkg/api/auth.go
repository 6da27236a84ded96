package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the kind of account a token was issued to
type Role string

const (
	RoleVolunteer    Role = "volunteer"
	RoleOrganization Role = "organization"
	RoleAdmin        Role = "admin"
)

// Claims are the JWT claims issued by the account service
type Claims struct {
	Role           Role   `json:"role"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller
type Principal struct {
	ID             string
	Role           Role
	Email          string
	Name           string
	OrganizationID string
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFrom returns the caller stored by Authenticate
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// Authenticate verifies the bearer token and stores the caller in the request context
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if header == "" || tokenString == header {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			principal, err := parseToken(secret, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(secret []byte, tokenString string) (*Principal, error) {
	if len(secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("token has no expiry")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	switch claims.Role {
	case RoleVolunteer, RoleAdmin:
	case RoleOrganization:
		if claims.OrganizationID == "" {
			return nil, errors.New("organization token has no organization id")
		}
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}

	return &Principal{
		ID:             claims.Subject,
		Role:           claims.Role,
		Email:          claims.Email,
		Name:           claims.Name,
		OrganizationID: claims.OrganizationID,
	}, nil
}
