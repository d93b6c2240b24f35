package reviewapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// reviewerContextKey is the context key a validated reviewer identity is
// stored under.
type reviewerContextKey struct{}

// ReviewerAuth validates the bearer token on manual-resolve requests and
// resolves the reviewer's identity from the token's sub claim. Tokens
// must be HS256-signed with Secret.
type ReviewerAuth struct {
	Secret []byte
}

// withAuth wraps a handler so that, when s.Auth is configured, the
// reviewer field on a resolve request comes from an authenticated claim
// rather than a value the client could set to impersonate anyone. With no
// Auth configured the request passes through unauthenticated, for local
// development and tests.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.Auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeBearerChallenge(w, "missing bearer token")
			return
		}
		sub, err := s.Auth.validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeBearerChallenge(w, "invalid or expired token")
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), reviewerContextKey{}, sub))
		next(w, r)
	}
}

// validate parses tokenString as an HS256 JWT signed with a.Secret and
// returns its sub claim.
func (a *ReviewerAuth) validate(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token missing sub claim")
	}
	return sub, nil
}

// reviewerFromContext returns the authenticated reviewer identity, if any.
func reviewerFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(reviewerContextKey{}).(string)
	return sub, ok
}

func writeBearerChallenge(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description="%s"`, description))
	http.Error(w, description, http.StatusUnauthorized)
}
