package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/SaiMyBB/Matter-Gateway/internal/auth"
)

// tokenCookie is the cookie the dashboard stores its access token in.
const tokenCookie = "access_token"

// devSubject identifies callers when authentication is disabled.
const devSubject = "dev"

const ctxKeySubject contextKey = "subject"

var errMissingToken = errors.New("missing token")

// tokenFromRequest returns the bearer token from the access_token cookie,
// the token query parameter or the Authorization header, in that order.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// validateToken checks an HS256 token against the configured secret and
// issuer and returns its subject.
func (s *Server) validateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errMissingToken
	}
	claims, err := auth.ParseToken(tokenString, s.secCfg.JWT.Secret, s.secCfg.JWT.Issuer)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// authEnabled reports whether a JWT secret is configured.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// authenticate resolves the caller's subject, writing a 401 on failure.
// With no secret configured every caller is accepted as "dev".
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.authEnabled() {
		return devSubject, true
	}
	sub, err := s.validateToken(tokenFromRequest(r))
	if err != nil {
		s.logger.Warn("unauthorised request rejected",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeUnauthorized(w, "valid token required")
		return "", false
	}
	return sub, true
}

// authMiddleware protects REST routes with the same token rules as the
// WebSocket upgrade.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
