package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/pavi/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const identityLen = 12

// Auth guards the pipeline-job routes with a single shared bearer token whose
// bcrypt hash is configured at startup.
type Auth struct {
	tokenHash []byte
}

// NewAuth creates a new Auth middleware. An empty hash disables
// authentication; every request is let through unauthenticated.
func NewAuth(tokenHash string) *Auth {
	return &Auth{tokenHash: []byte(tokenHash)}
}

// Enabled reports whether a token hash is configured.
func (a *Auth) Enabled() bool {
	return len(a.tokenHash) > 0
}

// Authenticate validates the Bearer token and sets the client identity in
// the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawToken := extractBearerToken(r)
		if rawToken == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(rawToken)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), tokenIdentity(rawToken))))
	})
}

// tokenIdentity names a client by a digest of its token so the token itself
// never reaches logs or cache keys.
func tokenIdentity(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])[:identityLen]
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
