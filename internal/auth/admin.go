package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminGuard protects the administrative surface with HTTP basic auth. The
// password is checked against a bcrypt hash when one is configured, falling
// back to a plain comparison for dev setups.
type AdminGuard struct {
	Username     string
	PasswordHash string
	Password     string
}

// Enabled reports whether admin credentials are configured at all. A guard
// without credentials rejects every request rather than failing open.
func (g *AdminGuard) Enabled() bool {
	return g.Username != "" && (g.PasswordHash != "" || g.Password != "")
}

func (g *AdminGuard) check(username, password string) bool {
	if !g.Enabled() || username != g.Username {
		return false
	}
	if g.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(g.PasswordHash), []byte(password)) == nil
	}
	return password == g.Password
}

func (g *AdminGuard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !g.check(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Gateway Admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
