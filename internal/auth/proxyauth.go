package auth

import (
	"net/http"
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
)

// ProxyAuth authorizes callers against the gateway's own token store. The
// token travels in the X-Proxy-Token header, embedded in the model field as
// "token:model" for clients that cannot set custom headers, or as the bearer
// token itself.
type ProxyAuth struct {
	Required bool
	Store    *TokenStore
}

// Authenticate validates the request's gateway token. It returns the model
// string with any embedded token stripped, plus the authenticated user id.
// When auth is disabled the model passes through untouched.
func (p *ProxyAuth) Authenticate(r *http.Request, logicalModel string) (string, string, error) {
	if !p.Required {
		return logicalModel, "", nil
	}

	token := strings.TrimSpace(r.Header.Get("X-Proxy-Token"))
	model := logicalModel

	if token == "" && strings.Contains(logicalModel, ":") {
		embedded, rest, _ := strings.Cut(logicalModel, ":")
		token = embedded
		model = rest
	}
	if token == "" {
		token = ExtractBearerToken(r)
	}

	if token == "" {
		return logicalModel, "", &domain.AuthError{Message: "Gateway auth required: no proxy token provided."}
	}
	if p.Store == nil {
		return logicalModel, "", &domain.AuthError{Message: "Gateway auth required but token store not configured."}
	}

	user, ok := p.Store.Validate(token)
	if !ok {
		return logicalModel, "", &domain.AuthError{Message: "Gateway auth failed: proxy token is invalid."}
	}
	return model, user, nil
}
