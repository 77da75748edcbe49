// Package resolver turns the opaque credential and model strings a client
// supplies into a concrete Foundry target. Tenant mappings win over
// structural decoding so operators can hand out fully opaque tokens, while
// clients without a mapping can self-encode routing as "resource:key" and
// "resource/model".
package resolver

import (
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/tenant"
)

// ResolvedTarget is derived per request and never persisted.
type ResolvedTarget struct {
	Resource   string
	Model      string
	Credential string
	TenantID   string
}

type Resolver struct {
	tenants         *tenant.Registry
	defaultModel    string
	defaultResource string
}

func New(tenants *tenant.Registry) *Resolver {
	return &Resolver{tenants: tenants}
}

// SetDefaults installs admin-configured fallbacks applied when decoding
// leaves the model or resource empty.
func (r *Resolver) SetDefaults(model, resource string) {
	r.defaultModel = model
	r.defaultResource = resource
}

// Resolve derives {resource, model, credential} for one request. On failure
// the returned ConfigurationError lists every part that could not be
// derived.
func (r *Resolver) Resolve(logicalCredential, logicalModel string) (ResolvedTarget, error) {
	if r.tenants != nil {
		if cfg, ok := r.tenants.Lookup(logicalCredential, logicalModel); ok {
			return ResolvedTarget{
				Resource:   cfg.Resource,
				Model:      cfg.Model,
				Credential: cfg.APIKey,
				TenantID:   cfg.TenantID,
			}, nil
		}
	}

	credResource, credential := DecodeCredential(logicalCredential)
	modelResource, modelName := DecodeModel(logicalModel)

	resource := credResource
	if resource == "" {
		resource = modelResource
	}
	if resource == "" {
		resource = r.defaultResource
	}

	model := modelName
	if model == "" {
		model = logicalModel
	}
	if model == "" {
		model = r.defaultModel
	}

	var missing []string
	if credential == "" {
		missing = append(missing, "credential (supply an API key, optionally as resource:key)")
	}
	if resource == "" {
		missing = append(missing, "resource (encode it in the API key or model)")
	}
	if model == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return ResolvedTarget{}, &domain.ConfigurationError{Missing: missing}
	}

	return ResolvedTarget{Resource: resource, Model: model, Credential: credential}, nil
}

// DecodeCredential splits "resource:key" when the left segment is a bare
// identifier. Anything else is treated as an opaque key with no embedded
// resource.
func DecodeCredential(raw string) (resource, key string) {
	if raw == "" {
		return "", ""
	}
	if strings.Count(raw, ":") == 1 {
		left, right, _ := strings.Cut(raw, ":")
		left = strings.TrimSpace(left)
		right = strings.TrimSpace(right)
		if left != "" && right != "" && looksLikeResource(left) {
			return left, right
		}
	}
	return "", raw
}

// DecodeModel splits "resource/model" when the string contains exactly one
// slash. Anything else is a bare model name.
func DecodeModel(raw string) (resource, model string) {
	if raw == "" {
		return "", ""
	}
	if strings.Count(raw, "/") == 1 {
		left, right, _ := strings.Cut(raw, "/")
		left = strings.TrimSpace(left)
		right = strings.TrimSpace(right)
		if left != "" && right != "" {
			return left, right
		}
	}
	return "", raw
}

func looksLikeResource(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}
	return true
}
