// Package tenant holds the optional server-side mapping from
// (logical credential, logical model) pairs to concrete Foundry targets.
// When no mapping is configured the resolver falls back to structural
// decoding of the client-supplied identifiers.
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/crypto"
	"github.com/foundryproxy/foundry-gateway/internal/secrets"
)

type Config struct {
	TenantID     string
	LogicalModel string
	Resource     string
	Model        string
	APIKey       string
}

type mappingKey struct {
	credential string
	model      string
}

// Registry is read-only after load and safe for concurrent use.
type Registry struct {
	entries map[mappingKey]Config
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[mappingKey]Config)}
}

func (r *Registry) Lookup(credential, model string) (Config, bool) {
	cfg, ok := r.entries[mappingKey{credential: credential, model: model}]
	return cfg, ok
}

func (r *Registry) Enabled() bool { return len(r.entries) > 0 }

func (r *Registry) Size() int { return len(r.entries) }

// TenantIDs returns the distinct tenant ids in the mapping, sorted.
func (r *Registry) TenantIDs() []string {
	seen := make(map[string]bool)
	for _, cfg := range r.entries {
		seen[cfg.TenantID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type rawEntry struct {
	Resource        string `json:"foundry_resource"`
	Model           string `json:"foundry_model"`
	APIKey          string `json:"foundry_api_key"`
	APIKeyEncrypted string `json:"foundry_api_key_encrypted"`
}

type rawTenant struct {
	Models map[string]rawEntry `json:"models"`
}

// LoadOptions names the sources a registry can be assembled from. Later
// sources override earlier ones per tenant: env JSON, then file, then
// Secrets Manager.
type LoadOptions struct {
	EnvJSON    string
	FilePath   string
	SecretName string
	Secrets    secrets.SecretStore
	Encryptor  *crypto.Encryptor
}

func Load(ctx context.Context, opts LoadOptions) (*Registry, error) {
	merged := make(map[string]rawTenant)

	if opts.EnvJSON != "" {
		if err := mergeRaw(merged, []byte(opts.EnvJSON)); err != nil {
			return nil, fmt.Errorf("parse TENANT_CONFIG_JSON: %w", err)
		}
	}

	if opts.FilePath != "" {
		data, err := os.ReadFile(opts.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read tenant config file: %w", err)
		}
		if err := mergeRaw(merged, data); err != nil {
			return nil, fmt.Errorf("parse tenant config file %s: %w", opts.FilePath, err)
		}
	}

	if opts.SecretName != "" && opts.Secrets != nil {
		secret, err := opts.Secrets.GetSecret(ctx, opts.SecretName)
		if err != nil {
			return nil, fmt.Errorf("fetch tenant config secret: %w", err)
		}
		if err := mergeRaw(merged, []byte(secret)); err != nil {
			return nil, fmt.Errorf("parse tenant config secret %s: %w", opts.SecretName, err)
		}
	}

	registry, err := flatten(merged, opts.Encryptor)
	if err != nil {
		return nil, err
	}

	if registry.Enabled() {
		slog.Info("tenant mapping loaded",
			"tenants", len(registry.TenantIDs()),
			"mappings", registry.Size())
	} else {
		slog.Info("tenant mapping disabled, no source configured")
	}
	return registry, nil
}

// mergeRaw accepts either {"tenants": {...}} or a bare tenant object and
// merges it into dst, replacing colliding tenant ids wholesale.
func mergeRaw(dst map[string]rawTenant, data []byte) error {
	var wrapper struct {
		Tenants map[string]rawTenant `json:"tenants"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Tenants) > 0 {
		for id, t := range wrapper.Tenants {
			dst[id] = t
		}
		return nil
	}

	var bare map[string]rawTenant
	if err := json.Unmarshal(data, &bare); err != nil {
		return err
	}
	for id, t := range bare {
		if id == "tenants" {
			continue
		}
		dst[id] = t
	}
	return nil
}

func flatten(raw map[string]rawTenant, enc *crypto.Encryptor) (*Registry, error) {
	registry := NewRegistry()
	for tenantID, t := range raw {
		for logicalModel, entry := range t.Models {
			apiKey := strings.TrimSpace(entry.APIKey)
			if apiKey == "" && entry.APIKeyEncrypted != "" {
				if enc == nil {
					return nil, fmt.Errorf("tenant %q model %q uses an encrypted key but no ENCRYPTION_KEY is configured", tenantID, logicalModel)
				}
				decrypted, err := enc.Decrypt(entry.APIKeyEncrypted)
				if err != nil {
					return nil, fmt.Errorf("decrypt key for tenant %q model %q: %w", tenantID, logicalModel, err)
				}
				apiKey = decrypted
			}

			cfg := Config{
				TenantID:     tenantID,
				LogicalModel: logicalModel,
				Resource:     strings.TrimSpace(entry.Resource),
				Model:        strings.TrimSpace(entry.Model),
				APIKey:       apiKey,
			}
			if tenantID == "" || logicalModel == "" || cfg.Resource == "" || cfg.Model == "" || cfg.APIKey == "" {
				return nil, fmt.Errorf("incomplete tenant config for tenant %q model %q: foundry_resource, foundry_model and foundry_api_key must all be set", tenantID, logicalModel)
			}

			key := mappingKey{credential: tenantID, model: logicalModel}
			if _, exists := registry.entries[key]; exists {
				return nil, fmt.Errorf("duplicate tenant config entry for tenant %q model %q", tenantID, logicalModel)
			}
			registry.entries[key] = cfg
		}
	}
	return registry, nil
}
