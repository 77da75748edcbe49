package secrets

import (
	"context"
	"testing"
)

func TestNewInMemorySecretStore(t *testing.T) {
	store := NewInMemorySecretStore()
	if store == nil {
		t.Fatal("NewInMemorySecretStore() returned nil")
	}
}

func TestInMemorySecretStore_SetAndGet(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	store.SetSecret("tenant-mapping", `{"sk-alpha": {"resource": "myres"}}`)

	value, err := store.GetSecret(ctx, "tenant-mapping")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != `{"sk-alpha": {"resource": "myres"}}` {
		t.Errorf("GetSecret() = %v", value)
	}
}

func TestInMemorySecretStore_GetNotFound(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	_, err := store.GetSecret(ctx, "nonexistent")
	if err == nil {
		t.Error("GetSecret() should return error for nonexistent secret")
	}
}

func TestInMemorySecretStore_Overwrite(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	store.SetSecret("tenant-mapping", "value1")
	store.SetSecret("tenant-mapping", "value2")

	value, _ := store.GetSecret(ctx, "tenant-mapping")
	if value != "value2" {
		t.Errorf("GetSecret() = %v, want value2", value)
	}
}

func TestInMemorySecretStore_MultipleSecrets(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	secrets := map[string]string{
		"tenant-mapping-prod":    `{"sk-prod": {"resource": "prodres"}}`,
		"tenant-mapping-staging": `{"sk-stage": {"resource": "stageres"}}`,
	}

	for name, value := range secrets {
		store.SetSecret(name, value)
	}

	for name, expected := range secrets {
		value, err := store.GetSecret(ctx, name)
		if err != nil {
			t.Errorf("GetSecret(%s) error = %v", name, err)
		}
		if value != expected {
			t.Errorf("GetSecret(%s) = %v, want %v", name, value, expected)
		}
	}
}
