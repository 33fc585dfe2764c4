package vault

import (
	"context"
	"testing"
)

func TestDisabledModeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()

	if _, err := c.GetCredentials(ctx, "testnet"); err == nil {
		t.Fatal("expected error for missing credentials")
	}

	err := c.StoreCredentials(ctx, CredentialData{
		APIKey:      "key",
		APISecret:   "secret",
		Environment: "testnet",
	})
	if err != nil {
		t.Fatalf("StoreCredentials: %v", err)
	}

	creds, err := c.GetCredentials(ctx, "testnet")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if creds.APIKey != "key" || creds.APISecret != "secret" {
		t.Errorf("credentials = %+v", creds)
	}

	// Environments are isolated.
	if _, err := c.GetCredentials(ctx, "mainnet"); err == nil {
		t.Error("mainnet credentials should not exist")
	}

	if err := c.DeleteCredentials(ctx, "testnet"); err != nil {
		t.Fatalf("DeleteCredentials: %v", err)
	}
	if _, err := c.GetCredentials(ctx, "testnet"); err == nil {
		t.Error("deleted credentials still readable")
	}
}

func TestDisabledModeHealth(t *testing.T) {
	c := NewMockClient()
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("disabled vault must report healthy: %v", err)
	}
	if c.IsEnabled() {
		t.Error("mock client reports enabled")
	}
}
