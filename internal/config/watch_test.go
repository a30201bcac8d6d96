package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	tenantsV1 = "tenants:\n  - publicHandle: acmeHomes0123456789\n    displayName: Acme Homes\n"
	tenantsV2 = "tenants:\n  - publicHandle: acmeHomes0123456789\n    displayName: Acme Homes Ltd\n  - publicHandle: betaBuild_er-98765\n    displayName: Beta Builders\n"
)

func TestWatchTenantsFileReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	tenantsFile := filepath.Join(dir, "tenants.yaml")
	if err := os.WriteFile(tenantsFile, []byte(tenantsV1), 0o600); err != nil {
		t.Fatalf("failed to write tenants file: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Directory.Backend = "file"
	cfg.Directory.File = tenantsFile

	changeCh := make(chan []TenantConfig, 4)
	errCh := make(chan error, 4)

	loader := NewLoader("PRICEFEED")
	watcher, err := loader.WatchTenants(ctx, cfg, func(tenants []TenantConfig) {
		changeCh <- tenants
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	select {
	case tenants := <-changeCh:
		if len(tenants) != 1 || tenants[0].DisplayName != "Acme Homes" {
			t.Fatalf("unexpected initial tenants: %+v", tenants)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for initial change event")
	}

	if err := os.WriteFile(tenantsFile, []byte(tenantsV2), 0o600); err != nil {
		t.Fatalf("failed to update tenants file: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case tenants := <-changeCh:
			if len(tenants) == 2 && tenants[0].DisplayName == "Acme Homes Ltd" {
				return
			}
		case err := <-errCh:
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatal("timeout waiting for reload event")
		}
	}
}

func TestWatchTenantsRequiresFileAndCallback(t *testing.T) {
	loader := NewLoader("PRICEFEED")
	cfg := DefaultConfig()
	if _, err := loader.WatchTenants(context.Background(), cfg, func([]TenantConfig) {}, nil); err == nil {
		t.Fatal("expected error without a tenants file")
	}
	cfg.Directory.File = filepath.Join(t.TempDir(), "tenants.yaml")
	if _, err := loader.WatchTenants(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error without a change callback")
	}
	if _, err := loader.WatchTenants(context.Background(), cfg, func([]TenantConfig) {}, nil); err == nil {
		t.Fatal("expected error for a missing tenants file")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	var nilWatcher *TenantsWatcher
	nilWatcher.Stop()

	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(tenantsV1), 0o600); err != nil {
		t.Fatalf("failed to write tenants file: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Directory.File = path
	watcher, err := NewLoader("").WatchTenants(context.Background(), cfg, func([]TenantConfig) {}, nil)
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
