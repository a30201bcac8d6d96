package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTenantsFormats(t *testing.T) {
	dir := t.TempDir()
	docs := map[string]string{
		"tenants.yaml": tenantsV1,
		"tenants.json": `{"tenants":[{"publicHandle":"acmeHomes0123456789","displayName":"Acme Homes"}]}`,
		"tenants.toml": "[[tenants]]\npublicHandle = \"acmeHomes0123456789\"\ndisplayName = \"Acme Homes\"\n",
	}
	for name, contents := range docs {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
			tenants, err := LoadTenants(path)
			require.NoError(t, err)
			require.Equal(t, []TenantConfig{{PublicHandle: "acmeHomes0123456789", DisplayName: "Acme Homes"}}, tenants)
		})
	}
}

func TestLoadTenantsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTenants(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = LoadTenants(dir)
	require.ErrorContains(t, err, "expected a file")

	ini := filepath.Join(dir, "tenants.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o600))
	_, err = LoadTenants(ini)
	require.ErrorContains(t, err, "unsupported tenants file extension")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("tenants: [\n"), 0o600))
	_, err = LoadTenants(broken)
	require.Error(t, err)
}
