package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type tenantDocument struct {
	Tenants []TenantConfig `koanf:"tenants"`
}

// LoadTenants reads a tenants file. The format follows the extension; YAML,
// JSON and TOML documents all carry a top-level tenants list.
func LoadTenants(path string) ([]TenantConfig, error) {
	if err := ensureFileExists(path); err != nil {
		return nil, err
	}
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: load tenants from %s: %w", path, err)
	}
	var doc tenantDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("config: decode tenants from %s: %w", path, err)
	}
	return doc.Tenants, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: tenants file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: tenants file %s: expected a file, found directory", path)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported tenants file extension %s", ext)
	}
}
