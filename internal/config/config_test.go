package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 8317 {
		t.Fatalf("Load() = %+v, want default host/port", cfg)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gproxy.yaml")
	contents := "host: 127.0.0.1\nport: 9000\nadmin-key: topsecret\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9000 || cfg.AdminKey != "topsecret" {
		t.Fatalf("Load() = %+v, want parsed yaml values", cfg)
	}
}

func TestLoadEnvFallbackOnlyAppliesToZeroFields(t *testing.T) {
	t.Setenv("GPROXY_ADMIN_KEY", "from-env")
	t.Setenv("GPROXY_HOST", "from-env-host")

	path := filepath.Join(t.TempDir(), "gproxy.yaml")
	if err := os.WriteFile(path, []byte("host: file-host\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Host != "file-host" {
		t.Fatalf("Host = %q, want the file value to win over the env fallback", cfg.Host)
	}
	if cfg.AdminKey != "from-env" {
		t.Fatalf("AdminKey = %q, want the env fallback since the file left it empty", cfg.AdminKey)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gproxy.yaml")
	if err := os.WriteFile(path, []byte("host: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with malformed yaml: want error")
	}
}
