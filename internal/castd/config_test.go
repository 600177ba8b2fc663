package castd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "castpointd.toml")
	data := []byte("" +
		"[server]\n" +
		"broker = \"mqtt://localhost\"\n" +
		"identity = \"castpointd-test\"\n" +
		"\n" +
		"[modules.bridge]\n" +
		"enabled = true\n" +
		"node_id = \"office\"\n" +
		"search_timeout_ms = 10000\n" +
		"store_path = \"/tmp/castpoint/devices.db\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Broker != "mqtt://localhost" {
		t.Fatalf("expected broker")
	}
	if !cfg.Modules.Bridge.Enabled {
		t.Fatalf("expected bridge enabled")
	}
	if cfg.Modules.Bridge.SearchTimeoutMS != 10000 {
		t.Fatalf("expected search timeout, got %d", cfg.Modules.Bridge.SearchTimeoutMS)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path == "" {
		t.Fatalf("expected path")
	}
}
