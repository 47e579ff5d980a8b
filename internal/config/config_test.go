package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 8765 {
		t.Errorf("api port = %d", cfg.API.Port)
	}
	if cfg.COHN.ProvisionTimeout != 300*time.Second {
		t.Errorf("provision timeout = %s", cfg.COHN.ProvisionTimeout)
	}
	if cfg.Monitor.SweepInterval != 500*time.Millisecond {
		t.Errorf("sweep interval = %s", cfg.Monitor.SweepInterval)
	}
	if cfg.Monitor.ProbeInterval != 5*time.Minute {
		t.Errorf("probe interval = %s", cfg.Monitor.ProbeInterval)
	}
	if cfg.BLE.ConnectAttempts != 2 {
		t.Errorf("connect attempts = %d", cfg.BLE.ConnectAttempts)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
api:
  port: 9000
jwt:
  secret: from-file
storage:
  data_dir: /tmp/from-file
cohn:
  ssid: RigNetwork
  password: hunter2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAMRIG_DATA_DIR", "/tmp/from-env")
	t.Setenv("GOPRO_BLE_DEBUG", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("api port = %d", cfg.API.Port)
	}
	if cfg.Storage.DataDir != "/tmp/from-env" {
		t.Errorf("data dir = %q, env override lost", cfg.Storage.DataDir)
	}
	if !cfg.BLE.DebugHex {
		t.Error("GOPRO_BLE_DEBUG not applied")
	}
	if cfg.COHN.SSID != "RigNetwork" || cfg.COHN.Password != "hunter2" {
		t.Errorf("cohn = %+v", cfg.COHN)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
}
