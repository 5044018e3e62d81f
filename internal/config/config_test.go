package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swappilot.json")
	writeFile(t, path, `{"chain": {"assets_file": "assets.yaml"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Lock.Driver != "memory" {
		t.Fatalf("expected memory drivers, got %q/%q", cfg.Storage.Driver, cfg.Lock.Driver)
	}
	if cfg.Settlement.SettlementAddress != "0x9008D19f58AAbD9eD0D60971565AA8510560ab41" {
		t.Fatalf("unexpected settlement address %s", cfg.Settlement.SettlementAddress)
	}
	if cfg.Executor.MaxAttempts != 12 {
		t.Fatalf("unexpected max attempts %d", cfg.Executor.MaxAttempts)
	}
	if cfg.Chain.AssetsFile != filepath.Join(dir, "assets.yaml") {
		t.Fatalf("assets file should resolve relative to config dir: %s", cfg.Chain.AssetsFile)
	}
	if cfg.Settlement.Timeout().Seconds() != 10 {
		t.Fatalf("unexpected default timeout %s", cfg.Settlement.Timeout())
	}
}

func TestLoadResolvesSecretsFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swappilot.json")
	writeFile(t, path, `{
  "server": {"cron_secret_env": "SP_TEST_CRON_SECRET"},
  "storage": {"driver": "mysql", "dsn_env": "SP_TEST_DSN"}
}`)
	writeFile(t, filepath.Join(dir, ".env"), "SP_TEST_CRON_SECRET=from-dotenv\n")
	t.Setenv("SP_TEST_DSN", "user:pass@tcp(localhost:3306)/swappilot")
	t.Cleanup(func() { os.Unsetenv("SP_TEST_CRON_SECRET") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.CronSecret != "from-dotenv" {
		t.Fatalf("expected secret from .env, got %q", cfg.Server.CronSecret)
	}
	if cfg.Storage.DSN != "user:pass@tcp(localhost:3306)/swappilot" {
		t.Fatalf("unexpected dsn %q", cfg.Storage.DSN)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	writeFile(t, path, `{"server":`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("SWAPPILOT_CONFIG", "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv("SWAPPILOT_CONFIG", "/etc/swappilot.json")
	if PathFromEnv() != "/etc/swappilot.json" {
		t.Fatalf("expected env override")
	}
}
