package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  addr: ":9090"
  api_key: secret-token
  read_timeout: 10s
database:
  dsn: ":memory:"
logging:
  level: debug
  format: text
telemetry:
  tracing:
    enabled: true
    endpoint: localhost:4317
    sample_rate: 0.25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.APIKey != "secret-token" {
		t.Errorf("api_key = %q", cfg.Server.APIKey)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Telemetry.Tracing.Enabled || cfg.Telemetry.Tracing.SampleRate != 0.25 {
		t.Errorf("tracing = %+v", cfg.Telemetry.Tracing)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":7000\"\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q, want override", cfg.Server.Addr)
	}
	if cfg.Server.WriteTimeout != 120*time.Second {
		t.Errorf("write_timeout = %v, want default 120s", cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout = %v, want default 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.DSN != "switchyard.db" {
		t.Errorf("dsn = %q, want default", cfg.Database.DSN)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics should default to enabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("SWITCHYARD_TEST_KEY", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  api_key: ${SWITCHYARD_TEST_KEY}
  addr: ${SWITCHYARD_TEST_ADDR:-:8111}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.APIKey != "from-env" {
		t.Errorf("api_key = %q, want env expansion", cfg.Server.APIKey)
	}
	if cfg.Server.Addr != ":8111" {
		t.Errorf("addr = %q, want fallback default", cfg.Server.Addr)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("SWITCHYARD_SET", "value")

	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"${SWITCHYARD_SET}", "value"},
		{"${SWITCHYARD_UNSET_VAR}", "${SWITCHYARD_UNSET_VAR}"},
		{"${SWITCHYARD_UNSET_VAR:-fallback}", "fallback"},
		{"${SWITCHYARD_SET:-fallback}", "value"},
		{"${SWITCHYARD_UNSET_VAR:-}", ""},
		{"a ${SWITCHYARD_SET} b", "a value b"},
	}
	for _, c := range cases {
		if got := string(expandEnv([]byte(c.in))); got != c.want {
			t.Errorf("expandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveDSN(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	cfg := Default()

	t.Setenv("DATABASE_URL", "")
	if got := cfg.ResolveDSN(); got != "switchyard.db" {
		t.Errorf("dsn = %q, want config value", got)
	}

	t.Setenv("DATABASE_URL", "/var/lib/switchyard/gw.db")
	if got := cfg.ResolveDSN(); got != "/var/lib/switchyard/gw.db" {
		t.Errorf("dsn = %q, want DATABASE_URL override", got)
	}
}
