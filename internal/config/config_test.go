package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/internal/config"
)

const sample = `
addr = ":9090"
log_level = "debug"
store_dsn = "sqlite:///var/lib/jascrapers/jobs.db"

[sink]
dsn = "file:///var/lib/jascrapers/results"

[orchestrator]
concurrency = 4
lease_ttl = "45s"
sink_timeout = "10s"
max_retries = 0

[[supplier]]
name = "acme"
base_url = "https://acme.example.com"
max_concurrency = 2
timeout = "20s"
currency = "usd"
timezone = "America/Chicago"
required = ["part"]
rate_limit = { requests = 10, per = "1m", burst = 2 }

[supplier.mapping]
part_id = ["PartNo"]

[[cron]]
name = "acme-nightly"
schedule = "0 2 * * *"
supplier = "acme"
parameters = { part = "AN3-5A" }
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jascrapers.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.StoreDSN != "memory://" || cfg.Sink.DSN != "memory://" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if lvl, _ := cfg.Level(); lvl != slog.LevelInfo {
		t.Errorf("Level() = %v, want info", lvl)
	}
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Sink.DSN != "file:///var/lib/jascrapers/results" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Sink.Database != "jascrapers" {
		t.Errorf("Sink.Database = %q, want default kept", cfg.Sink.Database)
	}

	if len(cfg.Suppliers) != 1 {
		t.Fatalf("got %d suppliers, want 1", len(cfg.Suppliers))
	}
	d, err := cfg.Suppliers[0].Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if d.Timeout != 20*time.Second || d.RateLimit.Per != time.Minute || d.RateLimit.Requests != 10 {
		t.Errorf("unexpected descriptor: %+v", d)
	}
	if d.Location == nil || d.Location.String() != "America/Chicago" {
		t.Errorf("Location = %v", d.Location)
	}
	if got := d.Mapping["part_id"]; len(got) != 1 || got[0] != "PartNo" {
		t.Errorf("Mapping = %v", d.Mapping)
	}

	if len(cfg.Cron) != 1 || cfg.Cron[0].Parameters["part"] != "AN3-5A" {
		t.Errorf("unexpected cron entries: %+v", cfg.Cron)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "acme" {
		t.Errorf("Names() = %v", names)
	}
}

func TestOptions_OverrideDefaults(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	o, err := jascrapers.New(cfg.Options()...)
	if err != nil {
		t.Fatalf("jascrapers.New: %v", err)
	}
	got, def := o.Config(), jascrapers.DefaultConfig()
	if got.Concurrency != 4 || got.LeaseTTL != 45*time.Second || got.SinkTimeout != 10*time.Second {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, an explicit zero must be kept", got.MaxRetries)
	}
	if got.ScanInterval != def.ScanInterval || got.BackoffJitter != def.BackoffJitter {
		t.Errorf("unset fields should keep defaults: %+v", got)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("JASCRAPERS_ADDR", ":7000")
	t.Setenv("JASCRAPERS_SINK_DSN", "memory://")
	t.Setenv("JASCRAPERS_MAX_RETRIES", "5")

	cfg, err := config.Load(writeFile(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.Sink.DSN != "memory://" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Orchestrator.MaxRetries == nil || *cfg.Orchestrator.MaxRetries != 5 {
		t.Errorf("MaxRetries = %v, want 5", cfg.Orchestrator.MaxRetries)
	}

	t.Setenv("JASCRAPERS_CONCURRENCY", "many")
	if _, err := config.Load(""); err == nil {
		t.Error("expected an error for a non-numeric concurrency")
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", `colour = "red"`, "unknown keys colour"},
		{"bad level", `log_level = "loud"`, "log_level"},
		{"supplier without url", "[[supplier]]\nname = \"acme\"", "base_url is required"},
		{"duplicate supplier", "[[supplier]]\nname = \"a\"\nbase_url = \"http://a\"\n[[supplier]]\nname = \"a\"\nbase_url = \"http://a\"", "declared twice"},
		{"bad timezone", "[[supplier]]\nname = \"a\"\nbase_url = \"http://a\"\ntimezone = \"Mars/Olympus\"", "Mars/Olympus"},
		{"cron for unknown supplier", "[[cron]]\nname = \"x\"\nschedule = \"@daily\"\nsupplier = \"nobody\"", "unknown supplier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
