package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spdm-core/spdm-core/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Transport.Addr != ":4194" {
		t.Errorf("Transport.Addr = %q, want %q", cfg.Transport.Addr, ":4194")
	}

	if cfg.Transport.DialTimeout != 5*time.Second {
		t.Errorf("Transport.DialTimeout = %v, want %v", cfg.Transport.DialTimeout, 5*time.Second)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.SPDM.TranscriptMode != "buffered" {
		t.Errorf("SPDM.TranscriptMode = %q, want %q", cfg.SPDM.TranscriptMode, "buffered")
	}

	if cfg.SPDM.SlotCount != 1 {
		t.Errorf("SPDM.SlotCount = %d, want %d", cfg.SPDM.SlotCount, 1)
	}

	if cfg.SPDM.MaxSessions != 4 {
		t.Errorf("SPDM.MaxSessions = %d, want %d", cfg.SPDM.MaxSessions, 4)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
transport:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
spdm:
  versions: ["1.1"]
  transcript_mode: "streaming"
  slot_count: 2
  max_sessions: 8
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Transport.Addr != ":60000" {
		t.Errorf("Transport.Addr = %q, want %q", cfg.Transport.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if len(cfg.SPDM.Versions) != 1 || cfg.SPDM.Versions[0] != "1.1" {
		t.Errorf("SPDM.Versions = %v, want [1.1]", cfg.SPDM.Versions)
	}

	if cfg.SPDM.TranscriptMode != "streaming" {
		t.Errorf("SPDM.TranscriptMode = %q, want %q", cfg.SPDM.TranscriptMode, "streaming")
	}

	if cfg.SPDM.SlotCount != 2 {
		t.Errorf("SPDM.SlotCount = %d, want %d", cfg.SPDM.SlotCount, 2)
	}

	if cfg.SPDM.MaxSessions != 8 {
		t.Errorf("SPDM.MaxSessions = %d, want %d", cfg.SPDM.MaxSessions, 8)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override transport.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
transport:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Transport.Addr != ":55555" {
		t.Errorf("Transport.Addr = %q, want %q", cfg.Transport.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.SPDM.TranscriptMode != "buffered" {
		t.Errorf("SPDM.TranscriptMode = %q, want default %q", cfg.SPDM.TranscriptMode, "buffered")
	}

	if cfg.SPDM.MaxSessions != 4 {
		t.Errorf("SPDM.MaxSessions = %d, want default %d", cfg.SPDM.MaxSessions, 4)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty transport addr",
			modify: func(cfg *config.Config) {
				cfg.Transport.Addr = ""
			},
			wantErr: config.ErrEmptyTransportAddr,
		},
		{
			name: "no versions offered",
			modify: func(cfg *config.Config) {
				cfg.SPDM.Versions = nil
			},
			wantErr: config.ErrNoVersionsOffered,
		},
		{
			name: "invalid version format",
			modify: func(cfg *config.Config) {
				cfg.SPDM.Versions = []string{"bogus"}
			},
			wantErr: config.ErrInvalidVersion,
		},
		{
			name: "no hash algos offered",
			modify: func(cfg *config.Config) {
				cfg.SPDM.BaseHashAlgos = nil
			},
			wantErr: config.ErrNoHashAlgoOffered,
		},
		{
			name: "unknown capability",
			modify: func(cfg *config.Config) {
				cfg.SPDM.Capabilities = []string{"bogus_cap"}
			},
			wantErr: config.ErrUnknownCapability,
		},
		{
			name: "unknown hash algo",
			modify: func(cfg *config.Config) {
				cfg.SPDM.BaseHashAlgos = []string{"sha1024"}
			},
			wantErr: config.ErrUnknownAlgoName,
		},
		{
			name: "slot count zero",
			modify: func(cfg *config.Config) {
				cfg.SPDM.SlotCount = 0
			},
			wantErr: config.ErrInvalidSlotCount,
		},
		{
			name: "slot count too large",
			modify: func(cfg *config.Config) {
				cfg.SPDM.SlotCount = 9
			},
			wantErr: config.ErrInvalidSlotCount,
		},
		{
			name: "max sessions zero",
			modify: func(cfg *config.Config) {
				cfg.SPDM.MaxSessions = 0
			},
			wantErr: config.ErrInvalidMaxSessions,
		},
		{
			name: "invalid transcript mode",
			modify: func(cfg *config.Config) {
				cfg.SPDM.TranscriptMode = "bogus"
			},
			wantErr: config.ErrInvalidTranscriptMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestResolveAlgorithmOffer(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	offer, err := cfg.SPDM.ResolveAlgorithmOffer()
	if err != nil {
		t.Fatalf("ResolveAlgorithmOffer() error: %v", err)
	}

	if offer.BaseHash == 0 {
		t.Error("ResolveAlgorithmOffer() left BaseHash empty")
	}
	if offer.BaseAsym == 0 {
		t.Error("ResolveAlgorithmOffer() left BaseAsym empty")
	}
	if offer.DHE == 0 {
		t.Error("ResolveAlgorithmOffer() left DHE empty")
	}
	if offer.AEAD == 0 {
		t.Error("ResolveAlgorithmOffer() left AEAD empty")
	}
}

func TestResolveVersions(t *testing.T) {
	t.Parallel()

	versions, err := config.ResolveVersions([]string{"1.2", "1.1", "1.0"})
	if err != nil {
		t.Fatalf("ResolveVersions() error: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("ResolveVersions() returned %d entries, want 3", len(versions))
	}
	if versions[0] <= versions[1] || versions[1] <= versions[2] {
		t.Errorf("ResolveVersions() not in descending numeric order: %v", versions)
	}
}

func TestResolveCapabilities(t *testing.T) {
	t.Parallel()

	flags, err := config.ResolveCapabilities([]string{"cert", "chal"})
	if err != nil {
		t.Fatalf("ResolveCapabilities() error: %v", err)
	}
	if flags == 0 {
		t.Error("ResolveCapabilities() returned zero flags")
	}

	if _, err := config.ResolveCapabilities([]string{"bogus"}); !errors.Is(err, config.ErrUnknownCapability) {
		t.Errorf("ResolveCapabilities() error = %v, want ErrUnknownCapability", err)
	}
}

func TestResolveTranscriptMode(t *testing.T) {
	t.Parallel()

	if _, err := config.ResolveTranscriptMode("buffered"); err != nil {
		t.Errorf("ResolveTranscriptMode(buffered) error: %v", err)
	}
	if _, err := config.ResolveTranscriptMode("streaming"); err != nil {
		t.Errorf("ResolveTranscriptMode(streaming) error: %v", err)
	}
	if _, err := config.ResolveTranscriptMode("bogus"); !errors.Is(err, config.ErrInvalidTranscriptMode) {
		t.Errorf("ResolveTranscriptMode(bogus) error = %v, want ErrInvalidTranscriptMode", err)
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
transport:
  addr: ":4194"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	// Set env overrides.
	t.Setenv("SPDMEMU_TRANSPORT_ADDR", ":60000")
	t.Setenv("SPDMEMU_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Transport.Addr != ":60000" {
		t.Errorf("Transport.Addr = %q, want %q (from env)", cfg.Transport.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
transport:
  addr: ":4194"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("SPDMEMU_METRICS_ADDR", ":9200")
	t.Setenv("SPDMEMU_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "spdm-emu.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
