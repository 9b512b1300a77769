// Package config manages spdm-emu daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete spdm-emu configuration.
type Config struct {
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	SPDM      SPDMConfig      `koanf:"spdm"`
}

// TransportConfig holds the SPDM message transport endpoint configuration.
type TransportConfig struct {
	// Addr is the transport listen address for a responder, or the dial
	// address for a requester (e.g., ":4194" or "127.0.0.1:4194").
	Addr string `koanf:"addr"`

	// DialTimeout is the configured bound on establishing the underlying
	// transport connection. transport.DialTCP takes no timeout, and the
	// requester emulator does not read this field.
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SPDMConfig holds the negotiable SPDM surface: the versions and algorithms
// a local endpoint offers, the transcript strategy it runs, and the
// certificate material it trusts or presents.
type SPDMConfig struct {
	// Versions lists the SPDM versions this endpoint offers, most
	// preferred first, as "major.minor" strings (e.g. "1.2").
	Versions []string `koanf:"versions"`

	// Capabilities lists the capability flag names this endpoint sets in
	// GET_CAPABILITIES/CAPABILITIES. Recognized names: cert, chal, meas,
	// meas_fresh, encrypt, mac, mut_auth, key_ex, psk, encap, hbeat,
	// key_upd, handshake_in_the_clear, pub_key_id_exch.
	Capabilities []string `koanf:"capabilities"`

	// BaseHashAlgos lists offered hash algorithms: sha256, sha384, sha512.
	BaseHashAlgos []string `koanf:"base_hash_algos"`

	// BaseAsymAlgos lists offered asymmetric algorithms: rsassa_2048,
	// rsapss_2048, rsassa_3072, rsapss_3072, ecdsa_p256, rsassa_4096,
	// rsapss_4096, ecdsa_p384, ecdsa_p521.
	BaseAsymAlgos []string `koanf:"base_asym_algos"`

	// DHEGroups lists offered Diffie-Hellman groups: ffdhe2048,
	// ffdhe3072, ffdhe4096, secp256r1, secp384r1, secp521r1.
	DHEGroups []string `koanf:"dhe_groups"`

	// AEADAlgos lists offered AEAD ciphers: aes_128_gcm, aes_256_gcm,
	// chacha20_poly1305.
	AEADAlgos []string `koanf:"aead_algos"`

	// MeasurementHashAlgos lists offered measurement hash algorithms:
	// raw_bit, sha256, sha384, sha512.
	MeasurementHashAlgos []string `koanf:"measurement_hash_algos"`

	// TranscriptMode selects the Transcript implementation: "buffered"
	// (re-hash on demand, suited to short-lived sessions) or "streaming"
	// (running hash state per buffer, suited to long-lived responders
	// with many concurrent handshakes).
	TranscriptMode string `koanf:"transcript_mode"`

	// SlotCount is the configured number of certificate-chain slots
	// (Validate requires 1..8, DSP0274's maximum). The emulators do not
	// read it; the reference secret provider always has exactly slot 0.
	SlotCount uint8 `koanf:"slot_count"`

	// MaxSessions is the configured session limit (Validate requires
	// >= 1). The emulators do not read it; the session table's capacity
	// is the fixed spdm.MaxSessions.
	MaxSessions uint8 `koanf:"max_sessions"`

	// ProvisionedRootsPath is a PEM file of CA root certificates a
	// requester trusts when verifying a responder's certificate chain.
	ProvisionedRootsPath string `koanf:"provisioned_roots_path"`

	// CertChainPath names a PEM file of a leaf-to-root certificate chain.
	// The responder emulator does not read it: it presents the chain its
	// reference secret provider generates at startup.
	CertChainPath string `koanf:"cert_chain_path"`

	// PrivateKeyPath names a PEM-encoded private key matching the leaf
	// certificate in CertChainPath. The responder emulator does not read
	// it: it signs with the generated reference leaf key.
	PrivateKeyPath string `koanf:"private_key_path"`

	// PSKHint identifies the pre-shared key used for PSK_EXCHANGE when no
	// certificate-based authentication is configured.
	PSKHint string `koanf:"psk_hint"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The default algorithm offer follows DSP0274's mandatory-to-implement
// baseline: SHA-256, ECDSA P-256, ECDHE secp256r1, AES-256-GCM, and the
// DMTF measurement spec, with version 1.2 preferred and 1.1 offered as a
// fallback.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Addr:        ":4194",
			DialTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		SPDM: SPDMConfig{
			Versions:             []string{"1.2", "1.1"},
			Capabilities:         []string{"cert", "chal", "meas", "encrypt", "mac", "key_ex", "psk", "hbeat", "key_upd"},
			BaseHashAlgos:        []string{"sha256"},
			BaseAsymAlgos:        []string{"ecdsa_p256"},
			DHEGroups:            []string{"secp256r1"},
			AEADAlgos:            []string{"aes_256_gcm"},
			MeasurementHashAlgos: []string{"sha256"},
			TranscriptMode:       "buffered",
			SlotCount:            1,
			MaxSessions:          4,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for spdm-emu configuration.
// Variables are named SPDMEMU_<section>_<key>, e.g., SPDMEMU_TRANSPORT_ADDR.
const envPrefix = "SPDMEMU_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SPDMEMU_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	SPDMEMU_TRANSPORT_ADDR -> transport.addr
//	SPDMEMU_METRICS_ADDR   -> metrics.addr
//	SPDMEMU_METRICS_PATH   -> metrics.path
//	SPDMEMU_LOG_LEVEL      -> log.level
//	SPDMEMU_LOG_FORMAT     -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// SPDMEMU_TRANSPORT_ADDR -> transport.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SPDMEMU_TRANSPORT_ADDR -> transport.addr.
// Strips the SPDMEMU_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"transport.addr":                 defaults.Transport.Addr,
		"transport.dial_timeout":         defaults.Transport.DialTimeout.String(),
		"metrics.addr":                   defaults.Metrics.Addr,
		"metrics.path":                   defaults.Metrics.Path,
		"log.level":                      defaults.Log.Level,
		"log.format":                     defaults.Log.Format,
		"spdm.versions":                  defaults.SPDM.Versions,
		"spdm.capabilities":              defaults.SPDM.Capabilities,
		"spdm.base_hash_algos":           defaults.SPDM.BaseHashAlgos,
		"spdm.base_asym_algos":           defaults.SPDM.BaseAsymAlgos,
		"spdm.dhe_groups":                defaults.SPDM.DHEGroups,
		"spdm.aead_algos":                defaults.SPDM.AEADAlgos,
		"spdm.measurement_hash_algos":    defaults.SPDM.MeasurementHashAlgos,
		"spdm.transcript_mode":           defaults.SPDM.TranscriptMode,
		"spdm.slot_count":                defaults.SPDM.SlotCount,
		"spdm.max_sessions":              defaults.SPDM.MaxSessions,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyTransportAddr indicates the transport address is empty.
	ErrEmptyTransportAddr = errors.New("transport.addr must not be empty")

	// ErrNoVersionsOffered indicates no SPDM versions were configured.
	ErrNoVersionsOffered = errors.New("spdm.versions must list at least one version")

	// ErrInvalidVersion indicates a version string isn't "major.minor".
	ErrInvalidVersion = errors.New("spdm version must be formatted as major.minor")

	// ErrNoHashAlgoOffered indicates no base hash algorithm was configured.
	ErrNoHashAlgoOffered = errors.New("spdm.base_hash_algos must list at least one algorithm")

	// ErrUnknownCapability indicates an unrecognized capability flag name.
	ErrUnknownCapability = errors.New("unrecognized spdm capability name")

	// ErrUnknownAlgoName indicates an unrecognized algorithm name in one
	// of the algorithm-offer lists.
	ErrUnknownAlgoName = errors.New("unrecognized spdm algorithm name")

	// ErrInvalidSlotCount indicates slot_count is zero or exceeds DSP0274's
	// eight-slot maximum.
	ErrInvalidSlotCount = errors.New("spdm.slot_count must be between 1 and 8")

	// ErrInvalidMaxSessions indicates max_sessions is zero.
	ErrInvalidMaxSessions = errors.New("spdm.max_sessions must be >= 1")

	// ErrInvalidTranscriptMode indicates transcript_mode isn't a
	// recognized value.
	ErrInvalidTranscriptMode = errors.New("spdm.transcript_mode must be buffered or streaming")
)

// capabilityNames lists every capability flag name recognized in
// SPDMConfig.Capabilities.
var capabilityNames = map[string]bool{
	"cert": true, "chal": true, "meas": true, "meas_fresh": true,
	"encrypt": true, "mac": true, "mut_auth": true, "key_ex": true,
	"psk": true, "encap": true, "hbeat": true, "key_upd": true,
	"handshake_in_the_clear": true, "pub_key_id_exch": true,
}

var baseHashNames = map[string]bool{"sha256": true, "sha384": true, "sha512": true}

var baseAsymNames = map[string]bool{
	"rsassa_2048": true, "rsapss_2048": true, "rsassa_3072": true, "rsapss_3072": true,
	"ecdsa_p256": true, "rsassa_4096": true, "rsapss_4096": true, "ecdsa_p384": true, "ecdsa_p521": true,
}

var dheGroupNames = map[string]bool{
	"ffdhe2048": true, "ffdhe3072": true, "ffdhe4096": true,
	"secp256r1": true, "secp384r1": true, "secp521r1": true,
}

var aeadAlgoNames = map[string]bool{"aes_128_gcm": true, "aes_256_gcm": true, "chacha20_poly1305": true}

var measHashNames = map[string]bool{"raw_bit": true, "sha256": true, "sha384": true, "sha512": true}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Transport.Addr == "" {
		return ErrEmptyTransportAddr
	}

	if len(cfg.SPDM.Versions) == 0 {
		return ErrNoVersionsOffered
	}
	for _, v := range cfg.SPDM.Versions {
		if _, _, err := parseVersion(v); err != nil {
			return fmt.Errorf("spdm.versions %q: %w", v, err)
		}
	}

	if len(cfg.SPDM.BaseHashAlgos) == 0 {
		return ErrNoHashAlgoOffered
	}

	if err := checkNames(cfg.SPDM.Capabilities, capabilityNames, ErrUnknownCapability); err != nil {
		return err
	}
	if err := checkNames(cfg.SPDM.BaseHashAlgos, baseHashNames, ErrUnknownAlgoName); err != nil {
		return err
	}
	if err := checkNames(cfg.SPDM.BaseAsymAlgos, baseAsymNames, ErrUnknownAlgoName); err != nil {
		return err
	}
	if err := checkNames(cfg.SPDM.DHEGroups, dheGroupNames, ErrUnknownAlgoName); err != nil {
		return err
	}
	if err := checkNames(cfg.SPDM.AEADAlgos, aeadAlgoNames, ErrUnknownAlgoName); err != nil {
		return err
	}
	if err := checkNames(cfg.SPDM.MeasurementHashAlgos, measHashNames, ErrUnknownAlgoName); err != nil {
		return err
	}

	if cfg.SPDM.SlotCount < 1 || cfg.SPDM.SlotCount > 8 {
		return ErrInvalidSlotCount
	}

	if cfg.SPDM.MaxSessions < 1 {
		return ErrInvalidMaxSessions
	}

	switch cfg.SPDM.TranscriptMode {
	case "buffered", "streaming":
	default:
		return ErrInvalidTranscriptMode
	}

	return nil
}

// checkNames reports an error naming the first entry of names not present
// in allowed, wrapping base.
func checkNames(names []string, allowed map[string]bool, base error) error {
	for _, n := range names {
		if !allowed[n] {
			return fmt.Errorf("%q: %w", n, base)
		}
	}
	return nil
}

// parseVersion parses a "major.minor" string into its numeric parts.
func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, ErrInvalidVersion
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &major); err != nil {
		return 0, 0, ErrInvalidVersion
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minor); err != nil {
		return 0, 0, ErrInvalidVersion
	}
	return major, minor, nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
