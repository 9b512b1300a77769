// spdm-requester-emu is a reference SPDM Requester: it dials a responder
// over loopback TCP, drives the full connection handshake and a
// KEY_EXCHANGE session to establishment, exercises HEARTBEAT, KEY_UPDATE,
// one secured application-data record, and END_SESSION, then exits.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/spdm-core/spdm-core/internal/config"
	"github.com/spdm-core/spdm-core/internal/cryptoprovider"
	"github.com/spdm-core/spdm-core/internal/spdm"
	"github.com/spdm-core/spdm-core/internal/transport"
	appversion "github.com/spdm-core/spdm-core/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	rootPath := flag.String("root", "", "PEM file of the responder's root certificate to trust (overrides spdm.provisioned_roots_path)")
	usePSK := flag.Bool("psk", false, "establish the session via PSK_EXCHANGE instead of KEY_EXCHANGE")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	if *rootPath != "" {
		cfg.SPDM.ProvisionedRootsPath = *rootPath
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("spdm-requester-emu starting",
		slog.String("version", appversion.Version),
		slog.String("transport_addr", cfg.Transport.Addr),
	)

	if err := runHandshake(cfg, *usePSK, logger); err != nil {
		logger.Error("handshake failed", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("spdm-requester-emu completed successfully")
	return 0
}

func runHandshake(cfg *config.Config, usePSK bool, logger *slog.Logger) error {
	roots, err := loadProvisionedRoots(cfg.SPDM.ProvisionedRootsPath)
	if err != nil {
		return fmt.Errorf("load provisioned roots: %w", err)
	}

	providers, err := cryptoprovider.NewReferenceProviders(cryptoprovider.Rand{})
	if err != nil {
		return fmt.Errorf("new providers: %w", err)
	}

	versions, err := config.ResolveVersions(cfg.SPDM.Versions)
	if err != nil {
		return fmt.Errorf("resolve versions: %w", err)
	}
	caps, err := config.ResolveCapabilities(cfg.SPDM.Capabilities)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}
	offer, err := cfg.SPDM.ResolveAlgorithmOffer()
	if err != nil {
		return fmt.Errorf("resolve algorithm offer: %w", err)
	}
	transcriptMode, err := config.ResolveTranscriptMode(cfg.SPDM.TranscriptMode)
	if err != nil {
		return fmt.Errorf("resolve transcript mode: %w", err)
	}

	spdmCtx, err := spdm.NewContext(providers, versions, caps, offer, transcriptMode, roots)
	if err != nil {
		return fmt.Errorf("new context: %w", err)
	}

	conn, err := transport.DialTCP(cfg.Transport.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Transport.Addr, err)
	}
	defer conn.Close()

	requester := spdm.NewRequester(spdmCtx, conn, transport.TagEncapper{})

	version, err := requester.GetVersion()
	if err != nil {
		return fmt.Errorf("GetVersion: %w", err)
	}
	if err := spdmCtx.SetVersion(version); err != nil {
		return fmt.Errorf("SetVersion: %w", err)
	}
	logger.Info("negotiated version", slog.String("version", version.String()))

	if _, err := requester.GetCapabilities(10); err != nil {
		return fmt.Errorf("GetCapabilities: %w", err)
	}

	negotiated, err := requester.NegotiateAlgorithms()
	if err != nil {
		return fmt.Errorf("NegotiateAlgorithms: %w", err)
	}
	logger.Info("negotiated algorithms",
		slog.Any("base_hash", negotiated.BaseHash),
		slog.Any("base_asym", negotiated.BaseAsym),
		slog.Any("dhe", negotiated.DHE),
		slog.Any("aead", negotiated.AEAD),
	)

	digests, err := requester.GetDigests()
	if err != nil {
		return fmt.Errorf("GetDigests: %w", err)
	}
	logger.Info("received digests", slog.Int("count", len(digests.Digests)))

	chain, err := requester.GetCertificate(0)
	if err != nil {
		return fmt.Errorf("GetCertificate: %w", err)
	}
	logger.Info("received and verified certificate chain", slog.Int("bytes", len(chain.Certs)))

	if _, err := requester.Challenge(0, 0); err != nil {
		return fmt.Errorf("Challenge: %w", err)
	}
	logger.Info("challenge authentication succeeded")

	if _, err := requester.GetMeasurements(spdm.MeasurementOperationAll, false, 0); err != nil {
		return fmt.Errorf("GetMeasurements: %w", err)
	}
	logger.Info("measurements retrieved")

	var session *spdm.Session
	if usePSK {
		session, err = requester.StartSessionPSK([]byte(cfg.SPDM.PSKHint), 0, []byte(cfg.SPDM.PSKHint+"-reference-psk-root"))
		if err != nil {
			return fmt.Errorf("StartSessionPSK: %w", err)
		}
		logger.Info("PSK session established", slog.Uint64("session_id", uint64(session.SessionID())))
	} else {
		session, err = requester.StartSessionKeyExchange(0, 0)
		if err != nil {
			return fmt.Errorf("StartSessionKeyExchange: %w", err)
		}
		if err := requester.Finish(session, false, nil, 0); err != nil {
			return fmt.Errorf("Finish: %w", err)
		}
		logger.Info("session established", slog.Uint64("session_id", uint64(session.SessionID())))
	}

	if err := requester.Heartbeat(session); err != nil {
		return fmt.Errorf("Heartbeat: %w", err)
	}
	logger.Info("heartbeat acknowledged")

	if err := requester.KeyUpdate(session, spdm.KeyUpdateOpUpdateAllKeys, 0x01); err != nil {
		return fmt.Errorf("KeyUpdate: %w", err)
	}
	logger.Info("traffic keys rotated")

	demoRecord, err := session.Encrypt(true, []byte("spdm-requester-emu application record"))
	if err != nil {
		return fmt.Errorf("encrypt demonstration application record: %w", err)
	}
	framed, err := (transport.TagEncapper{}).Encap(demoRecord, true)
	if err != nil {
		return fmt.Errorf("encap demonstration application record: %w", err)
	}
	logger.Info("encrypted and framed one secured application-data record", slog.Int("framed_bytes", len(framed)))

	if err := requester.EndSession(session, false); err != nil {
		return fmt.Errorf("EndSession: %w", err)
	}
	logger.Info("session ended")

	return nil
}

// loadProvisionedRoots reads zero or more PEM CERTIFICATE blocks from
// path into their DER encodings. An empty path yields no trusted roots,
// meaning GetCertificate will fail chain verification.
func loadProvisionedRoots(path string) ([][]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var roots [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("parse certificate in %s: %w", path, err)
		}
		roots = append(roots, block.Bytes)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%s contains no CERTIFICATE blocks", path)
	}
	return roots, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
