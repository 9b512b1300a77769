// spdm-responder-emu is a reference SPDM Responder: it answers the full
// connection and session message set over a loopback TCP transport using
// the in-memory reference crypto providers and a self-generated
// certificate chain.
package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/spdm-core/spdm-core/internal/config"
	"github.com/spdm-core/spdm-core/internal/cryptoprovider"
	spdmmetrics "github.com/spdm-core/spdm-core/internal/metrics"
	"github.com/spdm-core/spdm-core/internal/spdm"
	"github.com/spdm-core/spdm-core/internal/transport"
	appversion "github.com/spdm-core/spdm-core/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	rootOutPath := flag.String("write-root", "", "write the generated reference root certificate (PEM) to this path")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("spdm-responder-emu starting",
		slog.String("version", appversion.Version),
		slog.String("transport_addr", cfg.Transport.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := spdmmetrics.NewCollector(reg)

	secrets, err := newReferenceSecrets(cfg, *rootOutPath, logger)
	if err != nil {
		logger.Error("failed to build reference secret provider", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, secrets, collector, reg, logger); err != nil {
		logger.Error("spdm-responder-emu exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("spdm-responder-emu stopped")
	return 0
}

// newReferenceSecrets builds a ReferenceSecretProvider from a single
// demonstration measurement block, optionally writing the generated root
// certificate to rootOutPath so a requester can provision it as trusted.
func newReferenceSecrets(cfg *config.Config, rootOutPath string, logger *slog.Logger) (*cryptoprovider.ReferenceSecretProvider, error) {
	measurement := []byte("spdm-core reference responder firmware measurement block")
	var pskRoot []byte
	if cfg.SPDM.PSKHint != "" {
		pskRoot = []byte(cfg.SPDM.PSKHint + "-reference-psk-root")
	}

	secrets, err := cryptoprovider.NewReferenceSecretProvider([][]byte{measurement}, pskRoot)
	if err != nil {
		return nil, fmt.Errorf("new reference secret provider: %w", err)
	}

	if rootOutPath != "" {
		rootDER := secrets.RootDER()
		if rootDER == nil {
			return nil, fmt.Errorf("generated reference chain has no readable root certificate")
		}
		block := &pem.Block{Type: "CERTIFICATE", Bytes: rootDER}
		if err := os.WriteFile(rootOutPath, pem.EncodeToMemory(block), 0o644); err != nil {
			return nil, fmt.Errorf("write root certificate to %s: %w", rootOutPath, err)
		}
		cert, parseErr := x509.ParseCertificate(rootDER)
		subject := "unknown"
		if parseErr == nil {
			subject = cert.Subject.CommonName
		}
		logger.Info("wrote reference root certificate",
			slog.String("path", rootOutPath),
			slog.String("subject", subject),
		)
	}

	return secrets, nil
}

// runServers accepts connections on the SPDM transport listener and serves
// the metrics HTTP endpoint, both under an errgroup bound to a
// signal-aware context for graceful shutdown.
func runServers(cfg *config.Config, secrets *cryptoprovider.ReferenceSecretProvider, collector *spdmmetrics.Collector, reg *prometheus.Registry, logger *slog.Logger) error {
	ln, err := transport.ListenTCP(cfg.Transport.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("spdm transport listening", slog.String("addr", cfg.Transport.Addr))
		return acceptLoop(gCtx, ln, cfg, secrets, collector, logger)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = ln.Close()
		return nil
	})

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		return err
	}
	return nil
}

// acceptLoop accepts connections and serves each one in its own goroutine.
// The reference core's Context is not safe for concurrent use, so
// serveConnection builds a fresh Context per accepted connection; the only
// values shared across connections are the read-only secret provider and
// the metrics collector.
func acceptLoop(ctx context.Context, ln net.Listener, cfg *config.Config, secrets *cryptoprovider.ReferenceSecretProvider, collector *spdmmetrics.Collector, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		endpoint := conn.RemoteAddr().String()
		collector.RegisterConnection(endpoint)
		logger.Info("accepted connection", slog.String("endpoint", endpoint))

		go func() {
			defer collector.UnregisterConnection(endpoint)
			if err := serveConnection(conn, cfg, secrets, collector, logger, endpoint); err != nil {
				logger.Warn("connection ended", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
			}
		}()
	}
}

func serveConnection(conn net.Conn, cfg *config.Config, secrets *cryptoprovider.ReferenceSecretProvider, collector *spdmmetrics.Collector, logger *slog.Logger, endpoint string) error {
	defer conn.Close()

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

	spdmCtx, err := spdm.NewContext(providers, versions, caps, offer, transcriptMode, nil)
	if err != nil {
		return fmt.Errorf("new context: %w", err)
	}

	responder := spdm.NewResponder(spdmCtx, secrets, transport.TagEncapper{})
	rt := transport.NewTCPResponderTransport(conn)

	start := time.Now()
	err = responder.Dispatch(rt)
	logger.Info("connection closed", slog.String("endpoint", endpoint), slog.Duration("duration", time.Since(start)))
	return err
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
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
