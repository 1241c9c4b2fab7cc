// Command keeld runs a keel daemon: it owns a configuration tree and
// serves the control protocol for remote provider and client admission.
//
// Usage:
//
//	keeld [flags]
//
// Flags:
//
//	-config string      Bootstrap configuration file (YAML)
//	-listen string      Listen address (default ":9560")
//	-cert string        TLS certificate file (PEM)
//	-key string         TLS key file (PEM)
//	-process string     Initial process document (JSON)
//	-secret string      Shared secret for session-token auth
//	-log-level string   Console log level: debug, info, warn, error
//	-log-file string    Binary protocol event log path
//	-advertise string   mDNS instance name (enables discovery)
//
// Flags override values from the bootstrap file. Without -cert/-key an
// ephemeral development certificate is generated.
//
// Examples:
//
//	# Development daemon on the default port
//	keeld -log-level debug
//
//	# Production-style daemon from a bootstrap file
//	keeld -config /etc/keel/keeld.yaml
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keelworks/keel/pkg/daemon"
	"github.com/keelworks/keel/pkg/log"
	"github.com/keelworks/keel/pkg/manager"
	"github.com/keelworks/keel/pkg/registry"
	"github.com/keelworks/keel/pkg/transport"
	"github.com/keelworks/keel/pkg/version"

	// Builtin modules available to LoadModule.
	_ "github.com/keelworks/keel/pkg/modules/kv"
)

var (
	flagConfig    = flag.String("config", "", "Bootstrap configuration file (YAML)")
	flagListen    = flag.String("listen", "", "Listen address")
	flagCert      = flag.String("cert", "", "TLS certificate file (PEM)")
	flagKey       = flag.String("key", "", "TLS key file (PEM)")
	flagProcess   = flag.String("process", "", "Initial process document (JSON)")
	flagSecret    = flag.String("secret", "", "Shared secret for session-token auth")
	flagLogLevel  = flag.String("log-level", "", "Console log level: debug, info, warn, error")
	flagLogFile   = flag.String("log-file", "", "Binary protocol event log path")
	flagAdvertise = flag.String("advertise", "", "mDNS instance name (enables discovery)")
)

func main() {
	flag.Parse()
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	boot := &daemon.Bootstrap{}
	if *flagConfig != "" {
		loaded, err := daemon.LoadBootstrap(*flagConfig)
		if err != nil {
			stdlog.Fatalf("Failed to load bootstrap config: %v", err)
		}
		boot = loaded
	}
	applyFlags(boot)
	if boot.Listen == "" {
		boot.Listen = ":9560"
	}

	logger, closeLogger, err := buildLogger(boot.Log)
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLogger()

	tlsCfg, err := buildTLSConfig(boot)
	if err != nil {
		stdlog.Fatalf("Failed to set up TLS: %v", err)
	}

	mgr, err := buildManager(boot, logger)
	if err != nil {
		stdlog.Fatalf("Failed to create manager: %v", err)
	}

	cfg := daemon.Config{
		Address: boot.Listen,
		TLS:     tlsCfg,
		Manager: mgr,
		Logger:  logger,
	}
	if boot.Discovery.Enabled {
		ids := boot.ProviderIDs
		if len(ids) == 0 {
			ids = []uint16{0}
		}
		cfg.Discovery = &daemon.DiscoveryConfig{
			InstanceName: boot.Discovery.Instance,
			Interface:    boot.Discovery.Interface,
			ProviderIDs:  ids,
		}
	}

	d, err := daemon.New(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		stdlog.Fatalf("Failed to start daemon: %v", err)
	}
	stdlog.Printf("keeld %s (protocol %s) listening on %s", version.Release, version.Current, d.Addr())
	if boot.Discovery.Enabled {
		stdlog.Printf("Advertising as %q", boot.Discovery.Instance)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	stdlog.Printf("Received signal: %v, shutting down", sig)

	if err := d.Stop(); err != nil {
		stdlog.Printf("Error stopping daemon: %v", err)
	}
}

func applyFlags(boot *daemon.Bootstrap) {
	if *flagListen != "" {
		boot.Listen = *flagListen
	}
	if *flagCert != "" {
		boot.CertFile = *flagCert
	}
	if *flagKey != "" {
		boot.KeyFile = *flagKey
	}
	if *flagProcess != "" {
		boot.ProcessConfig = *flagProcess
	}
	if *flagSecret != "" {
		boot.Secret = *flagSecret
	}
	if *flagLogLevel != "" {
		boot.Log.Level = *flagLogLevel
	}
	if *flagLogFile != "" {
		boot.Log.File = *flagLogFile
	}
	if *flagAdvertise != "" {
		boot.Discovery.Enabled = true
		boot.Discovery.Instance = *flagAdvertise
	}
}

func buildLogger(cfg daemon.BootstrapLog) (log.Logger, func(), error) {
	var loggers []log.Logger
	closer := func() {}

	if cfg.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, err
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		loggers = append(loggers, log.NewSlogAdapter(slog.New(handler)))
	}

	if cfg.File != "" {
		fl, err := log.NewFileLogger(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fl)
		closer = func() { fl.Close() }
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

func buildTLSConfig(boot *daemon.Bootstrap) (*transport.TLSConfig, error) {
	cfg := &transport.TLSConfig{}

	if boot.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(boot.CertFile, boot.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificate = cert
	} else {
		stdlog.Println("No certificate configured, generating an ephemeral development certificate")
		cert, err := transport.GenerateDevCertificate()
		if err != nil {
			return nil, err
		}
		cfg.Certificate = cert
	}

	if boot.ClientCAFile != "" {
		pem, err := os.ReadFile(boot.ClientCAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", boot.ClientCAFile)
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

func buildManager(boot *daemon.Bootstrap, logger log.Logger) (*manager.Manager, error) {
	opts := manager.Options{
		Address:     "tcp://" + boot.Listen,
		ProviderIDs: boot.ProviderIDs,
		Logger:      logger,
		Registry:    registry.New(nil),
	}

	if boot.ProcessConfig != "" {
		data, err := os.ReadFile(boot.ProcessConfig)
		if err != nil {
			return nil, err
		}
		opts.InitialConfig = data
	}

	if boot.Secret != "" {
		auth, err := manager.NewAuthenticator(boot.Secret, []byte(transport.ALPNProtocol))
		if err != nil {
			return nil, err
		}
		opts.Auth = auth
	}

	mgr, err := manager.New(opts)
	if err != nil {
		return nil, err
	}

	for _, mod := range boot.Modules {
		if err := mgr.LoadModule(mod.Name, mod.Path); err != nil {
			return nil, err
		}
		stdlog.Printf("Loaded module %q from %s", mod.Name, mod.Path)
	}
	return mgr, nil
}
