package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"circlefi/core/events"
	"circlefi/native/lending"
	"circlefi/observability/logging"
	"circlefi/observability/metrics"
	telemetry "circlefi/observability/otel"
	"circlefi/services/circled/appraisal"
	"circlefi/services/circled/config"
	"circlefi/services/circled/journal"
	"circlefi/services/circled/report"
	"circlefi/services/circled/server"
	"circlefi/storage"
)

func main() {
	var (
		cfgPath    string
		reportOnly bool
	)
	flag.StringVar(&cfgPath, "config", "services/circled/config.yaml", "path to circled config")
	flag.BoolVar(&reportOnly, "report", false, "replay the journal, export the loan book and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	env := cfg.Environment
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "circled",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err := run(cfg, env, reportOnly, logger); err != nil {
		logger.Error("circled exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, reportOnly bool, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "circled",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	engineCfg, err := lending.LoadConfig(cfg.EngineConfig)
	if err != nil {
		return err
	}

	poolMetrics := metrics.Pool()
	oracle, store, err := openOracle(cfg.Appraisal)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	engine, err := lending.NewEngine(engineCfg, appraisal.Timed(oracle, poolMetrics.ObserveAppraisal))
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	engine.SetLogger(logger)
	if store != nil {
		engine.SetCustodian(store)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}
	defer db.Close()
	log, err := journal.Open(db)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	backlog, err := log.Events(1)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if err := engine.Restore(backlog); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	if err := engine.CheckInvariants(); err != nil {
		return fmt.Errorf("restored state inconsistent: %w", err)
	}
	head, digest := log.Head()
	logger.Info("journal replayed", "seq", head, "digest", digest, "events", len(backlog))

	if reportOnly {
		_, _, err := report.Export(cfg.ReportDir, engine, time.Now(), logger)
		return err
	}

	engine.SetEventLog(log)
	bus := events.NewBus(cfg.Stream.Buffer)
	engine.SetEmitter(events.Fanout{bus, poolMetrics})
	stats := engine.Stats()
	util, _ := stats.UtilizationRate.Float64()
	poolMetrics.ObserveMarket(stats.TotalSupply, stats.TotalBorrowed, stats.WrittenOff, stats.Reserves, util, stats.CurrentRateBps)

	srv := server.New(server.Options{
		Engine:  engine,
		Events:  log,
		Bus:     bus,
		Logger:  logger,
		Metrics: poolMetrics,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && cfg.TLS.CertPath == "" {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !cfg.IsDev() && !loopback {
			listener.Close()
			return errors.New("plaintext circled mode is restricted to loopback listeners or dev environment")
		}
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.TLS.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("circled listening", "addr", cfg.ListenAddress, "tls", cfg.TLS.CertPath != "")
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("serve http: %w", err)
		}
	}()

	if cfg.HealthListen != "" {
		health := server.NewHealth(engine, logger)
		healthListener, err := net.Listen("tcp", cfg.HealthListen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.HealthListen, err)
		}
		grpcServer := health.GRPCServer()
		defer grpcServer.Stop()
		go health.Run(ctx, 15*time.Second)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.HealthListen)
			if err := grpcServer.Serve(healthListener); err != nil {
				serverErr <- fmt.Errorf("serve grpc health: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", "error", err)
		_ = httpServer.Close()
	}
	if _, _, err := report.Export(cfg.ReportDir, engine, time.Now(), logger); err != nil {
		logger.Warn("final loan book export failed", "error", err)
	}
	return nil
}

func openOracle(cfg config.AppraisalConfig) (lending.CollateralOracle, *appraisal.Store, error) {
	switch cfg.Source {
	case "sql":
		store, err := appraisal.OpenStore(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open appraisal store: %w", err)
		}
		for domain, raw := range cfg.Values {
			value, err := parseValue(domain, raw)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			if err := store.Upsert(context.Background(), domain, value, "config"); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store, nil
	default:
		static, err := appraisal.NewStatic(cfg.Values)
		if err != nil {
			return nil, nil, err
		}
		return static, nil, nil
	}
}

func parseValue(domain, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("appraisal %s: invalid value %q", domain, raw)
	}
	return value, nil
}
