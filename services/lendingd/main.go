package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"aethos/gateway/middleware"
	"aethos/native/lending"
	"aethos/observability"
	"aethos/observability/logging"
	telemetry "aethos/observability/otel"
	"aethos/services/lending/actions"
	"aethos/services/lending/evm"
	"aethos/services/lending/export"
	"aethos/services/lending/journal"
	"aethos/services/lending/ledger"
	"aethos/services/lending/reconcile"
	"aethos/services/lending/server"
	"aethos/services/lending/store"
	"aethos/services/lendingd/config"
	"aethos/services/lendingd/internal/passphrase"
	"aethos/storage"
)

const serviceName = "lendingd"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config (.yaml or .toml)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logCloser, err := logging.Setup(serviceName, cfg.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logCloser.Close()

	clean := cfg.Sanitized()
	logger.Info("configuration loaded",
		slog.String("rpc_url", logging.RedactURL(clean.RPCURL)),
		slog.Uint64("chain_id", clean.ChainID),
		slog.String("pool", cfg.Pool().Hex()),
		slog.String("token", cfg.Token().Hex()),
		slog.String("health_flag", clean.HealthFlag),
		logging.MaskField("hmac_secret", cfg.API.Auth.HMACSecret),
		slog.String("journal_dsn", clean.Storage.JournalDSN),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Attributes:  map[string]string{"aethos.pool": cfg.Pool().Hex()},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	backend, err := evm.DialBackend(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer backend.Close()
	if remote, err := backend.ChainID(ctx); err != nil {
		logger.Warn("chain id unavailable", slog.Any("error", err))
	} else if remote.Uint64() != cfg.ChainID {
		return fmt.Errorf("rpc endpoint reports chain %s, config expects %d", remote, cfg.ChainID)
	}

	signer, err := loadSigner(cfg.Keystore)
	if err != nil {
		return err
	}
	client, err := evm.NewClient(backend, signer, evm.Config{
		Pool:          cfg.Pool(),
		Token:         cfg.Token(),
		ChainID:       new(big.Int).SetUint64(cfg.ChainID),
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.ReceiptPollInterval.Duration,
	})
	if err != nil {
		return err
	}
	reader := ledger.NewReader(client, client, ledger.Config{
		Pool:       cfg.Pool(),
		Token:      cfg.Token(),
		HealthFlag: lending.HealthFlagSemantics(cfg.HealthFlag),
	})
	writer := ledger.NewWriter(client, cfg.Pool(), cfg.Token())

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.Storage.SnapshotDir != "" {
		db, err := storage.NewLevelDB(cfg.Storage.SnapshotDir)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer db.Close()
		storeOpts = append(storeOpts, store.WithPersister(storage.NewViewStore(db)))
	}
	views := store.New(storeOpts...)

	rec, err := reconcile.NewReconciler(reader, views, reconcile.Config{
		Risk:     cfg.Risk,
		Decimals: cfg.TokenDecimals,
		Logger:   logger,
		Metrics:  observability.Reconcile(),
	})
	if err != nil {
		return err
	}
	session := reconcile.NewSession(rec, cfg.RefreshInterval.Duration, logger)

	orchestratorOpts := []actions.Option{
		actions.WithRisk(cfg.Risk),
		actions.WithDecimals(cfg.TokenDecimals),
		actions.WithLogger(logger),
		actions.WithMetrics(observability.Actions()),
	}
	var history server.History
	if cfg.Storage.JournalDSN != "" {
		gdb, err := journal.Open(cfg.Storage.JournalDSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		j, err := journal.New(gdb)
		if err != nil {
			return err
		}
		orchestratorOpts = append(orchestratorOpts, actions.WithJournal(j))
		history = j
	}
	orchestrator := actions.NewOrchestrator(writer, rec, views, orchestratorOpts...)
	defer orchestrator.Wait()

	if cfg.Export.Dir != "" {
		exporter, err := export.New(cfg.Export.Dir, logger)
		if err != nil {
			return err
		}
		updates, cancel := views.Subscribe()
		defer cancel()
		go exporter.Run(ctx, updates)
	}

	api := server.New(server.Config{
		Decimals:      cfg.TokenDecimals,
		ActionTimeout: cfg.ActionTimeout.Duration,
		Auth:          authenticator(cfg.API.Auth, logger),
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.API.RateLimits)),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: cfg.API.LogRequest,
			Enabled:     true,
		}, logger),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.API.CORS.AllowedOrigins},
	}, views, session, orchestrator, history, logger)

	listener, err := net.Listen("tcp", cfg.API.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.API.Listen, err)
	}
	if !cfg.API.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if account := initialAccount(cfg.Account, signer); account != (common.Address{}) {
		session.SetAccount(account)
	} else {
		logger.Info("no account selected; waiting for PUT /v1/session/account")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("lendingd listening", slog.String("addr", listener.Addr().String()), slog.Bool("tls", cfg.API.TLS.Enabled()))
		var err error
		if cfg.API.TLS.Enabled() {
			err = httpServer.ServeTLS(listener, cfg.API.TLS.CertPath, cfg.API.TLS.KeyPath)
		} else {
			err = httpServer.Serve(listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadSigner unlocks the configured key. Without one the daemon serves reads
// only and every action fails with a signer mismatch.
func loadSigner(cfg config.KeystoreConfig) (evm.Signer, error) {
	if cfg.Path != "" {
		signer, err := evm.LoadKeystoreSigner(cfg.Path, passphrase.NewSource(cfg.PassphraseEnv, "keystore passphrase"))
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	if cfg.PrivateKeyEnv == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(os.Getenv(cfg.PrivateKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s is empty", cfg.PrivateKeyEnv)
	}
	signer, err := evm.ParseKeySigner(raw)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

func initialAccount(configured string, signer evm.Signer) common.Address {
	if configured != "" {
		return common.HexToAddress(configured)
	}
	if signer != nil {
		return signer.Address()
	}
	return common.Address{}
}

func authenticator(cfg config.AuthConfig, logger *slog.Logger) *middleware.Authenticator {
	if !cfg.Enabled {
		return nil
	}
	return middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
	}, logger)
}

func rateLimits(in map[string]config.RateLimitConfig) map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(in))
	for route, limit := range in {
		out[route] = middleware.RateLimit{RatePerSecond: limit.RatePerSecond, Burst: limit.Burst}
	}
	return out
}
