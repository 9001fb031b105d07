// Package app wires configuration into a running relayer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	solana "github.com/gagliardetto/solana-go"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/assembler"
	"github.com/x402-foundation/x402/relayer/config"
	"github.com/x402-foundation/x402/relayer/fees"
	"github.com/x402-foundation/x402/relayer/gas"
	relayhttp "github.com/x402-foundation/x402/relayer/http"
	"github.com/x402-foundation/x402/relayer/ledger"
	"github.com/x402-foundation/x402/relayer/ledger/gormdb"
	"github.com/x402-foundation/x402/relayer/ledger/pg"
	"github.com/x402-foundation/x402/relayer/mcp"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
	"github.com/x402-foundation/x402/relayer/oracle"
	"github.com/x402-foundation/x402/relayer/safety"
	"github.com/x402-foundation/x402/relayer/signature"
	svmsigner "github.com/x402-foundation/x402/relayer/signers/svm"
)

const shutdownTimeout = 10 * time.Second

// Build assembles the sponsorship service described by cfg. The returned cleanup releases the
// ledger connection and must be called once the service is no longer used.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*relayer.Service, func(), error) {
	signer, err := svmsigner.NewFeePayerSignerFromPrivateKey(cfg.SponsorPrivateKey)
	if err != nil {
		return nil, nil, err
	}

	var treasury *solana.PublicKey
	if cfg.TreasuryAddress != "" {
		addr, err := svm.ParseAddress(cfg.TreasuryAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("treasury address: %w", err)
		}
		treasury = &addr
	}

	builder := svm.NewTransactionBuilder(signer.Address(), treasury)
	chain := svm.NewClient(cfg.RPCURL, builder)

	source, err := priceSource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	prices := oracle.New(source, cfg.Oracle(), oracle.WithLogger(logger.Named("oracle")))

	estimator := gas.NewEstimator(chain, cfg.Gas(), logger.Named("gas"))
	quoter := fees.NewQuoter(prices, estimator, chain, fees.QuoterConfig{
		Policy:            cfg.Policy(),
		MinSponsorBalance: cfg.MinSponsorBalance,
	}, logger.Named("fees"))

	monitor := safety.NewMonitor(safety.NewMemoryStore(), cfg.Limits(), safety.WithLogger(logger.Named("safety")))

	asm := assembler.New(builder, chain, signature.NewVerifier(logger.Named("signature")), signer,
		assembler.WithConfirmation(cfg.ConfirmAttempts, cfg.ConfirmInterval),
		assembler.WithLogger(logger.Named("assembler")),
	)

	opts := []relayer.ServiceOption{
		relayer.WithLogger(logger.Named("service")),
		relayer.WithCoin(cfg.Coin()),
		relayer.WithPrices(prices),
		relayer.WithQuoteTTL(cfg.QuoteTTL),
		relayer.WithMinSponsorBalance(cfg.MinSponsorBalance),
	}

	cleanup := func() {}
	store, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		// the relayer keeps sponsoring without a ledger
		logger.Warn("ledger unavailable, continuing without persistence", zap.String("driver", cfg.LedgerDriver), zap.Error(err))
	} else if store != nil {
		opts = append(opts, relayer.WithLedger(ledger.NewBestEffort(store, logger.Named("ledger"))))
		cleanup = closeStore
	}

	logger.Info("relayer configured",
		zap.String("sponsor", signer.Address().String()),
		zap.String("coin", cfg.CoinSymbol),
		zap.String("mint", cfg.CoinMint),
		zap.String("oracle", source.Name()),
		zap.String("ledger", cfg.LedgerDriver),
	)

	return relayer.NewService(quoter, asm, monitor, chain, opts...), cleanup, nil
}

func priceSource(ctx context.Context, cfg config.Config) (oracle.Source, error) {
	switch cfg.OracleSource {
	case config.OracleSourceChainlink:
		src, err := oracle.DialChainlink(ctx, cfg.ChainlinkRPCURL, cfg.ChainlinkFeedAddress)
		if err != nil {
			return nil, fmt.Errorf("chainlink feed: %w", err)
		}
		return src, nil
	case config.OracleSourceFixed:
		return oracle.FixedSource{Value: cfg.OracleFixedPrice}, nil
	default:
		return oracle.NewPythSource(oracle.PythConfig{
			BaseURL: cfg.PythHermesURL,
			FeedID:  cfg.PythPriceFeedID,
		}), nil
	}
}

func openLedger(ctx context.Context, cfg config.Config) (relayer.Ledger, func(), error) {
	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		store, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Close, nil
	case config.LedgerMySQL:
		store, err := gormdb.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.LedgerMemory:
		return ledger.NewMemory(), func() {}, nil
	default:
		return nil, nil, nil
	}
}

// RunHTTP serves the REST API until ctx is cancelled
func RunHTTP(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	service, cleanup, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	api := relayhttp.NewServer(service,
		relayhttp.WithLogger(logger.Named("http")),
		relayhttp.WithRateLimit(cfg.RateLimitPerMinute),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, logger)
}

// RunMCP serves the MCP tools over stdio or SSE until ctx is cancelled
func RunMCP(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	service, cleanup, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := mcp.NewServer(service, mcp.WithLogger(logger.Named("mcp")))
	if cfg.MCPTransport == "sse" {
		srv := &http.Server{
			Addr:              cfg.MCPAddr,
			Handler:           mcp.SSEHandler(server),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return serve(ctx, srv, logger)
	}

	logger.Info("serving MCP over stdio")
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
