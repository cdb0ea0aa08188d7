package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendledger/config"
	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/observability"
	"lendledger/observability/logging"
	"lendledger/rpc"
	statelending "lendledger/state/lending"
	"lendledger/storage"
)

const baseSymbol = "base"

var genesisMarker = []byte("lending/genesisApplied")

// moduleAccount is the ledger's own account, holder of pooled base asset and
// escrowed collateral.
func moduleAccount() crypto.Address {
	raw := []byte("lendledger-module000")
	return crypto.NewAddress(crypto.AccountPrefix, raw[:20])
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    "lendledgerd",
		Env:        cfg.Env,
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := run(cfg, db, logger); err != nil {
		logger.Error("daemon exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, db storage.Database, logger *slog.Logger) error {
	owner, err := crypto.DecodeAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("decode owner: %w", err)
	}

	rate, ok := new(big.Int).SetString(strings.TrimSpace(cfg.Oracle.RateE8), 10)
	if !ok {
		return fmt.Errorf("parse oracle rate %q", cfg.Oracle.RateE8)
	}

	store := statelending.NewStore(db)
	module := moduleAccount()

	book := statelending.NewTokenBook(store.Token(baseSymbol, module))
	collateralLedgers := make(map[string]*statelending.AccountToken, len(cfg.Markets))
	for _, market := range cfg.Markets {
		token, err := crypto.DecodeAddress(market.Token)
		if err != nil {
			return fmt.Errorf("decode market token: %w", err)
		}
		ledger := store.Token(market.Symbol, module)
		book.AddCollateral(token, ledger)
		collateralLedgers[market.Symbol] = ledger
	}

	engine := lending.NewEngine(owner, module, lending.RiskParameters{
		FeeBps:                 cfg.Lending.FeeBps,
		LiquidationBonusBps:    cfg.Lending.LiquidationBonusBps,
		FullLiquidationDropBps: cfg.Lending.FullLiquidationDropBps,
		SecondsPerYear:         cfg.Lending.SecondsPerYear,
	})
	engine.SetState(store)
	engine.SetTokenAccess(book)
	engine.SetOracle(lending.NewStaticRateSource(rate))
	engine.SetEmitter(observability.NewLogEmitter(logger))
	engine.SetTimestamp(uint64(time.Now().Unix()))

	if err := bootstrap(cfg, db, store, engine, owner, collateralLedgers, logger); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	server := rpc.NewServer(engine, store, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving lending API", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// bootstrap registers configured markets and, on a fresh database, applies
// genesis balances. Both are idempotent across restarts.
func bootstrap(cfg *config.Config, db storage.Database, store *statelending.Store, engine *lending.Engine, owner crypto.Address, collateralLedgers map[string]*statelending.AccountToken, logger *slog.Logger) error {
	for _, market := range cfg.Markets {
		token, err := crypto.DecodeAddress(market.Token)
		if err != nil {
			return err
		}
		existing, err := store.GetMarket(token)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := engine.RegisterMarket(owner, token, market.MinRatioBps); err != nil {
			store.Discard()
			return fmt.Errorf("register market %s: %w", market.Token, err)
		}
		logger.Info("registered market", "token", market.Token, "minRatioBps", market.MinRatioBps)
	}

	if _, err := db.Get(genesisMarker); err == nil {
		return store.Commit()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	base := store.Token(baseSymbol, moduleAccount())
	for _, balance := range cfg.Genesis {
		addr, err := crypto.DecodeAddress(balance.Address)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("genesis amount %q for %s", balance.Amount, balance.Address)
		}
		ledger := base
		if balance.Symbol != baseSymbol {
			var found bool
			ledger, found = collateralLedgers[balance.Symbol]
			if !found {
				return fmt.Errorf("genesis symbol %q matches no configured market", balance.Symbol)
			}
		}
		if err := ledger.Mint(addr, amount); err != nil {
			return err
		}
		logger.Info("seeded genesis balance", "address", balance.Address, "symbol", balance.Symbol, "amount", amount.String())
	}
	if err := store.Commit(); err != nil {
		return err
	}
	return db.Put(genesisMarker, []byte{1})
}
