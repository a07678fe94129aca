// Command exchanged runs the exchange as a standalone HTTP/WebSocket
// service: it loads configuration, wires storage, the core facade, the
// EIP-712 identity verifier, and the REST/WebSocket adapter, then serves
// until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clob-exchange/matching-engine/internal/config"
	"github.com/clob-exchange/matching-engine/internal/exchange"
	"github.com/clob-exchange/matching-engine/internal/identity"
	"github.com/clob-exchange/matching-engine/internal/instrument"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/api"
	"github.com/clob-exchange/matching-engine/internal/storage"
	"github.com/clob-exchange/matching-engine/internal/util"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = "data/exchanged.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	var store storage.Store
	switch cfg.Storage.Driver {
	case "pebble":
		db, err := storage.NewPebbleStore(cfg.Storage.Path)
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "path", cfg.Storage.Path, "err", err)
		}
		store = db
		sugar.Infow("storage_opened", "driver", "pebble", "path", cfg.Storage.Path)
	case "memory":
		store = storage.NewMemStore()
		sugar.Info("storage_opened driver=memory")
	}

	x := exchange.New(store, sugar, util.RealClock{})
	defer x.Close()

	for _, ic := range cfg.Instruments {
		tick, err := money.NewFromString(ic.TickSize)
		if err != nil {
			sugar.Fatalw("invalid_tick_size", "symbol", ic.Symbol, "err", err)
		}
		lot, err := money.NewFromString(ic.LotSize)
		if err != nil {
			sugar.Fatalw("invalid_lot_size", "symbol", ic.Symbol, "err", err)
		}
		inst := &instrument.Instrument{
			Symbol: ic.Symbol, Base: ic.Base, Quote: ic.Quote,
			TickSize: tick, LotSize: lot, Active: true,
		}
		if err := x.RegisterInstrument(inst); err != nil {
			sugar.Fatalw("register_instrument_failed", "symbol", ic.Symbol, "err", err)
		}
		sugar.Infow("instrument_registered", "symbol", ic.Symbol)
	}

	domain := identity.Domain{
		Name:              cfg.Identity.DomainName,
		Version:           cfg.Identity.DomainVersion,
		ChainID:           big.NewInt(cfg.Identity.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Identity.VerifyingContract),
	}
	verifier := identity.NewVerifier(domain)

	srv := api.NewServer(x, verifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Server.ListenAddr)
		if err := srv.Start(cfg.Server.ListenAddr, cfg.Server.AllowedOrigins); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting_down")
}
