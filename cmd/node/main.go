package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/oracle"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return err
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return err
	}
	defer store.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "blocks.wal"))
	if err != nil {
		return err
	}
	defer wal.Close()

	// ---- Oracle ----
	var orc oracle.Oracle
	if cfg.Oracle.RPCURL != "" {
		cl, closeFn, err := oracle.DialChainlink(ctx, cfg.Oracle.RPCURL, cfg.Oracle.Feeds, sugar.Named("oracle"))
		if err != nil {
			return err
		}
		defer closeFn()
		orc = cl
		sugar.Infow("oracle_connected", "rpc", cfg.Oracle.RPCURL, "feeds", len(cfg.Oracle.Feeds))
	} else {
		sugar.Warn("oracle_disabled - external price orders will be rejected")
	}

	// ---- App ----
	appCfg := dex.DefaultConfig()
	appCfg.Engine = cfg.Matching
	appCfg.ChainID = cfg.Node.ChainID
	app, err := dex.New(appCfg, store, orc, sugar.Named("app"))
	if err != nil {
		return err
	}
	if !app.Committed() {
		genesis := cfg.Genesis
		if cfg.Node.GenesisFile != "" {
			if genesis, err = dex.LoadGenesis(cfg.Node.GenesisFile); err != nil {
				return err
			}
		}
		if genesis.Time == 0 {
			genesis.Time = time.Now().Unix()
		}
		if err := app.InitGenesis(genesis); err != nil {
			return err
		}
		sugar.Infow("genesis_applied", "tokens", len(genesis.Tokens), "pairs", len(genesis.Pairs), "operator", genesis.Operator.Hex())
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.Node.ChainID, cfg.Node.CORSOrigins, sugar.Named("api"))
	app.OnEvents = apiServer.PublishEvents

	// ---- Sequencer ----
	seq := abci.NewSequencer(app, wal, util.RealClock{}, sugar.Named("seq"))
	seq.MinBlockTime = cfg.Node.MinBlockTime
	seq.Resume(app.Height(), app.AppHash(), app.LastBlockTime())

	sugar.Infow("node_starting",
		"height", app.Height(),
		"chain_id", cfg.Node.ChainID,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"partial_fill", cfg.Matching.PartialFill)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Start(ctx, cfg.Node.APIAddr) })
	g.Go(func() error {
		if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	// ---- Transaction Feeder (optional) ----
	// Enable with DEV_FEEDER_KEY=<token owner private key>; trades the first pair.
	if cfg.Node.FeederKey != "" {
		feeder, err := newFeeder(app, cfg, sugar.Named("feeder"))
		if err != nil {
			return err
		}
		if feeder != nil {
			g.Go(func() error {
				feeder.Run(ctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sugar.Infow("node_progress", "height", app.Height(), "mempool", app.Mempool().Len())
			}
		}
	})

	return g.Wait()
}

func newFeeder(app *dex.App, cfg params.Config, sugar *zap.SugaredLogger) (*dex.Feeder, error) {
	pools := app.Engine().Pools()
	if len(pools) == 0 {
		sugar.Warn("feeder needs a pair, disabled")
		return nil, nil
	}
	key, err := crypto.FromPrivateKeyHex(cfg.Node.FeederKey)
	if err != nil {
		return nil, err
	}
	feeder, err := dex.NewFeeder(app, key, pools[0].Token0, pools[0].Token1, dex.DefaultFeederConfig(), sugar)
	if err != nil {
		return nil, err
	}
	if err := feeder.Bootstrap(); err != nil {
		return nil, err
	}
	return feeder, nil
}
