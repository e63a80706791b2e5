package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/floorline/floornode/internal/config"
	"github.com/floorline/floornode/internal/db"
	"github.com/floorline/floornode/internal/jobs"
	"github.com/floorline/floornode/internal/market"
	"github.com/floorline/floornode/internal/rpc"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	zap.L().Info("Starting floorline/floornode...",
		zap.String("Version", Version))

	// Main context: canceled when we want to stop normal operation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlite, err := db.OpenSqlite("./db/sqlite/sqlite")
	if err != nil {
		zap.L().Fatal("Failed to open SQLite", zap.Error(err))
	}

	badgerDb, err := db.OpenBadger("./db/badger/market")
	if err != nil {
		zap.L().Fatal("Failed to open BadgerDB", zap.Error(err))
	}

	closeRpcServer := rpc.StartRPCServer(config.Get().RPCPort, sqlite, ctx)

	var dispatcher jobs.Dispatcher = jobs.NewNoopDispatcher()
	var natsClose func()
	if natsUrl := config.Get().NatsUrl; natsUrl != "" {
		nc, js, err := jobs.ConnectJetStream(natsUrl)
		if err != nil {
			zap.L().Fatal("Failed to connect to NATS", zap.Error(err))
		}
		if err := jobs.EnsureTriggerStreams(ctx, js); err != nil {
			zap.L().Fatal("Failed to ensure trigger streams", zap.Error(err))
		}
		dispatcher = jobs.NewJetStreamDispatcher(js)
		natsClose = nc.Close
	}

	// Start following the marketplace contract
	if err := market.BlockUntilOnTipAndKeepListeningAsync(ctx, badgerDb, sqlite, dispatcher); err != nil {
		zap.L().Error("Failed to listen on marketplace contract", zap.Error(err))
		cancel() // Cancel main context if critical startup failed
	}

	// Catch up to two signals: first for graceful, second to force
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan struct{})

	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, initiating graceful shutdown...")

		// 1. Stop new requests on RPC
		closeRpcServer()

		// 2. Cancel main context, telling background tasks to stop
		cancel()

		// 3. Drain the trigger connection
		if natsClose != nil {
			natsClose()
		}

		// 4. Close DBs
		if err := badgerDb.Close(); err != nil {
			zap.L().Warn("Error closing BadgerDB", zap.Error(err))
		}
		if err := sqlite.Close(); err != nil {
			zap.L().Warn("Error closing DB", zap.Error(err))
		}

		// 5. Signal that cleanup is done
		close(doneCh)

		// If a second signal arrives, force an immediate exit
		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	// Wait for either normal context cancellation or graceful shutdown completion
	select {
	case <-ctx.Done():
	case <-doneCh:
	}

	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
}
