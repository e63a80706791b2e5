package market

import (
	"context"
	"database/sql"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/floorline/floornode/internal/config"
	"github.com/floorline/floornode/internal/eth"
	"github.com/floorline/floornode/internal/jobs"
	"github.com/floorline/floornode/internal/market/marketdb"
	"github.com/floorline/floornode/pkg/marketplace"
)

// MarketplaceListener wires the watcher, the normalization engine and the
// applier into the chain-following pipeline.
type MarketplaceListener struct {
	ctx             context.Context
	watcher         MarketEventsWatcher
	normalizer      *Normalizer
	applier         OnChainDataApplier
	progressTracker marketdb.ProgressDb
	startBlock      uint64
}

func NewMarketplaceListener(
	ctx context.Context,
	badgerDb *badger.DB,
	sqlDb *sql.DB,
	dispatcher jobs.Dispatcher,
) (*MarketplaceListener, error) {
	watcher, err := NewMarketEventsWatcher(badgerDb, ctx)
	if err != nil {
		return nil, err
	}

	ethClient, err := eth.CreateEthClient()
	if err != nil {
		return nil, err
	}

	cfg := config.Get()
	resolverTimeout := time.Duration(cfg.ResolverTimeoutMs) * time.Millisecond

	normalizer, err := NewNormalizer(
		NewRegistry(),
		NewDefaultAttributionResolver(ethClient, resolverTimeout),
		NewDefaultPriceResolver(cfg.EthUsdPrice, resolverTimeout),
		NewDefaultPaymentScanner(),
	)
	if err != nil {
		return nil, err
	}

	return &MarketplaceListener{
		ctx:             ctx,
		watcher:         watcher,
		normalizer:      normalizer,
		applier:         NewDefaultOnChainDataApplier(badgerDb, marketdb.NewActivityDb(sqlDb), dispatcher),
		progressTracker: marketdb.NewProgressDb(badgerDb),
		startBlock:      cfg.ExchangeStartBlock,
	}, nil
}

func (l *MarketplaceListener) listen(tipReachedChan chan<- bool) error {
	eventsChan := make(chan []RawEvent)
	latestBlockChan := make(chan uint64, 16)

	go func() {
		for batch := range eventsChan {
			data := &marketplace.OnChainData{}
			if err := l.normalizer.Normalize(l.ctx, batch, data); err != nil {
				// Only context cancellation surfaces here.
				return
			}
			if err := l.applier.Apply(l.ctx, data); err != nil {
				zap.L().Error("Error applying canonical records", zap.Error(err))
			}
		}
	}()

	go func() {
		for block := range latestBlockChan {
			if err := l.progressTracker.SetProgress(block); err != nil {
				zap.L().Error("Error saving watcher progress", zap.Error(err))
			}
		}
	}()

	startBlock, err := l.progressTracker.GetProgress()
	if err != nil {
		return err
	}
	if startBlock > l.startBlock {
		startBlock -= 50 // just to be safe
	}
	if startBlock < l.startBlock {
		startBlock = l.startBlock
	}
	return l.watcher.WatchMarketEvents(startBlock, eventsChan, latestBlockChan, tipReachedChan)
}

// BlockUntilOnTipAndKeepListeningAsync starts the marketplace pipeline and
// returns once the watcher has caught up to the chain tip; indexing keeps
// running in the background until ctx is canceled.
func BlockUntilOnTipAndKeepListeningAsync(
	ctx context.Context,
	badgerDb *badger.DB,
	sqlDb *sql.DB,
	dispatcher jobs.Dispatcher,
) error {
	fatalErrors := make(chan error, 10)
	go func() {
		for err := range fatalErrors {
			zap.L().Fatal("Fatal error listening on marketplace contract", zap.Error(err))
		}
	}()

	listener, err := NewMarketplaceListener(ctx, badgerDb, sqlDb, dispatcher)
	if err != nil {
		return err
	}

	tipReachedChan := make(chan bool, 10)
	go func() {
		if err := listener.listen(tipReachedChan); err != nil {
			fatalErrors <- err
		}
	}()
	select {
	case <-tipReachedChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
