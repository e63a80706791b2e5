package market

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/floorline/floornode/internal/config"
	"github.com/floorline/floornode/internal/eth"
)

var ErrReorgDetected = errors.New("reorg detected")

// MarketEventsWatcher streams ordered batches of raw marketplace events, one
// batch per block, starting at startBlock and following the chain tip.
type MarketEventsWatcher interface {
	WatchMarketEvents(
		startBlock uint64,
		eventsChan chan<- []RawEvent,
		latestBlockChan chan<- uint64,
		tipReachedChan chan<- bool,
	) error
}

type DefaultMarketEventsWatcher struct {
	ctx          context.Context
	client       eth.EthClient
	registry     *Registry
	blockTracker eth.BlockHashDb
	exchange     common.Address
	maxChunkSize uint64

	receiptMu    sync.Mutex
	receiptCache map[common.Hash]*types.Receipt
}

func NewMarketEventsWatcher(db *badger.DB, ctx context.Context) (*DefaultMarketEventsWatcher, error) {
	ethClient, err := eth.CreateEthClient()
	if err != nil {
		return nil, err
	}
	exchange := config.Get().ExchangeContractAddress
	if exchange == "" {
		return nil, errors.New("exchange contract address is not configured")
	}
	maxChunkSize := config.Get().MarketWatcherMaxChunkSize
	if maxChunkSize == 0 {
		maxChunkSize = 20000
	}
	return &DefaultMarketEventsWatcher{
		ctx:          ctx,
		client:       ethClient,
		registry:     NewRegistry(),
		blockTracker: eth.NewBlockHashDb(db),
		exchange:     common.HexToAddress(exchange),
		maxChunkSize: maxChunkSize,
		receiptCache: make(map[common.Hash]*types.Receipt),
	}, nil
}

func (w *DefaultMarketEventsWatcher) WatchMarketEvents(
	startBlock uint64,
	eventsChan chan<- []RawEvent,
	latestBlockChan chan<- uint64,
	tipReachedChan chan<- bool,
) error {
	defer w.client.Close()

	zap.L().Info("Starting watch on marketplace events",
		zap.String("exchange", w.exchange.Hex()),
		zap.Uint64("startBlock", startBlock),
	)

	currentBlock := startBlock
	for {
		tipBlock, err := latestBlockNumber(w.ctx, w.client)
		if err != nil {
			if sleepInterrupted(w.ctx, 1*time.Second) {
				return nil
			}
			continue
		}

		if currentBlock <= tipBlock {
			endBlock := currentBlock + w.maxChunkSize - 1
			if endBlock > tipBlock {
				endBlock = tipBlock
			}
			err = w.processRangeWithPartialReorg(currentBlock, endBlock, eventsChan, latestBlockChan)
			if err != nil {
				if errors.Is(err, ErrReorgDetected) {
					continue
				}
				zap.L().Warn("Failed processing blocks range", zap.Error(err))
				if sleepInterrupted(w.ctx, 1*time.Second) {
					return err
				}
				continue
			}
			currentBlock = endBlock + 1
			continue
		}

		newHeads := make(chan *types.Header, 16)

		tipReachedChan <- true
		sub, err := w.client.SubscribeNewHead(w.ctx, newHeads)
		if err != nil {
			zap.L().Warn("Falling back to polling", zap.Error(err))
			return w.pollForNewBlocks(&currentBlock, eventsChan, latestBlockChan)
		}
		return w.subscribeAndProcessHeads(sub, newHeads, &currentBlock, eventsChan, latestBlockChan)
	}
}

func (w *DefaultMarketEventsWatcher) pollForNewBlocks(
	currentBlock *uint64,
	eventsChan chan<- []RawEvent,
	latestBlockChan chan<- uint64,
) error {
	for {
		if w.ctx.Err() != nil {
			return nil
		}
		tipBlock, err := latestBlockNumber(w.ctx, w.client)
		if err != nil {
			zap.L().Error("Could not get latest block (polling)", zap.Error(err))
			if sleepInterrupted(w.ctx, 3*time.Second) {
				return nil
			}
			continue
		}

		if *currentBlock <= tipBlock {
			endBlock := *currentBlock + w.maxChunkSize - 1
			if endBlock > tipBlock {
				endBlock = tipBlock
			}
			err := w.processRangeWithPartialReorg(*currentBlock, endBlock, eventsChan, latestBlockChan)
			if err != nil {
				if errors.Is(err, ErrReorgDetected) {
					continue
				}
				zap.L().Error("Failed processing blocks range (polling)", zap.Error(err))
				if sleepInterrupted(w.ctx, 3*time.Second) {
					return nil
				}
				continue
			}
			*currentBlock = endBlock + 1
			continue
		}

		zap.L().Debug("No new block yet (polling)",
			zap.Uint64("current", *currentBlock),
			zap.Uint64("tip", tipBlock),
		)
		if sleepInterrupted(w.ctx, 100*time.Millisecond) {
			return nil
		}
	}
}

func (w *DefaultMarketEventsWatcher) subscribeAndProcessHeads(
	sub ethereum.Subscription,
	newHeads <-chan *types.Header,
	currentBlock *uint64,
	eventsChan chan<- []RawEvent,
	latestBlockChan chan<- uint64,
) error {
	defer sub.Unsubscribe()

	for {
		select {
		case err := <-sub.Err():
			return err

		case header := <-newHeads:
			if header == nil {
				return nil
			}
			blockNum := header.Number.Uint64()
			for *currentBlock < blockNum {
				endBlock := *currentBlock + w.maxChunkSize - 1
				if endBlock >= blockNum-1 {
					endBlock = blockNum - 1
				}
				err := w.processRangeWithPartialReorg(*currentBlock, endBlock, eventsChan, latestBlockChan)
				if err != nil {
					if errors.Is(err, ErrReorgDetected) {
						continue
					}
					zap.L().Error("Failed processing blocks range (subscription)", zap.Error(err))
					return err
				}
				*currentBlock = endBlock + 1
			}

			if blockNum >= *currentBlock {
				err := w.processRangeWithPartialReorg(blockNum, blockNum, eventsChan, latestBlockChan)
				if err != nil {
					if errors.Is(err, ErrReorgDetected) {
						continue
					}
					return err
				}
				*currentBlock = blockNum + 1
			}

		case <-w.ctx.Done():
			return nil
		}
	}
}

func (w *DefaultMarketEventsWatcher) processRangeWithPartialReorg(
	startBlock, endBlock uint64,
	eventsChan chan<- []RawEvent,
	latestBlockChan chan<- uint64,
) error {
	if err := w.checkAndHandleReorg(startBlock); err != nil {
		return err
	}

	logs, err := w.fetchExchangeLogs(startBlock, endBlock)
	if err != nil {
		zap.L().Error("Failed fetching logs",
			zap.Uint64("start", startBlock),
			zap.Uint64("end", endBlock),
			zap.Error(err),
		)
		return err
	}

	blockGroups := make(map[uint64][]types.Log)
	for _, lg := range logs {
		blockGroups[lg.BlockNumber] = append(blockGroups[lg.BlockNumber], lg)
	}

	if len(blockGroups) == 0 {
		latestBlockChan <- endBlock
		return nil
	}

	var blocksWithLogs []uint64
	for b := range blockGroups {
		blocksWithLogs = append(blocksWithLogs, b)
	}
	sort.Slice(blocksWithLogs, func(i, j int) bool {
		return blocksWithLogs[i] < blocksWithLogs[j]
	})

	var lastLogTime time.Time

	for _, b := range blocksWithLogs {
		header, err := w.client.HeaderByNumber(w.ctx, big.NewInt(int64(b)))
		if err != nil {
			zap.L().Error("Could not fetch block header", zap.Uint64("block", b), zap.Error(err))
			return err
		}
		chainHash := header.Hash()
		recordedHash, found := w.blockTracker.GetHash(b)
		if found && recordedHash != chainHash {
			zap.L().Warn("Reorg detected",
				zap.Uint64("block", b),
				zap.String("oldHash", recordedHash.Hex()),
				zap.String("newHash", chainHash.Hex()),
			)
			_ = w.blockTracker.RevertFromBlock(b)
			return ErrReorgDetected
		}
		if !found {
			err := w.blockTracker.SetHash(b, chainHash)
			if err != nil {
				zap.L().Error("Could not set block hash", zap.Uint64("block", b), zap.Error(err))
				return err
			}
		}

		if time.Since(lastLogTime) >= 10*time.Second {
			zap.L().Info("Marketplace listener progress", zap.Uint64("currentlyOnBlock", b))
			lastLogTime = time.Now()
		}

		batch, err := w.buildBlockBatch(blockGroups[b], header.Time)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}

		select {
		case eventsChan <- batch:
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	}

	latestBlockChan <- endBlock
	return nil
}

// buildBlockBatch turns one block's exchange logs into raw events in
// transaction-index/log-index order, pulling in ERC-20 payment logs from the
// receipts of transactions that settled a trade so the engine can correlate
// them without its own chain access.
func (w *DefaultMarketEventsWatcher) buildBlockBatch(logsInBlock []types.Log, timestamp uint64) ([]RawEvent, error) {
	sort.Slice(logsInBlock, func(i, j int) bool {
		if logsInBlock[i].TxIndex != logsInBlock[j].TxIndex {
			return logsInBlock[i].TxIndex < logsInBlock[j].TxIndex
		}
		return logsInBlock[i].Index < logsInBlock[j].Index
	})

	var batch []RawEvent
	enriched := make(map[common.Hash]bool)

	for _, lg := range logsInBlock {
		kind, ok := w.registry.KindOf(lg)
		if !ok {
			continue
		}
		batch = append(batch, NewRawEvent(kind, lg, timestamp))

		if kind != KindTakerAsk && kind != KindTakerBid {
			continue
		}
		if enriched[lg.TxHash] {
			continue
		}
		enriched[lg.TxHash] = true

		paymentEvents, err := w.paymentEventsForTx(lg.TxHash, timestamp)
		if err != nil {
			// The trade itself still flows; only the approval resync signal
			// is lost for this transaction.
			zap.L().Warn("Could not inspect receipt for payment logs",
				zap.String("txHash", lg.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		batch = append(batch, paymentEvents...)
	}
	return batch, nil
}

func (w *DefaultMarketEventsWatcher) paymentEventsForTx(txHash common.Hash, timestamp uint64) ([]RawEvent, error) {
	receipt, err := w.receiptForTx(txHash)
	if err != nil {
		return nil, err
	}
	var events []RawEvent
	for _, lg := range receipt.Logs {
		if lg == nil {
			continue
		}
		kind, ok := w.registry.KindOf(*lg)
		if !ok || kind != KindPaymentTransfer {
			continue
		}
		events = append(events, NewRawEvent(kind, *lg, timestamp))
	}
	return events, nil
}

func (w *DefaultMarketEventsWatcher) receiptForTx(txHash common.Hash) (*types.Receipt, error) {
	w.receiptMu.Lock()
	cached, ok := w.receiptCache[txHash]
	w.receiptMu.Unlock()
	if ok {
		return cached, nil
	}

	receipt, err := w.client.TransactionReceipt(w.ctx, txHash)
	if err != nil {
		return nil, err
	}

	w.receiptMu.Lock()
	w.receiptCache[txHash] = receipt
	w.receiptMu.Unlock()
	return receipt, nil
}

func (w *DefaultMarketEventsWatcher) checkAndHandleReorg(startBlock uint64) error {
	if startBlock == 0 {
		return nil
	}
	maxDepth := 12
	var reorgStart uint64

	for i := 0; i < maxDepth; i++ {
		if startBlock == 0 {
			break
		}
		blockNum := startBlock - 1 - uint64(i)
		recordedHash, found := w.blockTracker.GetHash(blockNum)
		if !found {
			if blockNum == 0 {
				return nil
			}
			startBlock--
			continue
		}
		header, err := w.client.HeaderByNumber(w.ctx, big.NewInt(int64(blockNum)))
		if err != nil {
			zap.L().Error("Could not fetch block header (reorg check)",
				zap.Uint64("block", blockNum),
				zap.Error(err),
			)
			return err
		}
		if header.Hash() != recordedHash {
			reorgStart = blockNum
			break
		}
		break
	}
	if reorgStart > 0 {
		zap.L().Warn("Deep reorg detected", zap.Uint64("reorgStartBlock", reorgStart))
		err := w.blockTracker.RevertFromBlock(reorgStart)
		if err != nil {
			zap.L().Error("Could not revert block hash", zap.Uint64("block", reorgStart), zap.Error(err))
			return err
		}
		return ErrReorgDetected
	}
	return nil
}

func latestBlockNumber(ctx context.Context, client eth.EthClient) (uint64, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		zap.L().Error("Could not get latest block header", zap.Error(err))
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (w *DefaultMarketEventsWatcher) fetchExchangeLogs(startBlock, endBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(startBlock)),
		ToBlock:   big.NewInt(int64(endBlock)),
		Addresses: []common.Address{w.exchange},
		Topics:    [][]common.Hash{w.registry.Topics()},
	}
	return w.client.FilterLogs(w.ctx, query)
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}
