package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floorline/floornode/internal/eth/mocks"
)

type inMemoryBlockHashes struct {
	mu    sync.Mutex
	store map[uint64]common.Hash
}

func newInMemoryBlockHashes() *inMemoryBlockHashes {
	return &inMemoryBlockHashes{store: make(map[uint64]common.Hash)}
}

func (db *inMemoryBlockHashes) GetHash(blockNumber uint64) (common.Hash, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.store[blockNumber]
	return h, ok
}

func (db *inMemoryBlockHashes) SetHash(blockNumber uint64, hash common.Hash) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.store[blockNumber] = hash
	return nil
}

func (db *inMemoryBlockHashes) RevertFromBlock(blockNumber uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for k := range db.store {
		if k >= blockNumber {
			delete(db.store, k)
		}
	}
	return nil
}

func newTestWatcher(ctx context.Context, client *mocks.EthClient, tracker *inMemoryBlockHashes) *DefaultMarketEventsWatcher {
	return &DefaultMarketEventsWatcher{
		ctx:          ctx,
		client:       client,
		registry:     NewRegistry(),
		blockTracker: tracker,
		exchange:     common.HexToAddress("0xEEEE000000000000000000000000000000000001"),
		maxChunkSize: 100,
		receiptCache: make(map[common.Hash]*types.Receipt),
	}
}

func TestBuildBlockBatchEnrichesTradesWithPaymentLogs(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	tradeLog := takerBidRawEvent(t, []*big.Int{big.NewInt(7)}, []*big.Int{big.NewInt(1)}, big.NewInt(500)).Log
	payment := erc20TransferLog(common.HexToAddress("0xC000000000000000000000000000000000000001"), 5)
	receipt := &types.Receipt{Logs: []*types.Log{&payment}}
	client.On("TransactionReceipt", mock.Anything, tradeLog.TxHash).Return(receipt, nil).Once()

	batch, err := watcher.buildBlockBatch([]types.Log{tradeLog}, 1700000000)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, KindTakerBid, batch[0].Kind)
	assert.Equal(t, KindPaymentTransfer, batch[1].Kind)
	client.AssertExpectations(t)
}

func TestBuildBlockBatchFetchesReceiptOncePerTransaction(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	tradeA := takerBidRawEvent(t, []*big.Int{big.NewInt(7)}, []*big.Int{big.NewInt(1)}, big.NewInt(500)).Log
	tradeB := tradeA
	tradeB.Index = tradeA.Index + 1

	client.On("TransactionReceipt", mock.Anything, tradeA.TxHash).
		Return(&types.Receipt{}, nil)

	batch, err := watcher.buildBlockBatch([]types.Log{tradeA, tradeB}, 1700000000)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	client.AssertNumberOfCalls(t, "TransactionReceipt", 1)
}

func TestBuildBlockBatchReceiptFailureKeepsTrade(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	tradeLog := takerBidRawEvent(t, []*big.Int{big.NewInt(7)}, []*big.Int{big.NewInt(1)}, big.NewInt(500)).Log
	client.On("TransactionReceipt", mock.Anything, tradeLog.TxHash).
		Return(nil, errors.New("node unavailable"))

	batch, err := watcher.buildBlockBatch([]types.Log{tradeLog}, 1700000000)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, KindTakerBid, batch[0].Kind)
}

func TestBuildBlockBatchSortsByTxIndexThenLogIndex(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	data := packEventData(t, "OrderNoncesCancelled",
		common.HexToAddress("0xA000000000000000000000000000000000000001"),
		[]*big.Int{big.NewInt(1)},
	)
	first := exchangeLog(t, "OrderNoncesCancelled", 2, data)
	first.TxIndex = 0
	second := exchangeLog(t, "OrderNoncesCancelled", 1, data)
	second.TxIndex = 1

	batch, err := watcher.buildBlockBatch([]types.Log{second, first}, 1700000000)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(0), batch[0].Origin.TxIndex)
	assert.Equal(t, uint64(1), batch[1].Origin.TxIndex)
}

func TestBuildBlockBatchSkipsUnknownLogs(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	unknown := types.Log{Topics: []common.Hash{common.HexToHash("0xAB")}}
	batch, err := watcher.buildBlockBatch([]types.Log{unknown}, 1700000000)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestCheckAndHandleReorgDetectsHashMismatch(t *testing.T) {
	client := new(mocks.EthClient)
	tracker := newInMemoryBlockHashes()
	watcher := newTestWatcher(context.Background(), client, tracker)

	header := &types.Header{Number: big.NewInt(99), Extra: []byte{}}
	require.NoError(t, tracker.SetHash(99, common.HexToHash("0xDEAD")))
	client.On("HeaderByNumber", mock.Anything, big.NewInt(99)).Return(header, nil)

	err := watcher.checkAndHandleReorg(100)
	require.ErrorIs(t, err, ErrReorgDetected)

	_, found := tracker.GetHash(99)
	assert.False(t, found, "expected recorded hashes from the reorged block on to be reverted")
}

func TestCheckAndHandleReorgAcceptsMatchingHash(t *testing.T) {
	client := new(mocks.EthClient)
	tracker := newInMemoryBlockHashes()
	watcher := newTestWatcher(context.Background(), client, tracker)

	header := &types.Header{Number: big.NewInt(99), Extra: []byte{}}
	require.NoError(t, tracker.SetHash(99, header.Hash()))
	client.On("HeaderByNumber", mock.Anything, big.NewInt(99)).Return(header, nil)

	require.NoError(t, watcher.checkAndHandleReorg(100))
}

func TestProcessRangeEmitsBatchAndProgress(t *testing.T) {
	client := new(mocks.EthClient)
	tracker := newInMemoryBlockHashes()
	watcher := newTestWatcher(context.Background(), client, tracker)

	data := packEventData(t, "OrderNoncesCancelled",
		common.HexToAddress("0xA000000000000000000000000000000000000001"),
		[]*big.Int{big.NewInt(1)},
	)
	lg := exchangeLog(t, "OrderNoncesCancelled", 1, data)

	header := &types.Header{Number: big.NewInt(int64(lg.BlockNumber)), Extra: []byte{}}
	client.On("FilterLogs", mock.Anything, mock.Anything).Return([]types.Log{lg}, nil)
	client.On("HeaderByNumber", mock.Anything, big.NewInt(int64(lg.BlockNumber))).Return(header, nil)

	eventsChan := make(chan []RawEvent, 4)
	latestBlockChan := make(chan uint64, 4)

	err := watcher.processRangeWithPartialReorg(lg.BlockNumber, lg.BlockNumber, eventsChan, latestBlockChan)
	require.NoError(t, err)

	batch := <-eventsChan
	require.Len(t, batch, 1)
	assert.Equal(t, KindOrderNoncesCancelled, batch[0].Kind)
	assert.Equal(t, lg.BlockNumber, <-latestBlockChan)

	storedHash, found := tracker.GetHash(lg.BlockNumber)
	require.True(t, found)
	assert.Equal(t, header.Hash(), storedHash)
}

func TestProcessRangeWithNoLogsStillReportsProgress(t *testing.T) {
	client := new(mocks.EthClient)
	watcher := newTestWatcher(context.Background(), client, newInMemoryBlockHashes())

	client.On("FilterLogs", mock.Anything, mock.Anything).Return([]types.Log{}, nil)

	eventsChan := make(chan []RawEvent, 1)
	latestBlockChan := make(chan uint64, 1)

	require.NoError(t, watcher.processRangeWithPartialReorg(5000, 5100, eventsChan, latestBlockChan))
	assert.Equal(t, uint64(5100), <-latestBlockChan)
	assert.Empty(t, eventsChan)
}
