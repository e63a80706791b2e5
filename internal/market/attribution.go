package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/floorline/floornode/internal/eth"
	"github.com/floorline/floornode/pkg/marketplace"
)

// AttributionResult credits the economic actors behind a trade. Empty fields
// mean "no attribution": the engine keeps the decoded taker and omits source
// identifiers.
type AttributionResult struct {
	Taker              string
	OrderSourceID      string
	AggregatorSourceID string
	FillSourceID       string
}

type AttributionResolver interface {
	Resolve(ctx context.Context, txHash string, orderKind marketplace.OrderKind, orderID string) (AttributionResult, error)
}

type routerSource struct {
	aggregator string
	fill       string
}

// Known aggregator routers. A trade routed through one of these is credited
// to the aggregator, with the tx sender as the effective taker.
var aggregatorRouters = map[common.Address]routerSource{
	common.HexToAddress("0x83C8F28c26bF6aaca652Df1DbBE0e1b56F8baBa2"): {aggregator: "gem.xyz", fill: "gem.xyz"},
	common.HexToAddress("0x0a267cF51EF038fC00E71801F5a524aec06e4f07"): {aggregator: "genie.xyz", fill: "genie.xyz"},
	common.HexToAddress("0x39da41747a83aeE658334415666f3EF92DD0D541"): {aggregator: "blur.io", fill: "blur.io"},
}

var orderSourcesByKind = map[marketplace.OrderKind]string{
	marketplace.OrderKindLooksRareV2: "looksrare.org",
}

// DefaultAttributionResolver inspects the transaction that carried the fill:
// a recognized router as tx target yields aggregator credit and a taker
// override (the tx sender).
type DefaultAttributionResolver struct {
	ethClient eth.EthClient
	timeout   time.Duration

	mu      sync.Mutex
	txCache map[common.Hash]*types.Transaction
}

func NewDefaultAttributionResolver(client eth.EthClient, timeout time.Duration) *DefaultAttributionResolver {
	if timeout == 0 {
		timeout = defaultResolverTimeout
	}
	return &DefaultAttributionResolver{
		ethClient: client,
		timeout:   timeout,
		txCache:   make(map[common.Hash]*types.Transaction),
	}
}

func (r *DefaultAttributionResolver) Resolve(
	ctx context.Context,
	txHash string,
	orderKind marketplace.OrderKind,
	orderID string,
) (AttributionResult, error) {
	result := AttributionResult{OrderSourceID: orderSourcesByKind[orderKind]}
	result.FillSourceID = result.OrderSourceID

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.getOrFetchTx(ctx, common.HexToHash(txHash))
	if err != nil {
		return result, err
	}
	if tx == nil || tx.To() == nil {
		return result, nil
	}

	source, ok := aggregatorRouters[*tx.To()]
	if !ok {
		return result, nil
	}
	result.AggregatorSourceID = source.aggregator
	result.FillSourceID = source.fill

	// The exchange log names the router as taker; the real taker is whoever
	// sent the routed transaction.
	if sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		result.Taker = strings.ToLower(sender.Hex())
	}
	return result, nil
}

func (r *DefaultAttributionResolver) getOrFetchTx(ctx context.Context, txHash common.Hash) (*types.Transaction, error) {
	r.mu.Lock()
	if tx, ok := r.txCache[txHash]; ok {
		r.mu.Unlock()
		return tx, nil
	}
	r.mu.Unlock()

	tx, _, err := r.ethClient.TransactionByHash(ctx, txHash)
	if err != nil {
		zap.L().Warn("Error fetching transaction for fill attribution",
			zap.Error(err),
			zap.String("txHash", txHash.Hex()))
		return nil, err
	}

	r.mu.Lock()
	r.txCache[txHash] = tx
	r.mu.Unlock()
	return tx, nil
}
