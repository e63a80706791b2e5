package market

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/floorline/floornode/pkg/marketplace"
)

// handlerFunc applies one event kind's settlement rule. txLogs are all logs
// that the input batch carries for the event's transaction, for sibling-log
// correlation. Returned errors mean "skip this record"; they never abort the
// batch.
type handlerFunc func(ctx context.Context, ev RawEvent, txLogs []types.Log, acc *marketplace.OnChainData) error

// Normalizer turns ordered raw marketplace events into canonical records on
// an OnChainData accumulator. It is single-threaded per batch: record order
// in the accumulator always equals input order, and batch indices are
// reproducible across replays.
type Normalizer struct {
	registry    *Registry
	attribution AttributionResolver
	prices      PriceResolver
	scanner     PaymentScanner
	handlers    map[EventKind]handlerFunc
}

func NewNormalizer(
	registry *Registry,
	attribution AttributionResolver,
	prices PriceResolver,
	scanner PaymentScanner,
) (*Normalizer, error) {
	if registry == nil {
		return nil, errors.New("event decoder registry is required")
	}
	if attribution == nil {
		return nil, errors.New("attribution resolver is required")
	}
	if prices == nil {
		return nil, errors.New("price resolver is required")
	}
	if scanner == nil {
		return nil, errors.New("payment scanner is required")
	}

	n := &Normalizer{
		registry:    registry,
		attribution: attribution,
		prices:      prices,
		scanner:     scanner,
	}
	// Adding a protocol event means adding a kind and a handler here, never
	// touching the dispatch loop.
	n.handlers = map[EventKind]handlerFunc{
		KindNewBidAskNonces:       n.handleNewBidAskNonces,
		KindSubsetNoncesCancelled: n.handleSubsetNoncesCancelled,
		KindOrderNoncesCancelled:  n.handleOrderNoncesCancelled,
		KindTakerAsk:              n.handleTakerAsk,
		KindTakerBid:              n.handleTakerBid,
	}
	return n, nil
}

// Normalize processes the batch strictly in input order and appends the
// resulting canonical records to acc. Per-event failures are logged and
// skipped; the only error returned is context cancellation.
func (n *Normalizer) Normalize(ctx context.Context, events []RawEvent, acc *marketplace.OnChainData) error {
	txLogs := groupLogsByTx(events)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		handler, ok := n.handlers[ev.Kind]
		if !ok {
			// Unknown or carrier-only kinds are a forward-compatible no-op.
			continue
		}

		if err := handler(ctx, ev, txLogs[ev.Origin.TxHash], acc); err != nil {
			zap.L().Error("Skipping market event",
				zap.String("kind", ev.Kind.String()),
				zap.String("txHash", ev.Origin.TxHash),
				zap.Uint64("logIndex", ev.Origin.LogIndex),
				zap.Error(err))
		}
	}
	return nil
}

// groupLogsByTx collects the sibling logs of each transaction in the batch
// so per-event rules can correlate within a transaction (e.g. ERC-20
// payment detection) without re-fetching.
func groupLogsByTx(events []RawEvent) map[string][]types.Log {
	grouped := make(map[string][]types.Log)
	for _, ev := range events {
		grouped[ev.Origin.TxHash] = append(grouped[ev.Origin.TxHash], ev.Log)
	}
	return grouped
}
