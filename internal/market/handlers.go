package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/floorline/floornode/pkg/marketplace"
)

func (n *Normalizer) handleNewBidAskNonces(_ context.Context, ev RawEvent, _ []types.Log, acc *marketplace.OnChainData) error {
	decoded, err := n.registry.DecodeNewBidAskNonces(ev.Log)
	if err != nil {
		return err
	}
	maker := strings.ToLower(decoded.User.Hex())

	// Fixed order: the ask-side sweep first, then the bid-side one. The two
	// records share a log and are told apart by consecutive batch indices.
	acc.BulkCancelEvents = append(acc.BulkCancelEvents,
		marketplace.BulkCancelEvent{
			OrderKind:    marketplace.OrderKindLooksRareV2,
			Maker:        maker,
			MinNonce:     decoded.AskNonce.String(),
			OrderSide:    marketplace.OrderSideSell,
			AcrossAll:    true,
			OriginParams: ev.Origin,
		},
		marketplace.BulkCancelEvent{
			OrderKind:    marketplace.OrderKindLooksRareV2,
			Maker:        maker,
			MinNonce:     decoded.BidNonce.String(),
			OrderSide:    marketplace.OrderSideBuy,
			AcrossAll:    true,
			OriginParams: ev.Origin.WithBatchIndex(ev.Origin.BatchIndex + 1),
		},
	)
	return nil
}

func (n *Normalizer) handleSubsetNoncesCancelled(_ context.Context, ev RawEvent, _ []types.Log, acc *marketplace.OnChainData) error {
	decoded, err := n.registry.DecodeSubsetNoncesCancelled(ev.Log)
	if err != nil {
		return err
	}
	appendNonceCancels(acc, strings.ToLower(decoded.User.Hex()), decoded.SubsetNonces, true, ev.Origin)
	return nil
}

func (n *Normalizer) handleOrderNoncesCancelled(_ context.Context, ev RawEvent, _ []types.Log, acc *marketplace.OnChainData) error {
	decoded, err := n.registry.DecodeOrderNoncesCancelled(ev.Log)
	if err != nil {
		return err
	}
	appendNonceCancels(acc, strings.ToLower(decoded.User.Hex()), decoded.OrderNonces, false, ev.Origin)
	return nil
}

// appendNonceCancels emits one record per listed nonce in list order. Batch
// indices for cancellation lists restart at 1 regardless of the raw event's
// base index; persisted keys from earlier runs depend on this numbering.
func appendNonceCancels(acc *marketplace.OnChainData, maker string, nonces []*big.Int, isSubset bool, origin marketplace.OriginParams) {
	for i, nonce := range nonces {
		acc.NonceCancelEvents = append(acc.NonceCancelEvents, marketplace.NonceCancelEvent{
			OrderKind:    marketplace.OrderKindLooksRareV2,
			Maker:        maker,
			Nonce:        nonce.String(),
			IsSubset:     isSubset,
			OriginParams: origin.WithBatchIndex(uint64(i) + 1),
		})
	}
}

// tradeDetails is the side-independent view of a settled trade, after the
// two event variants have been folded into maker/taker roles.
type tradeDetails struct {
	orderHash  [32]byte
	orderNonce *big.Int
	orderSide  marketplace.OrderSide
	maker      common.Address
	taker      common.Address
	currency   common.Address
	collection common.Address
	itemIds    []*big.Int
	amounts    []*big.Int
	feeAmounts [3]*big.Int
}

func (n *Normalizer) handleTakerAsk(ctx context.Context, ev RawEvent, txLogs []types.Log, acc *marketplace.OnChainData) error {
	decoded, err := n.registry.DecodeTakerAsk(ev.Log)
	if err != nil {
		return err
	}
	// The taker sold into a standing bid, so the maker is the bidder and the
	// filled order is buy-side.
	return n.handleTrade(ctx, ev, txLogs, acc, tradeDetails{
		orderHash:  decoded.NonceInvalidationParameters.OrderHash,
		orderNonce: decoded.NonceInvalidationParameters.OrderNonce,
		orderSide:  marketplace.OrderSideBuy,
		maker:      decoded.BidUser,
		taker:      decoded.AskUser,
		currency:   decoded.Currency,
		collection: decoded.Collection,
		itemIds:    decoded.ItemIds,
		amounts:    decoded.Amounts,
		feeAmounts: decoded.FeeAmounts,
	})
}

func (n *Normalizer) handleTakerBid(ctx context.Context, ev RawEvent, txLogs []types.Log, acc *marketplace.OnChainData) error {
	decoded, err := n.registry.DecodeTakerBid(ev.Log)
	if err != nil {
		return err
	}
	return n.handleTrade(ctx, ev, txLogs, acc, tradeDetails{
		orderHash:  decoded.NonceInvalidationParameters.OrderHash,
		orderNonce: decoded.NonceInvalidationParameters.OrderNonce,
		orderSide:  marketplace.OrderSideSell,
		maker:      decoded.AskUser,
		taker:      decoded.BidUser,
		currency:   decoded.Currency,
		collection: decoded.Collection,
		itemIds:    decoded.ItemIds,
		amounts:    decoded.Amounts,
		feeAmounts: decoded.FeeAmounts,
	})
}

func (n *Normalizer) handleTrade(ctx context.Context, ev RawEvent, txLogs []types.Log, acc *marketplace.OnChainData, trade tradeDetails) error {
	if len(trade.itemIds) != 1 || len(trade.amounts) != 1 {
		// Bundled trades are not supported; drop the whole record without
		// raising, a bundle is expected traffic rather than bad data.
		zap.L().Debug("Ignoring bundled trade",
			zap.String("txHash", ev.Origin.TxHash),
			zap.Uint64("logIndex", ev.Origin.LogIndex),
			zap.Int("items", len(trade.itemIds)))
		return nil
	}

	amount := trade.amounts[0]
	if amount.Sign() <= 0 {
		zap.L().Warn("Ignoring trade with zero amount",
			zap.String("txHash", ev.Origin.TxHash),
			zap.Uint64("logIndex", ev.Origin.LogIndex))
		return nil
	}

	orderID := strings.ToLower(common.BytesToHash(trade.orderHash[:]).Hex())
	maker := strings.ToLower(trade.maker.Hex())
	taker := strings.ToLower(trade.taker.Hex())
	currency := strings.ToLower(trade.currency.Hex())
	collection := strings.ToLower(trade.collection.Hex())

	attribution, err := n.attribution.Resolve(ctx, ev.Origin.TxHash, marketplace.OrderKindLooksRareV2, orderID)
	if err != nil {
		// Attribution is best effort; keep the decoded taker and carry no
		// source identifiers.
		zap.L().Warn("Attribution unavailable for trade",
			zap.String("txHash", ev.Origin.TxHash),
			zap.String("orderId", orderID),
			zap.Error(err))
		attribution = AttributionResult{}
	}
	if attribution.Taker != "" {
		taker = attribution.Taker
	}

	totalFee := new(big.Int)
	for _, fee := range trade.feeAmounts {
		if fee != nil {
			totalFee.Add(totalFee, fee)
		}
	}
	currencyPrice := new(big.Int).Div(totalFee, amount)

	price, err := n.prices.Resolve(ctx, currency, currencyPrice, ev.Origin.Timestamp)
	if err != nil {
		// A fill without a native price must never be persisted, so nothing
		// derived from this log is emitted either.
		zap.L().Warn("Dropping trade without resolvable native price",
			zap.String("txHash", ev.Origin.TxHash),
			zap.String("currency", currency),
			zap.Error(err))
		return nil
	}

	usdPrice := ""
	if price.UsdPrice != nil {
		usdPrice = price.UsdPrice.String()
	}

	acc.FillEvents = append(acc.FillEvents, marketplace.FillEvent{
		OrderKind:          marketplace.OrderKindLooksRareV2,
		OrderID:            orderID,
		OrderSide:          trade.orderSide,
		Maker:              maker,
		Taker:              taker,
		Price:              price.NativePrice.String(),
		Currency:           currency,
		CurrencyPrice:      currencyPrice.String(),
		UsdPrice:           usdPrice,
		Contract:           collection,
		TokenID:            trade.itemIds[0].String(),
		Amount:             amount.String(),
		OrderSourceID:      attribution.OrderSourceID,
		AggregatorSourceID: attribution.AggregatorSourceID,
		FillSourceID:       attribution.FillSourceID,
		OriginParams:       ev.Origin,
	})

	acc.NonceCancelEvents = append(acc.NonceCancelEvents, marketplace.NonceCancelEvent{
		OrderKind:    marketplace.OrderKindLooksRareV2,
		Maker:        maker,
		Nonce:        trade.orderNonce.String(),
		IsSubset:     false,
		OriginParams: ev.Origin,
	})

	trigger := marketplace.OrderTrigger{
		Kind:        marketplace.TriggerKindSale,
		TxHash:      ev.Origin.TxHash,
		TxTimestamp: ev.Origin.Timestamp,
	}

	acc.OrderInfos = append(acc.OrderInfos, marketplace.OrderInfo{
		Context: fmt.Sprintf("sale:%s:%s", orderID, ev.Origin.EventID()),
		OrderID: orderID,
		Trigger: trigger,
	})

	acc.FillInfos = append(acc.FillInfos, marketplace.FillInfo{
		Context:   fmt.Sprintf("sale:%s:%s", orderID, ev.Origin.EventID()),
		OrderID:   orderID,
		OrderSide: trade.orderSide,
		Contract:  collection,
		TokenID:   trade.itemIds[0].String(),
		Amount:    amount.String(),
		Price:     price.NativePrice.String(),
		Timestamp: ev.Origin.Timestamp,
		Maker:     maker,
		Taker:     taker,
	})

	if erc20Contract, ok := n.scanner.Scan(txLogs); ok {
		approvalKind := marketplace.ApprovalKindSell
		if trade.orderSide == marketplace.OrderSideBuy {
			approvalKind = marketplace.ApprovalKindBuy
		}
		acc.MakerInfos = append(acc.MakerInfos, marketplace.MakerInfo{
			Context: fmt.Sprintf("approval-change:%s:%s", maker, ev.Origin.EventID()),
			Maker:   maker,
			Trigger: marketplace.OrderTrigger{
				Kind:        marketplace.TriggerKindApprovalChange,
				TxHash:      ev.Origin.TxHash,
				TxTimestamp: ev.Origin.Timestamp,
			},
			Data: marketplace.ApprovalData{
				Kind:      approvalKind,
				Contract:  strings.ToLower(erc20Contract.Hex()),
				OrderKind: marketplace.OrderKindLooksRareV2,
			},
		})
	}

	return nil
}
