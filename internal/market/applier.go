package market

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/floorline/floornode/internal/jobs"
	"github.com/floorline/floornode/internal/market/marketdb"
	"github.com/floorline/floornode/pkg/marketplace"
)

// OnChainDataApplier is the downstream sink of the normalization engine: it
// persists canonical records and forwards triggers. Apply is safe to call
// again with the same accumulator; every store upserts on the event id or
// context key.
type OnChainDataApplier interface {
	Apply(ctx context.Context, data *marketplace.OnChainData) error
}

type DefaultOnChainDataApplier struct {
	badger     *badger.DB
	fillDb     marketdb.FillDb
	cancelDb   marketdb.CancelDb
	activityDb marketdb.ActivityDb
	dispatcher jobs.Dispatcher
}

func NewDefaultOnChainDataApplier(
	badgerDb *badger.DB,
	activityDb marketdb.ActivityDb,
	dispatcher jobs.Dispatcher,
) *DefaultOnChainDataApplier {
	return &DefaultOnChainDataApplier{
		badger:     badgerDb,
		fillDb:     marketdb.NewFillDb(),
		cancelDb:   marketdb.NewCancelDb(),
		activityDb: activityDb,
		dispatcher: dispatcher,
	}
}

func (a *DefaultOnChainDataApplier) Apply(ctx context.Context, data *marketplace.OnChainData) error {
	if data == nil || data.Empty() {
		return nil
	}

	err := a.badger.Update(func(txn *badger.Txn) error {
		for _, fill := range data.FillEvents {
			if err := a.fillDb.StoreFill(txn, fill); err != nil {
				return err
			}
		}
		for _, cancel := range data.NonceCancelEvents {
			if err := a.cancelDb.StoreNonceCancel(txn, cancel); err != nil {
				return err
			}
		}
		for _, cancel := range data.BulkCancelEvents {
			if err := a.cancelDb.StoreBulkCancel(txn, cancel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, info := range data.FillInfos {
		if err := a.activityDb.StoreFillActivity(ctx, info); err != nil {
			return err
		}
	}

	// Triggers go out only after persistence; a crash before this point loses
	// nothing since redelivery recreates them from the same records.
	for _, info := range data.OrderInfos {
		if err := a.dispatcher.DispatchOrderInfo(ctx, info); err != nil {
			zap.L().Error("Failed dispatching order trigger",
				zap.String("context", info.Context),
				zap.Error(err))
		}
	}
	for _, info := range data.MakerInfos {
		if err := a.dispatcher.DispatchMakerInfo(ctx, info); err != nil {
			zap.L().Error("Failed dispatching maker trigger",
				zap.String("context", info.Context),
				zap.Error(err))
		}
	}
	return nil
}
