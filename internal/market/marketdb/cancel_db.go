package marketdb

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/dgraph-io/badger/v4"

	"github.com/floorline/floornode/pkg/marketplace"
)

/*
DB Indexes Created Here:

1. Exact nonce cancellation (subset and order nonces live in separate
   namespaces):
   "market:nonceCancel:{maker}:{subset|order}:{nonce}" => JSON(NonceCancelEvent)

   (The nonce is zero-padded to 78 decimal digits, the width of a uint256,
    so lexical order equals numeric order.)

2. Bulk sweep record, one per BulkCancelEvent:
   "market:bulkCancel:{maker}:{side}:{blockNumber}:{logIndex}:{batchIndex}"
   => JSON(BulkCancelEvent)
*/

type CancelDb interface {
	StoreNonceCancel(txn *badger.Txn, ev marketplace.NonceCancelEvent) error
	StoreBulkCancel(txn *badger.Txn, ev marketplace.BulkCancelEvent) error
	IsNonceInvalidated(txn *badger.Txn, maker string, side marketplace.OrderSide, nonce *big.Int, isSubset bool) (bool, error)
}

func NewCancelDb() CancelDb {
	return &CancelDbImpl{}
}

type CancelDbImpl struct{}

const (
	nonceCancelPrefix = "market:nonceCancel:"
	bulkCancelPrefix  = "market:bulkCancel:"
)

func nonceNamespace(isSubset bool) string {
	if isSubset {
		return "subset"
	}
	return "order"
}

func paddedNonce(nonce *big.Int) string {
	return fmt.Sprintf("%078s", nonce.String())
}

func (c *CancelDbImpl) StoreNonceCancel(txn *badger.Txn, ev marketplace.NonceCancelEvent) error {
	nonce, ok := new(big.Int).SetString(ev.Nonce, 10)
	if !ok {
		return fmt.Errorf("invalid nonce %q", ev.Nonce)
	}
	key := fmt.Sprintf("%s%s:%s:%s",
		nonceCancelPrefix, ev.Maker, nonceNamespace(ev.IsSubset), paddedNonce(nonce))

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), value)
}

func (c *CancelDbImpl) StoreBulkCancel(txn *badger.Txn, ev marketplace.BulkCancelEvent) error {
	o := ev.OriginParams
	key := fmt.Sprintf("%s%s:%s:%010d:%05d:%05d",
		bulkCancelPrefix, ev.Maker, ev.OrderSide, o.BlockNumber, o.LogIndex, o.BatchIndex)

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), value)
}

// IsNonceInvalidated reports whether the maker's nonce is spent, either by
// an exact cancellation in the matching namespace or, for order nonces, by
// any bulk sweep on that side whose floor covers it.
func (c *CancelDbImpl) IsNonceInvalidated(
	txn *badger.Txn,
	maker string,
	side marketplace.OrderSide,
	nonce *big.Int,
	isSubset bool,
) (bool, error) {
	exactKey := fmt.Sprintf("%s%s:%s:%s",
		nonceCancelPrefix, maker, nonceNamespace(isSubset), paddedNonce(nonce))
	_, err := txn.Get([]byte(exactKey))
	if err == nil {
		return true, nil
	}
	if err != badger.ErrKeyNotFound {
		return false, err
	}
	if isSubset {
		// Bulk sweeps only cover the order nonce namespace.
		return false, nil
	}

	prefix := fmt.Sprintf("%s%s:%s:", bulkCancelPrefix, maker, side)

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		var ev marketplace.BulkCancelEvent
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		})
		if err != nil {
			return false, err
		}
		minNonce, ok := new(big.Int).SetString(ev.MinNonce, 10)
		if !ok {
			return false, fmt.Errorf("invalid min nonce %q", ev.MinNonce)
		}
		if nonce.Cmp(minNonce) <= 0 {
			return true, nil
		}
	}
	return false, nil
}
