package marketdb

import (
	"math/big"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorline/floornode/pkg/marketplace"
)

const testMaker = "0xa000000000000000000000000000000000000001"

func storeNonceCancel(t *testing.T, db *badger.DB, cancelDb CancelDb, nonce string, isSubset bool) {
	t.Helper()
	err := db.Update(func(txn *badger.Txn) error {
		return cancelDb.StoreNonceCancel(txn, marketplace.NonceCancelEvent{
			OrderKind: marketplace.OrderKindLooksRareV2,
			Maker:     testMaker,
			Nonce:     nonce,
			IsSubset:  isSubset,
			OriginParams: marketplace.OriginParams{
				TxHash:      "0xaa01",
				BlockNumber: 100,
				LogIndex:    1,
				BatchIndex:  1,
			},
		})
	})
	require.NoError(t, err)
}

func checkInvalidated(t *testing.T, db *badger.DB, cancelDb CancelDb, side marketplace.OrderSide, nonce int64, isSubset bool) bool {
	t.Helper()
	var invalidated bool
	err := db.View(func(txn *badger.Txn) error {
		var err error
		invalidated, err = cancelDb.IsNonceInvalidated(txn, testMaker, side, big.NewInt(nonce), isSubset)
		return err
	})
	require.NoError(t, err)
	return invalidated
}

func TestCancelDbExactNonceInvalidation(t *testing.T) {
	db := setupTestInMemoryDB(t)
	cancelDb := NewCancelDb()

	storeNonceCancel(t, db, cancelDb, "42", false)

	assert.True(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 42, false))
	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 43, false))
}

func TestCancelDbSubsetAndOrderNamespacesAreDistinct(t *testing.T) {
	db := setupTestInMemoryDB(t)
	cancelDb := NewCancelDb()

	storeNonceCancel(t, db, cancelDb, "7", true)

	assert.True(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 7, true))
	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 7, false))
}

func TestCancelDbBulkSweepCoversOrderNoncesUpToFloor(t *testing.T) {
	db := setupTestInMemoryDB(t)
	cancelDb := NewCancelDb()

	err := db.Update(func(txn *badger.Txn) error {
		return cancelDb.StoreBulkCancel(txn, marketplace.BulkCancelEvent{
			OrderKind: marketplace.OrderKindLooksRareV2,
			Maker:     testMaker,
			MinNonce:  "100",
			OrderSide: marketplace.OrderSideSell,
			AcrossAll: true,
			OriginParams: marketplace.OriginParams{
				TxHash:      "0xaa02",
				BlockNumber: 100,
				LogIndex:    5,
				BatchIndex:  1,
			},
		})
	})
	require.NoError(t, err)

	assert.True(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 100, false))
	assert.True(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 1, false))
	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 101, false))

	// The sweep is side-scoped.
	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideBuy, 50, false))

	// Subset nonces are untouched by bulk sweeps.
	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 50, true))
}

func TestCancelDbLargeNonceOrderingIsNumeric(t *testing.T) {
	db := setupTestInMemoryDB(t)
	cancelDb := NewCancelDb()

	// A 21-digit nonce must not compare lexically against small ones.
	big21 := "100000000000000000000"
	storeNonceCancel(t, db, cancelDb, big21, false)

	nonce, ok := new(big.Int).SetString(big21, 10)
	require.True(t, ok)

	var invalidated bool
	err := db.View(func(txn *badger.Txn) error {
		var err error
		invalidated, err = cancelDb.IsNonceInvalidated(txn, testMaker, marketplace.OrderSideSell, nonce, false)
		return err
	})
	require.NoError(t, err)
	assert.True(t, invalidated)

	assert.False(t, checkInvalidated(t, db, cancelDb, marketplace.OrderSideSell, 1000, false))
}

func TestCancelDbRejectsMalformedNonce(t *testing.T) {
	db := setupTestInMemoryDB(t)
	cancelDb := NewCancelDb()

	err := db.Update(func(txn *badger.Txn) error {
		return cancelDb.StoreNonceCancel(txn, marketplace.NonceCancelEvent{
			Maker: testMaker,
			Nonce: "not-a-number",
		})
	})
	assert.Error(t, err)
}
