package marketdb

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/floorline/floornode/pkg/marketplace"
)

/*
DB Indexes Created Here:

1. Primary fill record:
   "market:fill:{blockNumber}:{txIndex}:{logIndex}:{batchIndex}:{txHash}"
   => JSON(FillEvent)

   (Zero-padding on numeric fields keeps lexical order equal to chain order:
    blockNumber => 10 digits, txIndex => 5, logIndex => 5, batchIndex => 5.)

2. Event-id index, which doubles as the idempotency guard:
   "market:fillById:{txHash}:{logIndex}:{batchIndex}" => primaryKey

3. NFT-based index to get all fills by (contract, tokenID):
   "market:fillByNft:{contract}:{tokenID}:{blockNumber}:{txIndex}:{logIndex}:{batchIndex}" => primaryKey

4. Maker-based index:
   "market:fillByMaker:{maker}:{blockNumber}:{txIndex}:{logIndex}:{batchIndex}" => primaryKey
*/

type FillDb interface {
	StoreFill(txn *badger.Txn, fill marketplace.FillEvent) error
	GetFillByEventID(txn *badger.Txn, eventID string) (*marketplace.FillEvent, error)
	GetFillsByNft(txn *badger.Txn, contract, tokenID string) ([]marketplace.FillEvent, error)
	GetFillsByMaker(txn *badger.Txn, maker string) ([]marketplace.FillEvent, error)
	ResetToCheckpoint(txn *badger.Txn, blockNumber uint64) error
}

func NewFillDb() FillDb {
	return &FillDbImpl{}
}

type FillDbImpl struct{}

const (
	fillPrefix        = "market:fill:"
	fillByIdPrefix    = "market:fillById:"
	fillByNftPrefix   = "market:fillByNft:"
	fillByMakerPrefix = "market:fillByMaker:"
)

func fillPrimaryKey(fill marketplace.FillEvent) string {
	o := fill.OriginParams
	return fmt.Sprintf("%s%010d:%05d:%05d:%05d:%s",
		fillPrefix, o.BlockNumber, o.TxIndex, o.LogIndex, o.BatchIndex, o.TxHash)
}

// StoreFill inserts a FillEvent with all its indexes. Replaying an already
// stored event id is a no-op, which makes reorg replays safe.
func (f *FillDbImpl) StoreFill(txn *badger.Txn, fill marketplace.FillEvent) error {
	idKey := fillByIdPrefix + fill.OriginParams.EventID()
	_, err := txn.Get([]byte(idKey))
	if err == nil {
		return nil
	}
	if err != badger.ErrKeyNotFound {
		return err
	}

	primaryKey := fillPrimaryKey(fill)
	value, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	if err := txn.Set([]byte(primaryKey), value); err != nil {
		return err
	}
	if err := txn.Set([]byte(idKey), []byte(primaryKey)); err != nil {
		return err
	}

	o := fill.OriginParams
	nftKey := fmt.Sprintf("%s%s:%s:%010d:%05d:%05d:%05d",
		fillByNftPrefix, fill.Contract, fill.TokenID,
		o.BlockNumber, o.TxIndex, o.LogIndex, o.BatchIndex)
	if err := txn.Set([]byte(nftKey), []byte(primaryKey)); err != nil {
		return err
	}

	makerKey := fmt.Sprintf("%s%s:%010d:%05d:%05d:%05d",
		fillByMakerPrefix, fill.Maker,
		o.BlockNumber, o.TxIndex, o.LogIndex, o.BatchIndex)
	return txn.Set([]byte(makerKey), []byte(primaryKey))
}

func (f *FillDbImpl) GetFillByEventID(txn *badger.Txn, eventID string) (*marketplace.FillEvent, error) {
	item, err := txn.Get([]byte(fillByIdPrefix + eventID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var primaryKey []byte
	err = item.Value(func(val []byte) error {
		primaryKey = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	pItem, err := txn.Get(primaryKey)
	if err != nil {
		return nil, err
	}
	var fill marketplace.FillEvent
	err = pItem.Value(func(val []byte) error {
		return json.Unmarshal(val, &fill)
	})
	if err != nil {
		return nil, err
	}
	return &fill, nil
}

func (f *FillDbImpl) GetFillsByNft(txn *badger.Txn, contract, tokenID string) ([]marketplace.FillEvent, error) {
	prefix := fmt.Sprintf("%s%s:%s:", fillByNftPrefix, contract, tokenID)
	return f.fillsForIndexPrefix(txn, prefix)
}

func (f *FillDbImpl) GetFillsByMaker(txn *badger.Txn, maker string) ([]marketplace.FillEvent, error) {
	prefix := fmt.Sprintf("%s%s:", fillByMakerPrefix, maker)
	return f.fillsForIndexPrefix(txn, prefix)
}

func (f *FillDbImpl) fillsForIndexPrefix(txn *badger.Txn, prefix string) ([]marketplace.FillEvent, error) {
	var fills []marketplace.FillEvent

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		var primaryKey []byte
		err := it.Item().Value(func(val []byte) error {
			primaryKey = append([]byte{}, val...)
			return nil
		})
		if err != nil {
			return nil, err
		}

		pItem, err := txn.Get(primaryKey)
		if err != nil {
			return nil, err
		}
		var fill marketplace.FillEvent
		err = pItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &fill)
		})
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// ResetToCheckpoint removes every fill record at blockNumber or later,
// together with its index entries. Used on reorg rollback.
func (f *FillDbImpl) ResetToCheckpoint(txn *badger.Txn, blockNumber uint64) error {
	cutoff := fmt.Sprintf("%s%010d:", fillPrefix, blockNumber)

	var doomed []marketplace.FillEvent
	var doomedKeys [][]byte

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek([]byte(cutoff)); it.ValidForPrefix([]byte(fillPrefix)); it.Next() {
		item := it.Item()
		var fill marketplace.FillEvent
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fill)
		})
		if err != nil {
			it.Close()
			return err
		}
		doomed = append(doomed, fill)
		doomedKeys = append(doomedKeys, item.KeyCopy(nil))
	}
	it.Close()

	for i, fill := range doomed {
		o := fill.OriginParams
		idKey := fillByIdPrefix + o.EventID()
		nftKey := fmt.Sprintf("%s%s:%s:%010d:%05d:%05d:%05d",
			fillByNftPrefix, fill.Contract, fill.TokenID,
			o.BlockNumber, o.TxIndex, o.LogIndex, o.BatchIndex)
		makerKey := fmt.Sprintf("%s%s:%010d:%05d:%05d:%05d",
			fillByMakerPrefix, fill.Maker,
			o.BlockNumber, o.TxIndex, o.LogIndex, o.BatchIndex)

		for _, key := range [][]byte{doomedKeys[i], []byte(idKey), []byte(nftKey), []byte(makerKey)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}
