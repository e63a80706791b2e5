package marketdb

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
)

// ProgressDb remembers the highest fully processed block so a restart can
// resume near where it left off.
type ProgressDb interface {
	GetProgress() (uint64, error)
	SetProgress(blockNumber uint64) error
}

func NewProgressDb(db *badger.DB) ProgressDb {
	return &ProgressDbImpl{db: db}
}

type ProgressDbImpl struct {
	db *badger.DB
}

const progressKey = "market:watcherProgress:"

func (b *ProgressDbImpl) GetProgress() (uint64, error) {
	var blockNumber uint64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			blockNumber = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return blockNumber, nil
	} else if err != nil {
		return blockNumber, err
	}
	return blockNumber, nil
}

func (b *ProgressDbImpl) SetProgress(blockNumber uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, blockNumber)
		return txn.Set([]byte(progressKey), buf)
	})
}
