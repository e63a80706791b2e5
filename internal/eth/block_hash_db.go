package eth

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

// BlockHashDb remembers the canonical hash we saw for each block so the
// watcher can detect reorgs and rewind.
type BlockHashDb interface {
	GetHash(blockNumber uint64) (common.Hash, bool)
	SetHash(blockNumber uint64, hash common.Hash) error
	RevertFromBlock(fromBlock uint64) error
}

func NewBlockHashDb(db *badger.DB) BlockHashDb {
	return &BlockHashDbImpl{db: db}
}

type BlockHashDbImpl struct {
	mu sync.RWMutex
	db *badger.DB
}

const blockHashPrefix = "market:blockHash:"

func (b *BlockHashDbImpl) GetHash(blockNumber uint64) (common.Hash, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var blockHash common.Hash
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeBlockHashKey(blockNumber))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		copy(blockHash[:], val)
		return nil
	})
	if err != nil {
		return common.Hash{}, false
	}
	return blockHash, true
}

func (b *BlockHashDbImpl) SetHash(blockNumber uint64, hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeBlockHashKey(blockNumber), hash[:])
	})
}

func (b *BlockHashDbImpl) RevertFromBlock(fromBlock uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		var keysToDelete [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		startKey := encodeBlockHashKey(fromBlock)
		for it.Seek(startKey); it.Valid(); it.Next() {
			k := it.Item().Key()

			if len(k) < len(blockHashPrefix) || string(k[:len(blockHashPrefix)]) != blockHashPrefix {
				break
			}

			if decodeBlockHashKey(k) >= fromBlock {
				keysToDelete = append(keysToDelete, append([]byte(nil), k...))
			}
		}

		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

func encodeBlockHashKey(blockNum uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], blockNum)
	return append([]byte(blockHashPrefix), buf[:]...)
}

func decodeBlockHashKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(blockHashPrefix):])
}
