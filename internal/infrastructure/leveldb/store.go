// Package leveldb persists committed and reverted ledger receipts in LevelDB,
// addressable by index and by transaction hash.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

var (
	prefixReceipt = []byte("receipt_")
	prefixHash    = []byte("hash_")
	keyLatest     = []byte("height_latest")
)

// ErrNotFound is returned when no receipt matches
var ErrNotFound = errors.New("receipt not found")

// Store is a ledger.ReceiptSink backed by LevelDB
type Store struct {
	db     *goleveldb.DB
	logger *zap.Logger
}

var _ ledger.ReceiptSink = (*Store)(nil)

// Open opens or creates a store at path
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := goleveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open receipt store %s: %w", path, err)
	}
	return newStore(db, logger), nil
}

// OpenMemory opens a store that lives only in memory
func OpenMemory(logger *zap.Logger) (*Store, error) {
	db, err := goleveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory receipt store: %w", err)
	}
	return newStore(db, logger), nil
}

func newStore(db *goleveldb.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func receiptKey(index uint64) []byte {
	key := make([]byte, len(prefixReceipt)+8)
	copy(key, prefixReceipt)
	binary.BigEndian.PutUint64(key[len(prefixReceipt):], index)
	return key
}

func hashKey(h merkle.Hash) []byte {
	return append(append([]byte{}, prefixHash...), h[:]...)
}

func encodeIndex(index uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return buf[:]
}

// HandleReceipt stores the receipt, its hash pointer and the latest height in one batch
func (s *Store) HandleReceipt(_ context.Context, r *ledger.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt %d: %w", r.Index, err)
	}

	batch := new(goleveldb.Batch)
	batch.Put(receiptKey(r.Index), data)
	batch.Put(hashKey(r.Hash), encodeIndex(r.Index))
	batch.Put(keyLatest, encodeIndex(r.Index))
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: false}); err != nil {
		return fmt.Errorf("write receipt %d: %w", r.Index, err)
	}

	s.logger.Debug("receipt stored",
		zap.Uint64("index", r.Index),
		zap.String("hash", r.Hash.Hex()),
		zap.String("status", string(r.Status)))
	return nil
}

// Get returns the receipt at index
func (s *Store) Get(index uint64) (*ledger.Receipt, error) {
	data, err := s.db.Get(receiptKey(index), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r ledger.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %d: %w", index, err)
	}
	return &r, nil
}

// GetByHash returns the receipt with transaction hash h
func (s *Store) GetByHash(h merkle.Hash) (*ledger.Receipt, error) {
	idx, err := s.db.Get(hashKey(h), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(binary.BigEndian.Uint64(idx))
}

// Latest returns the index of the most recent receipt
func (s *Store) Latest() (uint64, bool, error) {
	v, err := s.db.Get(keyLatest, nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// Range returns up to limit receipts starting at index from, in index order
func (s *Store) Range(from uint64, limit int) ([]*ledger.Receipt, error) {
	iter := s.db.NewIterator(&util.Range{
		Start: receiptKey(from),
		Limit: util.BytesPrefix(prefixReceipt).Limit,
	}, nil)
	defer iter.Release()

	var out []*ledger.Receipt
	for iter.Next() && len(out) < limit {
		var r ledger.Receipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		out = append(out, &r)
	}
	return out, iter.Error()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
