package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

const dirMode = 0o755

// ErrOffsetNotFound is returned when no offset was ever persisted for a
// topic/partition pair, in which case the consumer starts from the beginning.
var ErrOffsetNotFound = errors.New("offset not found")

// OffsetStore persists consumed Kafka offsets in a local BadgerDB so a
// restarted engine resumes where it left off. It holds transport-side
// bookkeeping only; window state is deliberately not persisted.
type OffsetStore struct {
	db *badger.DB
}

func OpenOffsetStore(path string) (*OffsetStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("create offset store path: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open offset store: %w", err)
	}
	return &OffsetStore{db: db}, nil
}

func offsetKey(topic string, partition int) []byte {
	return fmt.Appendf(nil, "offset:%s:%d", topic, partition)
}

// Save records the last processed offset for a topic partition.
func (s *OffsetStore) Save(topic string, partition int, offset int64) error {
	val := strconv.AppendInt(nil, offset, 10)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(offsetKey(topic, partition), val)
	})
}

// Get returns the last processed offset for a topic partition, or
// ErrOffsetNotFound when none was persisted.
func (s *OffsetStore) Get(topic string, partition int) (int64, error) {
	var offset int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(offsetKey(topic, partition))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrOffsetNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			parsed, parseErr := strconv.ParseInt(string(v), 10, 64)
			if parseErr != nil {
				return fmt.Errorf("corrupt offset for %s/%d: %w", topic, partition, parseErr)
			}
			offset = parsed
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return offset, nil
}

func (s *OffsetStore) Close() error {
	return s.db.Close()
}
