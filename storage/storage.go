// Package storage persists client messages in badger. Expiry is delegated to badger's per entry TTL, so
// an expired message simply stops being visible.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const (
	ITEM_PREFIX = "item:"
	HASH_PREFIX = "hash:"
)

var log = logrus.New()

var ErrClosed = errors.New("storage is closed")

type Config struct {
	Path     string
	InMemory bool
	Logger   *logrus.Logger
}

type DB struct {
	badgerDB     *badger.DB
	closed       atomic.Bool
	readCounter  uint64
	writeCounter uint64
}

func Open(config Config) (*DB, error) {
	if config.Logger != nil {
		log = config.Logger
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Path)
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %q: %w", config.Path, err)
	}
	log.Infof("storage opened at %q", config.Path)
	return &DB{badgerDB: db}, nil
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	return db.badgerDB.Close()
}

// Store saves item. It returns false without error when an item with the same hash already exists or
// when the item is already expired.
func (db *DB) Store(item message.Item) (bool, error) {
	if db.closed.Load() {
		return false, ErrClosed
	}
	ttl := time.Until(item.Expiration)
	if ttl <= 0 {
		return false, nil
	}
	value, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to encode item %s: %w", item.Hash, err)
	}
	itemKey := itemKey(item)

	stored := false
	err = db.badgerDB.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(hashKey(item.Hash))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(itemKey, value).WithTTL(ttl)); err != nil {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(hashKey(item.Hash), itemKey).WithTTL(ttl)); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		log.Errorf("failed to store item %s: %v", item.Hash, err)
		return false, fmt.Errorf("failed to store item: %w", err)
	}
	atomic.AddUint64(&db.writeCounter, 1)
	log.Debugf("store item %s for %s: stored = %v", item.Hash, message.Obfuscate(item.PubKey), stored)
	return stored, nil
}

// RetrieveSince returns the items of pubkey stored after the item with lastHash, oldest first. When
// lastHash is empty or unknown every item of pubkey is returned. limit <= 0 means no limit.
func (db *DB) RetrieveSince(pubkey string, lastHash string, limit int) ([]message.Item, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	atomic.AddUint64(&db.readCounter, 1)
	prefix := []byte(ITEM_PREFIX + pubkey + ":")

	items := []message.Item{}
	err := db.badgerDB.View(func(txn *badger.Txn) error {
		start := prefix
		skipFirst := false
		if lastHash != "" {
			last, err := txn.Get(hashKey(lastHash))
			if err == nil {
				lastKey, err := last.ValueCopy(nil)
				if err != nil {
					return err
				}
				if len(lastKey) > len(prefix) && string(lastKey[:len(prefix)]) == string(prefix) {
					start = lastKey
					skipFirst = true
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if skipFirst {
				skipFirst = false
				if string(it.Item().Key()) == string(start) {
					continue
				}
			}
			var item message.Item
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			})
			if err != nil {
				return fmt.Errorf("failed to decode item at %q: %w", it.Item().Key(), err)
			}
			items = append(items, item)
			if limit > 0 && len(items) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("failed to retrieve items for %s: %v", message.Obfuscate(pubkey), err)
		return nil, fmt.Errorf("failed to retrieve items: %w", err)
	}
	return items, nil
}

// RetrieveByHash returns the item with the given hash. found is false when no live item has it.
func (db *DB) RetrieveByHash(hash string) (item message.Item, found bool, err error) {
	if db.closed.Load() {
		return message.Item{}, false, ErrClosed
	}
	atomic.AddUint64(&db.readCounter, 1)
	err = db.badgerDB.View(func(txn *badger.Txn) error {
		ref, err := txn.Get(hashKey(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := entry.Value(func(val []byte) error { return json.Unmarshal(val, &item) }); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return message.Item{}, false, fmt.Errorf("failed to retrieve item %s: %w", hash, err)
	}
	return item, found, nil
}

// Counters returns the number of reads and writes served since Open.
func (db *DB) Counters() (reads uint64, writes uint64) {
	return atomic.LoadUint64(&db.readCounter), atomic.LoadUint64(&db.writeCounter)
}

// item keys sort by owner, then timestamp, then hash
func itemKey(item message.Item) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", ITEM_PREFIX, item.PubKey, item.Timestamp.UnixMilli(), item.Hash))
}

func hashKey(hash string) []byte {
	return []byte(HASH_PREFIX + hash)
}
