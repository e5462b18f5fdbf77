package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"

	"listing-geocoder/models"
)

const badgerKeyPrefix = "coord:"

// BadgerCache is an embedded, on-disk CoordinateCache.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a badger database at path. An empty
// path opens an in-memory database.
func NewBadgerCache(path string) (*BadgerCache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, eris.Wrap(err, "badger cache: create dir")
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "badger cache: open %q", path)
	}
	return &BadgerCache{db: db}, nil
}

func badgerKey(key string) []byte { return []byte(badgerKeyPrefix + key) }

func (b *BadgerCache) Get(_ context.Context, key string) (*models.Coordinate, bool, error) {
	var c models.Coordinate
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "badger cache: get %q", key)
	}
	return &c, true, nil
}

func (b *BadgerCache) Put(_ context.Context, key string, c models.Coordinate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "badger cache: marshal coordinate")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return eris.Wrapf(err, "badger cache: put %q", key)
	}
	return nil
}

func (b *BadgerCache) Exists(_ context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "badger cache: exists %q", key)
	}
	return true, nil
}

func (b *BadgerCache) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if err != nil {
		return eris.Wrapf(err, "badger cache: delete %q", key)
	}
	return nil
}

func (b *BadgerCache) Close() error {
	return b.db.Close()
}
