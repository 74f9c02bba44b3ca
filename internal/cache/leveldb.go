package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	storeMarkerPrefix = "store/"
	entryPrefix       = "entry/"
)

// LevelDBRegistry persists every store in a single LevelDB database. Each
// store has a marker key; its entries live under "entry/<store>\x00<key>".
type LevelDBRegistry struct {
	db *leveldb.DB
	// serializes store creation and deletion against each other
	mu sync.Mutex
}

type levelDBStore struct {
	name string
	reg  *LevelDBRegistry
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDBRegistry, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDBRegistry{db: db}, nil
}

func markerKey(name string) []byte {
	return []byte(storeMarkerPrefix + name)
}

func entryKeyPrefix(name string) []byte {
	return []byte(entryPrefix + name + "\x00")
}

func (r *LevelDBRegistry) Open(ctx context.Context, name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.db.Has(markerKey(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to look up store %s: %w", name, err)
	}
	if !ok {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := r.db.Put(markerKey(name), stamp, nil); err != nil {
			return nil, fmt.Errorf("failed to create store %s: %w", name, err)
		}
		logrus.Debugf("Created store %s", name)
	}
	return &levelDBStore{name: name, reg: r}, nil
}

func (r *LevelDBRegistry) Has(ctx context.Context, name string) (bool, error) {
	return r.db.Has(markerKey(name), nil)
}

func (r *LevelDBRegistry) Delete(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.db.Has(markerKey(name), nil)
	if err != nil {
		return false, fmt.Errorf("failed to look up store %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	iter := r.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, fmt.Errorf("failed to list entries of store %s: %w", name, err)
	}
	batch.Delete(markerKey(name))

	if err := r.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	return true, nil
}

func (r *LevelDBRegistry) Names(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.db.NewIterator(util.BytesPrefix([]byte(storeMarkerPrefix)), nil)
	for iter.Next() {
		out = append(out, string(iter.Key()[len(storeMarkerPrefix):]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return out, nil
}

func (r *LevelDBRegistry) Close() error {
	return r.db.Close()
}

func (s *levelDBStore) Name() string { return s.name }

func (s *levelDBStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.reg.db.Get(append(entryKeyPrefix(s.name), key...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	return Deserialize(data)
}

func (s *levelDBStore) Put(ctx context.Context, key string, entry *Entry) error {
	data, err := Serialize(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	ok, err := s.reg.db.Has(markerKey(s.name), nil)
	if err != nil {
		return fmt.Errorf("failed to look up store %s: %w", s.name, err)
	}
	if !ok {
		return ErrStoreDeleted
	}
	if err := s.reg.db.Put(append(entryKeyPrefix(s.name), key...), data, nil); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}
