// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package ldb provides a durable data source for virtual trees backed by
// LevelDB. Frequently accessed records are kept in an in-memory cache.
package ldb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Fantom-foundation/vmap/backend"
	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/database/vtree"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Config defines the properties of a LevelDB data source.
type Config struct {
	// Directory holding the data source. Created if missing.
	Directory string
	// CacheSize is the capacity of the record cache in bytes; 0 disables it.
	CacheSize int64
	// WriteBufferSize of LevelDB; 0 uses LevelDB's default.
	WriteBufferSize int
	// Sync forces each write to be synced to disk.
	Sync bool
}

// DefaultCacheSize is the record cache capacity used by tools if not
// configured otherwise.
const DefaultCacheSize = 64 << 20

// Source is a vtree.DataSource storing records in LevelDB. All writes of a
// SaveRecords call are applied in a single atomic batch.
type Source struct {
	directory string
	lock      common.LockFile
	db        *backend.LevelDbMemoryFootprintWrapper
	writeOpts *opt.WriteOptions

	// cache holds encoded records by database key. cacheMutex orders cache
	// fills against invalidations performed by writes.
	cache      *ristretto.Cache[string, []byte]
	cacheMutex sync.RWMutex

	boundsMutex sync.RWMutex
	first, last vtree.Path

	// writeMutex serializes SaveRecords calls.
	writeMutex sync.Mutex
	closed     atomic.Bool
}

var _ vtree.DataSource = (*Source)(nil)

// Open opens the data source in the configured directory. The directory is
// locked and marked dirty while the source is open.
func Open(config Config) (_ *Source, err error) {
	directory := config.Directory
	lock, err := lockDirectory(directory)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, lock.Release())
		}
	}()

	dirty, err := isDirty(directory)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("%w: unable to open %s, since it is dirty", vtree.ErrCorruption, directory)
	}
	if err := checkMetadata(directory); err != nil {
		return nil, err
	}

	options := &opt.Options{WriteBuffer: config.WriteBufferSize}
	db, err := backend.OpenLevelDb(filepath.Join(directory, levelDbDirectory), options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open LevelDB in %s: %w", vtree.ErrPersistence, directory, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, db.Close())
		}
	}()

	first, last := vtree.InvalidPath, vtree.InvalidPath
	if data, err := db.Get(boundsKey, nil); err == nil {
		if first, last, err = decodeBounds(data); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to read leaf bounds: %w", vtree.ErrPersistence, err)
	}

	var cache *ristretto.Cache[string, []byte]
	if config.CacheSize > 0 {
		cache, err = ristretto.NewCache(&ristretto.Config[string, []byte]{
			// about 10 counters per expected entry of ~100 bytes
			NumCounters: max(config.CacheSize/10, 1000),
			MaxCost:     config.CacheSize,
			BufferItems: 64,
			Metrics:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create record cache: %w", err)
		}
	}

	if err := markDirty(directory); err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}

	return &Source{
		directory: directory,
		lock:      lock,
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: config.Sync},
		cache:     cache,
		first:     first,
		last:      last,
	}, nil
}

// get reads the value stored for the given database key, consulting the
// cache first. The result must not be modified.
func (s *Source) get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, vtree.ErrClosed
	}
	if s.cache == nil {
		return s.load(key)
	}
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()
	if value, found := s.cache.Get(string(key)); found {
		return value, true, nil
	}
	value, found, err := s.load(key)
	if err != nil || !found {
		return nil, false, err
	}
	s.cache.Set(string(key), value, int64(len(key)+len(value)))
	return value, true, nil
}

func (s *Source) load(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return value, true, nil
}

func (s *Source) LoadLeafByKey(key []byte) (vtree.LeafRecord, bool, error) {
	path, found, err := s.FindPath(key)
	if err != nil || !found {
		return vtree.LeafRecord{}, false, err
	}
	return s.LoadLeafByPath(path)
}

func (s *Source) LoadLeafByPath(path vtree.Path) (vtree.LeafRecord, bool, error) {
	data, found, err := s.get(leafKey(path))
	if err != nil || !found {
		return vtree.LeafRecord{}, false, err
	}
	record, err := decodeLeaf(path, data)
	return record, err == nil, err
}

func (s *Source) LoadHash(path vtree.Path) (common.Hash, bool, error) {
	data, found, err := s.get(hashKey(path))
	if err != nil || !found {
		return common.Hash{}, false, err
	}
	hash, ok := common.HashFromBytes(data)
	if !ok {
		return common.Hash{}, false, fmt.Errorf("%w: invalid hash encoding at %v", vtree.ErrCorruption, path)
	}
	return hash, true, nil
}

func (s *Source) FindPath(key []byte) (vtree.Path, bool, error) {
	data, found, err := s.get(indexKey(key))
	if err != nil || !found {
		return vtree.InvalidPath, false, err
	}
	path, err := decodePath(data)
	return path, err == nil, err
}

func (s *Source) LeafPathRange() (vtree.Path, vtree.Path, error) {
	if s.closed.Load() {
		return vtree.InvalidPath, vtree.InvalidPath, vtree.ErrClosed
	}
	s.boundsMutex.RLock()
	defer s.boundsMutex.RUnlock()
	return s.first, s.last, nil
}

func (s *Source) SaveRecords(first, last vtree.Path, hashes []vtree.HashRecord, upserts []vtree.LeafRecord, deletes []vtree.LeafRecord) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed.Load() {
		return vtree.ErrClosed
	}

	batch := new(leveldb.Batch)
	for _, record := range deletes {
		if record.Path.IsValid() {
			batch.Delete(leafKey(record.Path))
			batch.Delete(hashKey(record.Path))
		}
		if record.Key != nil {
			batch.Delete(indexKey(record.Key))
		}
	}
	for _, record := range upserts {
		batch.Put(leafKey(record.Path), encodeLeaf(record))
		batch.Put(indexKey(record.Key), encodePath(record.Path))
	}
	for _, record := range hashes {
		batch.Put(hashKey(record.Path), record.Hash[:])
	}
	s.boundsMutex.RLock()
	previous := s.last
	s.boundsMutex.RUnlock()
	for p := previous; p > last; p-- {
		batch.Delete(hashKey(p))
	}
	batch.Put(boundsKey, encodeBounds(first, last))

	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if err := s.db.Write(batch, s.writeOpts); err != nil {
		return fmt.Errorf("%w: failed to write batch of %d records: %w", vtree.ErrPersistence, batch.Len(), err)
	}
	if s.cache != nil {
		err := batch.Replay(cacheInvalidator{s.cache})
		s.cache.Wait()
		if err != nil {
			return fmt.Errorf("%w: failed to invalidate cached records: %w", vtree.ErrPersistence, err)
		}
	}

	s.boundsMutex.Lock()
	s.first, s.last = first, last
	s.boundsMutex.Unlock()
	return nil
}

// cacheInvalidator drops all keys touched by a batch from the cache.
type cacheInvalidator struct {
	cache *ristretto.Cache[string, []byte]
}

func (c cacheInvalidator) Put(key, _ []byte) {
	c.cache.Del(string(key))
}

func (c cacheInvalidator) Delete(key []byte) {
	c.cache.Del(string(key))
}

func (s *Source) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	mf.AddChild("levelDb", s.db.GetMemoryFootprint())
	if s.cache != nil {
		metrics := s.cache.Metrics
		mf.AddChild("cache", common.NewMemoryFootprint(uintptr(metrics.CostAdded()-metrics.CostEvicted())))
	}
	return mf
}

// Close closes the LevelDB instance, marks the directory clean and releases
// its lock.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return vtree.ErrClosed
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if s.cache != nil {
		s.cache.Close()
	}
	err := s.db.Close()
	if err == nil {
		err = markClean(s.directory)
	}
	if err = errors.Join(err, s.lock.Release()); err != nil {
		return fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return nil
}
