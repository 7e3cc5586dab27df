// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package vtree

import (
	"bytes"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Fantom-foundation/vmap/common"
	"golang.org/x/exp/slices"
)

// lookupResult distinguishes records present in a layer from records
// deleted by it and records the layer knows nothing about.
type lookupResult byte

const (
	miss lookupResult = iota
	hit
	deleted
)

// cacheLayer records the modifications a single version applied on top of
// its predecessor. Layers are chained from newer to older versions; lookups
// not resolved by a layer continue with the next older one. A layer accepts
// writes until it gets sealed.
type cacheLayer struct {
	version uint64

	mutex         sync.RWMutex
	leaves        map[Path]LeafRecord
	deletedLeaves map[Path]struct{}
	keys          map[string]Path // InvalidPath marks deleted keys
	hashes        map[Path]common.Hash
	deletedHashes map[Path]struct{}

	// leaf bounds of the owning version, fixed when sealing
	first, last Path

	sealed  atomic.Bool
	flushed atomic.Bool
	refs    atomic.Int32
	next    atomic.Pointer[cacheLayer]
}

func newCacheLayer(version uint64, next *cacheLayer) *cacheLayer {
	res := &cacheLayer{
		version:       version,
		leaves:        map[Path]LeafRecord{},
		deletedLeaves: map[Path]struct{}{},
		keys:          map[string]Path{},
		hashes:        map[Path]common.Hash{},
		deletedHashes: map[Path]struct{}{},
		first:         InvalidPath,
		last:          InvalidPath,
	}
	res.next.Store(next)
	return res
}

func (l *cacheLayer) getLeaf(path Path) (LeafRecord, lookupResult) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if res, found := l.leaves[path]; found {
		return res, hit
	}
	if _, found := l.deletedLeaves[path]; found {
		return LeafRecord{}, deleted
	}
	return LeafRecord{}, miss
}

func (l *cacheLayer) getPath(key []byte) (Path, lookupResult) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	res, found := l.keys[string(key)]
	if !found {
		return InvalidPath, miss
	}
	if res == InvalidPath {
		return InvalidPath, deleted
	}
	return res, hit
}

func (l *cacheLayer) getHash(path Path) (common.Hash, lookupResult) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if res, found := l.hashes[path]; found {
		return res, hit
	}
	if _, found := l.deletedHashes[path]; found {
		return common.Hash{}, deleted
	}
	return common.Hash{}, miss
}

func (l *cacheLayer) checkWritable() {
	if l.sealed.Load() {
		panic("FATAL: write to sealed cache layer")
	}
}

func (l *cacheLayer) putLeaf(record LeafRecord) {
	l.checkWritable()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.leaves[record.Path] = record
	delete(l.deletedLeaves, record.Path)
}

func (l *cacheLayer) deleteLeaf(path Path) {
	l.checkWritable()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.leaves, path)
	l.deletedLeaves[path] = struct{}{}
}

func (l *cacheLayer) putPath(key []byte, path Path) {
	l.checkWritable()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.keys[string(key)] = path
}

func (l *cacheLayer) deleteKey(key []byte) {
	l.putPath(key, InvalidPath)
}

// putHash may be called concurrently by hashing workers.
func (l *cacheLayer) putHash(path Path, hash common.Hash) {
	l.checkWritable()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.hashes[path] = hash
	delete(l.deletedHashes, path)
}

func (l *cacheLayer) deleteHash(path Path) {
	l.checkWritable()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.hashes, path)
	l.deletedHashes[path] = struct{}{}
}

// seal makes the layer immutable and fixes the leaf bounds stored with it.
func (l *cacheLayer) seal(first, last Path) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.first, l.last = first, last
	l.sealed.Store(true)
}

func (l *cacheLayer) isSealed() bool {
	return l.sealed.Load()
}

func (l *cacheLayer) isFlushed() bool {
	return l.flushed.Load()
}

// markFlushed records that the content of the layer is part of the data
// source and detaches the layer from its predecessors.
func (l *cacheLayer) markFlushed() {
	l.flushed.Store(true)
	l.next.Store(nil)
}

// reclaim drops the content of the layer. Lookups on a reclaimed layer miss,
// which is only safe once the layer has been flushed.
func (l *cacheLayer) reclaim() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.leaves = map[Path]LeafRecord{}
	l.deletedLeaves = map[Path]struct{}{}
	l.keys = map[string]Path{}
	l.hashes = map[Path]common.Hash{}
	l.deletedHashes = map[Path]struct{}{}
	l.next.Store(nil)
}

// layerChanges is the content of a sealed layer in the form expected by
// DataSource.SaveRecords.
type layerChanges struct {
	first, last Path
	hashes      []HashRecord
	upserts     []LeafRecord
	deletes     []LeafRecord
}

// collectChanges produces the updates to be applied to the data source for
// merging this layer into it. Records are sorted by path.
func (l *cacheLayer) collectChanges() layerChanges {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	res := layerChanges{
		first:   l.first,
		last:    l.last,
		hashes:  make([]HashRecord, 0, len(l.hashes)),
		upserts: make([]LeafRecord, 0, len(l.leaves)),
		deletes: make([]LeafRecord, 0, len(l.deletedLeaves)+len(l.keys)),
	}
	for path, hash := range l.hashes {
		if path <= l.last {
			res.hashes = append(res.hashes, HashRecord{Path: path, Hash: hash})
		}
	}
	for _, leaf := range l.leaves {
		res.upserts = append(res.upserts, leaf)
	}
	for path := range l.deletedLeaves {
		res.deletes = append(res.deletes, LeafRecord{Path: path})
	}
	for path := range l.deletedHashes {
		if _, isLeaf := l.deletedLeaves[path]; !isLeaf {
			res.deletes = append(res.deletes, LeafRecord{Path: path})
		}
	}
	for key, path := range l.keys {
		if path == InvalidPath {
			res.deletes = append(res.deletes, LeafRecord{Path: InvalidPath, Key: []byte(key)})
		}
	}
	slices.SortFunc(res.hashes, func(a, b HashRecord) bool { return a.Path < b.Path })
	slices.SortFunc(res.upserts, func(a, b LeafRecord) bool { return a.Path < b.Path })
	slices.SortFunc(res.deletes, func(a, b LeafRecord) bool {
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return bytes.Compare(a.Key, b.Key) < 0
	})
	return res
}

func (l *cacheLayer) GetMemoryFootprint() *common.MemoryFootprint {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	const pathSize = unsafe.Sizeof(Path(0))
	res := common.NewMemoryFootprint(unsafe.Sizeof(*l))
	leaves := uintptr(0)
	for _, leaf := range l.leaves {
		leaves += pathSize + unsafe.Sizeof(leaf) + uintptr(len(leaf.Key)+len(leaf.Value))
	}
	res.AddChild("leaves", common.NewMemoryFootprint(leaves))
	keys := uintptr(0)
	for key := range l.keys {
		keys += uintptr(len(key)) + pathSize
	}
	res.AddChild("keys", common.NewMemoryFootprint(keys))
	res.AddChild("hashes", common.NewMemoryFootprint(uintptr(len(l.hashes))*(pathSize+common.HashSize)))
	res.AddChild("deleted", common.NewMemoryFootprint(uintptr(len(l.deletedLeaves)+len(l.deletedHashes))*pathSize))
	return res
}
