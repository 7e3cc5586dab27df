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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Fantom-foundation/vmap/common"
)

type treeState byte

const (
	building treeState = iota
	hashing
	hashed
	released
)

func (s treeState) String() string {
	switch s {
	case building:
		return "building"
	case hashing:
		return "hashing"
	case hashed:
		return "hashed"
	case released:
		return "released"
	}
	return fmt.Sprintf("unknown(%d)", byte(s))
}

// Tree is a single version of a map in a lineage. A new version starts in
// its building phase in which it accepts modifications. Hashing the version
// makes it immutable. Versions must be released once no longer needed.
//
// Modifications of a version must be performed by a single goroutine.
// Hashed versions may be read concurrently.
type Tree struct {
	lineage  *Lineage
	version  uint64
	mutex    sync.RWMutex
	state    treeState
	accessor recordAccessor
	dirty    map[Path]struct{}
	rootHash common.Hash
	failure  atomic.Pointer[error]
	released atomic.Bool

	// parent is the version this one was copied from while this version
	// has not been copied itself.
	parent *Tree
}

func newTree(lineage *Lineage, version uint64, layer *cacheLayer, first, last Path) *Tree {
	return &Tree{
		lineage: lineage,
		version: version,
		state:   building,
		accessor: recordAccessor{
			layer:  layer,
			source: lineage.source,
			first:  first,
			last:   last,
		},
		dirty: map[Path]struct{}{},
	}
}

// Version returns the version number of this tree within its lineage.
func (t *Tree) Version() uint64 {
	return t.version
}

// FirstLeafPath returns the path of the first leaf, InvalidPath if empty.
func (t *Tree) FirstLeafPath() Path {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.accessor.first
}

// LastLeafPath returns the path of the last leaf, InvalidPath if empty.
func (t *Tree) LastLeafPath() Path {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.accessor.last
}

// Size returns the number of keys stored in this version.
func (t *Tree) Size() int64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.size()
}

func (t *Tree) size() int64 {
	if t.accessor.last == InvalidPath {
		return 0
	}
	return int64(t.accessor.last-t.accessor.first) + 1
}

// checkReadable must be called while holding the tree's mutex.
func (t *Tree) checkReadable() error {
	if t.state == released {
		return ErrReleased
	}
	if failure := t.failure.Load(); failure != nil {
		return *failure
	}
	return t.lineage.checkUsable()
}

// checkWritable must be called while holding the tree's write lock.
func (t *Tree) checkWritable() error {
	if err := t.checkReadable(); err != nil {
		return err
	}
	if t.state != building {
		return t.check(fmt.Errorf("%w: %w: version %d is %v", ErrContractViolation, ErrImmutable, t.version, t.state))
	}
	return nil
}

// check records contract violations and corruptions, which halt any further
// use of this version. Corruptions also disable the lineage.
func (t *Tree) check(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCorruption) {
		t.failure.CompareAndSwap(nil, &err)
		t.lineage.recordError(err)
	} else if errors.Is(err, ErrContractViolation) {
		t.failure.CompareAndSwap(nil, &err)
	}
	return err
}

// Get returns the value stored for the given key. The returned slice must
// not be modified; use GetForModify to obtain a private copy.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if err := t.checkReadable(); err != nil {
		return nil, false, err
	}
	record, found, err := t.accessor.FindLeafByKey(key, false)
	if err != nil || !found {
		return nil, false, t.check(err)
	}
	return record.Value, true, nil
}

// GetForModify returns a private copy of the value stored for the given key.
// The leaf holding the key becomes resident in this version's cache layer.
func (t *Tree) GetForModify(key []byte) ([]byte, bool, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.checkWritable(); err != nil {
		return nil, false, err
	}
	record, found, err := t.accessor.FindLeafByKey(key, true)
	if err != nil || !found {
		return nil, false, t.check(err)
	}
	return bytes.Clone(record.Value), true, nil
}

// Put sets the value of the given key. New keys are appended after the
// last leaf. If the parent of the new position is a leaf, that leaf is
// pushed down to become the left sibling of the new one.
func (t *Tree) Put(key, value []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.check(t.put(bytes.Clone(key), bytes.Clone(value)))
}

func (t *Tree) put(key, value []byte) error {
	acc := &t.accessor
	layer := acc.layer
	record, found, err := acc.FindLeafByKey(key, true)
	if err != nil {
		return err
	}
	if found {
		record.Value = value
		record.Hash = common.Hash{}
		layer.putLeaf(record)
		t.markDirty(record.Path)
		return nil
	}

	if acc.last == InvalidPath {
		layer.putLeaf(LeafRecord{Path: 1, Key: key, Value: value})
		layer.putPath(key, 1)
		acc.first, acc.last = 1, 1
		t.markDirty(1)
		return nil
	}

	next := acc.last + 1
	if next+1 > MaxPath {
		return fmt.Errorf("%w: no space for new leaves beyond %v", ErrContractViolation, acc.last)
	}
	parent := ParentPath(next)
	if parent < acc.first {
		layer.putLeaf(LeafRecord{Path: next, Key: key, Value: value})
		layer.putPath(key, next)
		acc.last = next
		t.markDirty(next)
		return nil
	}
	if parent != acc.first {
		return fmt.Errorf("%w: parent %v of next leaf path is not the first leaf %v", ErrCorruption, parent, acc.first)
	}

	moved, found, err := acc.FindLeafByPath(acc.first, true)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no leaf at first leaf path %v", ErrCorruption, acc.first)
	}
	moved = moved.Clone()
	moved.Path = next
	moved.Hash = common.Hash{}
	layer.deleteLeaf(acc.first)
	layer.putLeaf(moved)
	layer.putPath(moved.Key, next)
	layer.putLeaf(LeafRecord{Path: next + 1, Key: key, Value: value})
	layer.putPath(key, next+1)
	acc.first, acc.last = acc.first+1, next+1
	t.markDirty(next)
	t.markDirty(next + 1)
	return nil
}

// Remove deletes the given key and returns its former value. The last leaf
// is moved into the freed position.
func (t *Tree) Remove(key []byte) ([]byte, bool, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.checkWritable(); err != nil {
		return nil, false, err
	}
	value, found, err := t.remove(key)
	return value, found, t.check(err)
}

func (t *Tree) remove(key []byte) ([]byte, bool, error) {
	acc := &t.accessor
	layer := acc.layer
	record, found, err := acc.FindLeafByKey(key, false)
	if err != nil || !found {
		return nil, false, err
	}
	layer.deleteKey(key)

	if acc.first == acc.last {
		layer.deleteLeaf(record.Path)
		layer.deleteHash(record.Path)
		t.markDirty(record.Path)
		acc.first, acc.last = InvalidPath, InvalidPath
		return bytes.Clone(record.Value), true, nil
	}

	if record.Path != acc.last {
		last, found, err := acc.FindLeafByPath(acc.last, true)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("%w: no leaf at last leaf path %v", ErrCorruption, acc.last)
		}
		last = last.Clone()
		last.Path = record.Path
		last.Hash = common.Hash{}
		layer.putLeaf(last)
		layer.putPath(last.Key, record.Path)
		t.markDirty(record.Path)
	}
	layer.deleteLeaf(acc.last)
	layer.deleteHash(acc.last)
	t.markDirty(acc.last)
	acc.last--
	return bytes.Clone(record.Value), true, nil
}

func (t *Tree) markDirty(path Path) {
	t.dirty[path] = struct{}{}
}

// ForEach visits all leaves of this version in path order.
func (t *Tree) ForEach(visit func(LeafRecord) error) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if err := t.checkReadable(); err != nil {
		return err
	}
	return t.check(t.forEach(visit))
}

func (t *Tree) forEach(visit func(LeafRecord) error) error {
	if t.accessor.last == InvalidPath {
		return nil
	}
	for path := t.accessor.first; path <= t.accessor.last; path++ {
		record, found, err := t.accessor.FindLeafByPath(path, false)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: missing leaf at path %v", ErrCorruption, path)
		}
		if err := visit(record); err != nil {
			return err
		}
	}
	return nil
}

// Hash computes the root hash of this version, ending its building phase.
// Hashing a hashed version returns the previously computed hash.
func (t *Tree) Hash() (common.Hash, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.checkReadable(); err != nil {
		return common.Hash{}, err
	}
	if t.state == hashed {
		return t.rootHash, nil
	}
	t.state = hashing
	hash, err := t.lineage.hasher.hash(&t.accessor, t.dirty)
	if err != nil {
		t.state = building
		return common.Hash{}, t.check(err)
	}
	t.rootHash = hash
	t.dirty = nil
	t.state = hashed
	return hash, nil
}

// RootHash returns the root hash of a hashed version. The result is not
// valid before the version got hashed.
func (t *Tree) RootHash() (common.Hash, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.state != hashed {
		return common.Hash{}, false
	}
	return t.rootHash, true
}

// Copy hashes this version if needed and creates a new mutable version
// based on it. Only the latest version of a lineage can be copied.
func (t *Tree) Copy() (*Tree, error) {
	return t.lineage.copy(t)
}

// Release signals that this version is no longer needed. Released versions
// can no longer be used.
func (t *Tree) Release() error {
	return t.lineage.release(t)
}

func (t *Tree) String() string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return fmt.Sprintf("Tree{version=%d,state=%v,leaves=[%v,%v]}", t.version, t.state, t.accessor.first, t.accessor.last)
}
