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
	"fmt"

	"github.com/Fantom-foundation/vmap/common"
)

// recordAccessor resolves records of a single version by consulting the
// chain of cache layers starting at the version's own layer and falling
// back to the data source.
type recordAccessor struct {
	layer       *cacheLayer
	source      DataSource
	first, last Path
}

func (a *recordAccessor) inRange(path Path) bool {
	return a.last != InvalidPath && a.first <= path && path <= a.last
}

func checkPath(path Path) error {
	if !path.IsValid() {
		return fmt.Errorf("%w: path %v out of addressable range", ErrContractViolation, path)
	}
	return nil
}

// FindPath locates the leaf path of the given key.
func (a *recordAccessor) FindPath(key []byte) (Path, bool, error) {
	for layer := a.layer; layer != nil; layer = layer.next.Load() {
		path, res := layer.getPath(key)
		switch res {
		case hit:
			return path, true, nil
		case deleted:
			return InvalidPath, false, nil
		}
	}
	path, found, err := a.source.FindPath(key)
	if err != nil {
		return InvalidPath, false, fmt.Errorf("%w: failed to look up key %x: %w", ErrPersistence, key, err)
	}
	if !found {
		return InvalidPath, false, nil
	}
	return path, true, nil
}

// FindLeafByPath fetches the leaf at the given path. If forModify is set,
// records not owned by the accessor's layer are copied into it.
func (a *recordAccessor) FindLeafByPath(path Path, forModify bool) (LeafRecord, bool, error) {
	if err := checkPath(path); err != nil {
		return LeafRecord{}, false, err
	}
	if !a.inRange(path) {
		return LeafRecord{}, false, nil
	}
	for layer := a.layer; layer != nil; layer = layer.next.Load() {
		record, res := layer.getLeaf(path)
		switch res {
		case hit:
			if forModify && layer != a.layer {
				record = record.Clone()
				a.layer.putLeaf(record)
			}
			return record, true, nil
		case deleted:
			return LeafRecord{}, false, nil
		}
	}
	record, found, err := a.source.LoadLeafByPath(path)
	if err != nil {
		return LeafRecord{}, false, fmt.Errorf("%w: failed to load leaf at %v: %w", ErrPersistence, path, err)
	}
	if !found {
		return LeafRecord{}, false, nil
	}
	if record.Path != path {
		return LeafRecord{}, false, fmt.Errorf("%w: leaf loaded for path %v is located at %v", ErrCorruption, path, record.Path)
	}
	if forModify {
		a.layer.putLeaf(record)
	}
	return record, true, nil
}

// FindLeafByKey fetches the leaf holding the given key. If forModify is set,
// records not owned by the accessor's layer are copied into it.
func (a *recordAccessor) FindLeafByKey(key []byte, forModify bool) (LeafRecord, bool, error) {
	path, found, err := a.FindPath(key)
	if err != nil || !found {
		return LeafRecord{}, false, err
	}
	if !a.inRange(path) {
		return LeafRecord{}, false, fmt.Errorf("%w: key %x indexed at path %v outside of leaf range [%v,%v]", ErrCorruption, key, path, a.first, a.last)
	}
	record, found, err := a.FindLeafByPath(path, forModify)
	if err != nil {
		return LeafRecord{}, false, err
	}
	if !found {
		return LeafRecord{}, false, fmt.Errorf("%w: no leaf at path %v indexed for key %x", ErrCorruption, path, key)
	}
	if !bytes.Equal(record.Key, key) {
		return LeafRecord{}, false, fmt.Errorf("%w: leaf at path %v holds key %x instead of %x", ErrCorruption, path, record.Key, key)
	}
	return record, true, nil
}

// FindHash fetches the hash of the node at the given path. Paths beyond the
// last leaf have no hash.
func (a *recordAccessor) FindHash(path Path) (common.Hash, bool, error) {
	if err := checkPath(path); err != nil {
		return common.Hash{}, false, err
	}
	if a.last == InvalidPath || path > a.last {
		return common.Hash{}, false, nil
	}
	for layer := a.layer; layer != nil; layer = layer.next.Load() {
		hash, res := layer.getHash(path)
		switch res {
		case hit:
			return hash, true, nil
		case deleted:
			return common.Hash{}, false, nil
		}
	}
	hash, found, err := a.source.LoadHash(path)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("%w: failed to load hash at %v: %w", ErrPersistence, path, err)
	}
	return hash, found, nil
}
