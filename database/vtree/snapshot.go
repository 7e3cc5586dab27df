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
	"sync/atomic"

	"github.com/Fantom-foundation/vmap/common"
)

// Snapshot is a read-only view of a detached version, backed by its own
// data source. It is independent of the lineage it was detached from.
type Snapshot struct {
	source      DataSource
	first, last Path
	root        common.Hash
	closed      atomic.Bool
}

func newSnapshot(source DataSource, first, last Path, root common.Hash) *Snapshot {
	return &Snapshot{source: source, first: first, last: last, root: root}
}

// OpenSnapshot opens a snapshot on a data source holding a detached version.
func OpenSnapshot(source DataSource) (*Snapshot, error) {
	first, last, err := source.LeafPathRange()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read leaf bounds: %w", ErrPersistence, err)
	}
	root := common.Hash{}
	if last != InvalidPath {
		hash, found, err := source.LoadHash(RootPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read root hash: %w", ErrPersistence, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: missing root hash of non-empty snapshot", ErrCorruption)
		}
		root = hash
	}
	return newSnapshot(source, first, last, root), nil
}

// Get returns the value stored for the given key.
func (s *Snapshot) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	record, found, err := s.source.LoadLeafByKey(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to load key %x: %w", ErrPersistence, key, err)
	}
	if !found {
		return nil, false, nil
	}
	if !bytes.Equal(record.Key, key) || record.Path < s.first || record.Path > s.last {
		return nil, false, fmt.Errorf("%w: invalid leaf %v for key %x", ErrCorruption, record, key)
	}
	return record.Value, true, nil
}

// RootHash returns the root hash of the detached version.
func (s *Snapshot) RootHash() common.Hash {
	return s.root
}

// Size returns the number of keys in the detached version.
func (s *Snapshot) Size() int64 {
	if s.last == InvalidPath {
		return 0
	}
	return int64(s.last-s.first) + 1
}

// Source provides access to the data source backing this snapshot, e.g. for
// verifying it.
func (s *Snapshot) Source() DataSource {
	return s.source
}

// Close closes the backing data source.
func (s *Snapshot) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.source.Close()
}
