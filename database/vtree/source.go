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

//go:generate mockgen -source source.go -destination source_mocks.go -package vtree

import (
	"io"

	"github.com/Fantom-foundation/vmap/common"
)

// DataSource is the durable store backing a lineage. It has no notion of
// versions and always reflects the most recently flushed state. Lookups of
// missing records are reported through the found flag, never as errors.
//
// Implementations must support concurrent reads while SaveRecords is in
// progress. Calls to SaveRecords are serialized by the implementation.
type DataSource interface {
	// LoadLeafByKey fetches the leaf record stored for the given key.
	LoadLeafByKey(key []byte) (LeafRecord, bool, error)
	// LoadLeafByPath fetches the leaf record stored at the given path.
	LoadLeafByPath(path Path) (LeafRecord, bool, error)
	// LoadHash fetches the hash stored for the given path.
	LoadHash(path Path) (common.Hash, bool, error)
	// FindPath locates the path of the leaf holding the given key.
	FindPath(key []byte) (Path, bool, error)
	// LeafPathRange returns the stored leaf bounds, InvalidPath for both if
	// the source is empty.
	LeafPathRange() (first, last Path, err error)
	// SaveRecords atomically applies a batch of updates. Deletes are applied
	// first; a delete record with a valid path removes the leaf and the hash
	// stored at that path and a delete record with a non-nil key removes the
	// key's index entry. Upserted leaves are stored by path and indexed by
	// key. Hash records are upserted. Afterwards the stored bounds are
	// (first,last) and no hash record beyond last is retained.
	SaveRecords(first, last Path, hashes []HashRecord, upserts []LeafRecord, deletes []LeafRecord) error

	common.MemoryFootprintProvider
	io.Closer
}
