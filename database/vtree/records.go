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
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/vmap/common"
)

const (
	leafHashPrefix     = 0x00
	internalHashPrefix = 0x01
)

// LeafRecord is a key/value pair stored at a leaf path. The hash is the
// content hash of the leaf and is only valid once the owning version has
// been hashed.
type LeafRecord struct {
	Path  Path
	Key   []byte
	Value []byte
	Hash  common.Hash
}

// Clone creates a deep copy of the record.
func (r LeafRecord) Clone() LeafRecord {
	return LeafRecord{
		Path:  r.Path,
		Key:   bytes.Clone(r.Key),
		Value: bytes.Clone(r.Value),
		Hash:  r.Hash,
	}
}

// Equal compares path, key and value of two records, ignoring the hash.
func (r LeafRecord) Equal(other LeafRecord) bool {
	return r.Path == other.Path && bytes.Equal(r.Key, other.Key) && bytes.Equal(r.Value, other.Value)
}

func (r LeafRecord) String() string {
	return fmt.Sprintf("Leaf{path=%v,key=%x,value=%x}", r.Path, r.Key, r.Value)
}

// HashRecord is the hash of the node at a given path.
type HashRecord struct {
	Path Path
	Hash common.Hash
}

// LeafHash computes the content hash of a leaf.
func LeafHash(key, value []byte) common.Hash {
	var prefix [1 + binary.MaxVarintLen64]byte
	prefix[0] = leafHashPrefix
	n := binary.PutUvarint(prefix[1:], uint64(len(key)))
	return common.Keccak256(prefix[:1+n], key, value)
}

// InternalHash computes the hash of an internal node from the hashes of its
// children. A node without any leaf in its subtree has the zero hash.
func InternalHash(left, right common.Hash) common.Hash {
	if left.IsZero() && right.IsZero() {
		return common.Hash{}
	}
	return common.Keccak256([]byte{internalHashPrefix}, left[:], right[:])
}
