// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/vmap/backend"
	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/database/vtree"
)

// Leaves are encoded as hash ‖ uvarint(len(key)) ‖ key ‖ value.

func encodeLeaf(record vtree.LeafRecord) []byte {
	res := make([]byte, 0, common.HashSize+binary.MaxVarintLen64+len(record.Key)+len(record.Value))
	res = append(res, record.Hash[:]...)
	res = binary.AppendUvarint(res, uint64(len(record.Key)))
	res = append(res, record.Key...)
	return append(res, record.Value...)
}

// decodeLeaf decodes a leaf stored at the given path. The resulting record
// does not share memory with data.
func decodeLeaf(path vtree.Path, data []byte) (vtree.LeafRecord, error) {
	if len(data) < common.HashSize {
		return vtree.LeafRecord{}, fmt.Errorf("%w: leaf at %v too short: %d bytes", vtree.ErrCorruption, path, len(data))
	}
	res := vtree.LeafRecord{Path: path}
	copy(res.Hash[:], data)
	rest := data[common.HashSize:]
	keyLength, n := binary.Uvarint(rest)
	if n <= 0 || keyLength > uint64(len(rest)-n) {
		return vtree.LeafRecord{}, fmt.Errorf("%w: invalid key length in leaf at %v", vtree.ErrCorruption, path)
	}
	rest = rest[n:]
	res.Key = bytes.Clone(rest[:keyLength])
	res.Value = bytes.Clone(rest[keyLength:])
	return res, nil
}

func encodePath(path vtree.Path) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(path))
}

func decodePath(data []byte) (vtree.Path, error) {
	if len(data) != 8 {
		return vtree.InvalidPath, fmt.Errorf("%w: invalid path encoding of %d bytes", vtree.ErrCorruption, len(data))
	}
	return vtree.Path(binary.BigEndian.Uint64(data)), nil
}

func encodeBounds(first, last vtree.Path) []byte {
	return binary.BigEndian.AppendUint64(encodePath(first), uint64(last))
}

func decodeBounds(data []byte) (vtree.Path, vtree.Path, error) {
	if len(data) != 16 {
		return vtree.InvalidPath, vtree.InvalidPath, fmt.Errorf("%w: invalid bounds encoding of %d bytes", vtree.ErrCorruption, len(data))
	}
	return vtree.Path(binary.BigEndian.Uint64(data[:8])), vtree.Path(binary.BigEndian.Uint64(data[8:])), nil
}

func leafKey(path vtree.Path) []byte {
	return backend.ToPathKey(backend.LeafStoreKey, uint64(path)).ToBytes()
}

func hashKey(path vtree.Path) []byte {
	return backend.ToPathKey(backend.HashKey, uint64(path)).ToBytes()
}

func indexKey(key []byte) []byte {
	return backend.ToDBKey(backend.KeyIndexKey, key)
}

var boundsKey = backend.ToDBKey(backend.MetadataKey, []byte("bounds"))
