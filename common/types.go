// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "encoding/hex"

// HashSize is the number of bytes of a Hash.
const HashSize = 32

// Hash is a 32-byte digest as produced by Keccak256.
type Hash [HashSize]byte

// IsZero reports whether all bytes of the hash are zero. The zero hash is
// used for empty subtrees and empty trees.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes converts a byte slice into a hash. It fails if the slice
// does not have the size of a hash.
func HashFromBytes(data []byte) (Hash, bool) {
	var res Hash
	if len(data) != HashSize {
		return res, false
	}
	copy(res[:], data)
	return res, true
}
