// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/vmap/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// TableSpace divide key-value storage into spaces by adding a prefix to the key.
type TableSpace byte

const (
	// LeafStoreKey is a tablespace for leaf records addressed by path
	LeafStoreKey TableSpace = 'L'
	// KeyIndexKey is a tablespace for the key to path index
	KeyIndexKey TableSpace = 'K'
	// HashKey is a tablespace for hash records addressed by path
	HashKey TableSpace = 'H'
	// MetadataKey is a tablespace for bounds and other bookkeeping entries
	MetadataKey TableSpace = 'M'
)

// PathKeySize is the size of a table space key addressing a path.
const PathKeySize = 9

// PathKey is a fixed size database key composed of a table space prefix and
// a big-endian encoded path. Big-endian encoding keeps iteration in path order.
type PathKey [PathKeySize]byte

func (k PathKey) ToBytes() []byte {
	return k[:]
}

// ToPathKey converts the given path into its table space key.
func ToPathKey(t TableSpace, path uint64) PathKey {
	var res PathKey
	res[0] = byte(t)
	binary.BigEndian.PutUint64(res[1:], path)
	return res
}

// PathFromKey extracts the path from a key produced by ToPathKey.
func PathFromKey(key []byte) (uint64, error) {
	if len(key) != PathKeySize {
		return 0, fmt.Errorf("invalid path key length, wanted %d, got %d", PathKeySize, len(key))
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// ToDBKey prefixes a variable length key with the given table space.
func ToDBKey(t TableSpace, key []byte) []byte {
	res := make([]byte, 0, len(key)+1)
	res = append(res, byte(t))
	return append(res, key...)
}

// TableSpaceRange provides the key range covering all entries of a table space.
func TableSpaceRange(t TableSpace) *util.Range {
	return util.BytesPrefix([]byte{byte(t)})
}

// OpenLevelDb opens the LevelDB connection and provides it wrapped in memory-footprint-reporting object.
func OpenLevelDb(path string, options *opt.Options) (wrapped *LevelDbMemoryFootprintWrapper, err error) {
	ldb, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, err
	}
	mf := common.NewMemoryFootprint(0)
	mf.AddChild("writeBuffer", common.NewMemoryFootprint(uintptr(options.GetWriteBuffer())))
	return &LevelDbMemoryFootprintWrapper{ldb, mf}, nil
}

// LevelDbMemoryFootprintWrapper is a LevelDB wrapper adding a memory footprint providing method.
type LevelDbMemoryFootprintWrapper struct {
	*leveldb.DB
	mf *common.MemoryFootprint
}

func (wrapper *LevelDbMemoryFootprintWrapper) GetMemoryFootprint() *common.MemoryFootprint {
	var ldbStats leveldb.DBStats
	err := wrapper.DB.Stats(&ldbStats)
	if err != nil {
		panic(fmt.Errorf("failed to get LevelDB Stats; %s", err))
	}
	wrapper.mf.AddChild("blockCache", common.NewMemoryFootprint(uintptr(ldbStats.BlockCacheSize)))
	return wrapper.mf
}
