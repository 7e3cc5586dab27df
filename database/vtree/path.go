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
	"fmt"
	"math/bits"
)

// Path identifies a node in a complete binary tree. The root is located at
// path 0, the children of path p at 2p+1 and 2p+2.
type Path int64

const (
	// InvalidPath marks the absence of a path, e.g. the leaf bounds of an
	// empty tree.
	InvalidPath Path = -1
	// RootPath is the path of the root node.
	RootPath Path = 0
	// MaxPath is the largest addressable path.
	MaxPath Path = 1<<62 - 1
)

// maxDepth is the depth of MaxPath, the deepest level of addressable nodes.
const maxDepth = 62

// ChunkId identifies a chunk, a full subtree of a fixed height. Chunk roots
// are located at depths 0, h, 2h, ... and ids are assigned to chunk roots in
// path order. Chunk 0 is the top chunk rooted at path 0.
type ChunkId int64

// InvalidChunk is returned for paths not belonging to any chunk.
const InvalidChunk ChunkId = -1

func (p Path) IsValid() bool {
	return 0 <= p && p <= MaxPath
}

func (p Path) String() string {
	if p == InvalidPath {
		return "invalid"
	}
	return fmt.Sprintf("%d", int64(p))
}

// Rank returns the 1-based depth of the given path. The root has rank 1.
// Negative paths have rank 0.
func Rank(p Path) int {
	if p < 0 {
		return 0
	}
	return bits.Len64(uint64(p) + 1)
}

func depth(p Path) int {
	return Rank(p) - 1
}

// ParentPath returns the parent of the given path, InvalidPath for the root.
func ParentPath(p Path) Path {
	if p <= 0 {
		return InvalidPath
	}
	return (p - 1) / 2
}

// LeftChildPath returns the left child of the given path.
func LeftChildPath(p Path) Path {
	if p < 0 {
		return InvalidPath
	}
	return 2*p + 1
}

// RightChildPath returns the right child of the given path.
func RightChildPath(p Path) Path {
	if p < 0 {
		return InvalidPath
	}
	return 2*p + 2
}

// IsLeft is true for paths being the left child of their parent.
func IsLeft(p Path) bool {
	return p > 0 && p%2 == 1
}

// SiblingPath returns the other child of the parent of the given path,
// InvalidPath for the root.
func SiblingPath(p Path) Path {
	if p <= 0 {
		return InvalidPath
	}
	if IsLeft(p) {
		return p + 1
	}
	return p - 1
}

// firstPathAtDepth returns the left-most path at the given depth.
func firstPathAtDepth(d int) Path {
	return Path(1)<<d - 1
}

// ancestorAtDepth returns the ancestor of p at depth d, which must not be
// deeper than p itself.
func ancestorAtDepth(p Path, d int) Path {
	return Path((uint64(p)+1)>>(depth(p)-d)) - 1
}

// chunkOffset returns the id of the first chunk at the given chunk level,
// which is the number of chunks at all levels above it.
func chunkOffset(level, h int) ChunkId {
	res := uint64(0)
	for i := 0; i < level; i++ {
		res += uint64(1) << (i * h)
	}
	return ChunkId(res)
}

// ChunkLevel returns the level of the given chunk, chunk 0 being on level 0.
// Returns -1 for invalid chunk ids.
func ChunkLevel(id ChunkId, h int) int {
	if id < 0 {
		return -1
	}
	offset := uint64(0)
	for level := 0; level*h <= maxDepth; level++ {
		next := offset + uint64(1)<<(level*h)
		if uint64(id) < next {
			return level
		}
		offset = next
	}
	return -1
}

// ChunkOf returns the id of the chunk containing the given path, or
// InvalidChunk if the path is not valid.
func ChunkOf(p Path, h int) ChunkId {
	if !p.IsValid() {
		return InvalidChunk
	}
	d := depth(p)
	level := d / h
	rootDepth := level * h
	root := ancestorAtDepth(p, rootDepth)
	return chunkOffset(level, h) + ChunkId(root-firstPathAtDepth(rootDepth))
}

// FirstPathInChunk returns the root path of the given chunk.
func FirstPathInChunk(id ChunkId, h int) Path {
	level := ChunkLevel(id, h)
	if level < 0 {
		return InvalidPath
	}
	return firstPathAtDepth(level*h) + Path(id-chunkOffset(level, h))
}

// LastPathInChunk returns the right-most path of the deepest level of the
// given chunk.
func LastPathInChunk(id ChunkId, h int) Path {
	root := FirstPathInChunk(id, h)
	if root < 0 {
		return InvalidPath
	}
	return (root+2)<<(h-1) - 2
}

// PathIndexInChunk returns the breadth-first position of p within the
// chunk of the given id. The root of the chunk has index 0. An error is
// returned if p is not part of the chunk.
func PathIndexInChunk(id ChunkId, p Path, h int) (int, error) {
	root := FirstPathInChunk(id, h)
	if root < 0 || !p.IsValid() {
		return 0, fmt.Errorf("%w: path %v is not in chunk %d", ErrContractViolation, p, id)
	}
	rel := depth(p) - depth(root)
	if rel < 0 || rel >= h || ancestorAtDepth(p, depth(root)) != root {
		return 0, fmt.Errorf("%w: path %v is not in chunk %d", ErrContractViolation, p, id)
	}
	return (1<<rel - 1) + int((p+1)-(root+1)<<rel), nil
}

// MaxChunkBeforePath returns the greatest chunk id such that all paths of
// the chunk are smaller than p. Returns InvalidChunk if there is no such
// chunk, in particular for all paths within the span of chunk 0.
func MaxChunkBeforePath(p Path, h int) ChunkId {
	if !p.IsValid() {
		return InvalidChunk
	}
	d := depth(p)
	level := d / h
	if (d+1)%h != 0 {
		// p is above the bottom row of its chunk level, so only the chunks
		// of the levels above are complete.
		return chunkOffset(level, h) - 1
	}
	// Chunks on p's level whose bottom rows are completely left of p.
	pos := uint64(p - firstPathAtDepth(d))
	return chunkOffset(level, h) + ChunkId(pos>>(h-1)) - 1
}
