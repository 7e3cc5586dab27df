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
	"errors"
	"fmt"
	"testing"
)

func TestPath_Rank(t *testing.T) {
	tests := []struct {
		path Path
		rank int
	}{
		{InvalidPath, 0},
		{0, 1},
		{1, 2}, {2, 2},
		{3, 3}, {6, 3},
		{7, 4}, {14, 4},
		{15, 5},
		{MaxPath - 1, 62},
		{MaxPath, 63},
	}
	for _, test := range tests {
		if got := Rank(test.path); got != test.rank {
			t.Errorf("unexpected rank of %v, wanted %d, got %d", test.path, test.rank, got)
		}
	}
}

func TestPath_Navigation(t *testing.T) {
	tests := []struct {
		path, parent, left, right, sibling Path
		isLeft                             bool
	}{
		{0, InvalidPath, 1, 2, InvalidPath, false},
		{1, 0, 3, 4, 2, true},
		{2, 0, 5, 6, 1, false},
		{5, 2, 11, 12, 6, true},
		{12, 5, 25, 26, 11, false},
		{InvalidPath, InvalidPath, InvalidPath, InvalidPath, InvalidPath, false},
	}
	for _, test := range tests {
		if got := ParentPath(test.path); got != test.parent {
			t.Errorf("unexpected parent of %v, wanted %v, got %v", test.path, test.parent, got)
		}
		if got := LeftChildPath(test.path); got != test.left {
			t.Errorf("unexpected left child of %v, wanted %v, got %v", test.path, test.left, got)
		}
		if got := RightChildPath(test.path); got != test.right {
			t.Errorf("unexpected right child of %v, wanted %v, got %v", test.path, test.right, got)
		}
		if got := SiblingPath(test.path); got != test.sibling {
			t.Errorf("unexpected sibling of %v, wanted %v, got %v", test.path, test.sibling, got)
		}
		if got := IsLeft(test.path); got != test.isLeft {
			t.Errorf("unexpected side of %v, wanted %t, got %t", test.path, test.isLeft, got)
		}
	}
}

func TestPath_ChildrenAndParentsAreInverse(t *testing.T) {
	for p := Path(0); p < 1000; p++ {
		if got := ParentPath(LeftChildPath(p)); got != p {
			t.Errorf("parent of left child of %v is %v", p, got)
		}
		if got := ParentPath(RightChildPath(p)); got != p {
			t.Errorf("parent of right child of %v is %v", p, got)
		}
		if Rank(LeftChildPath(p)) != Rank(p)+1 {
			t.Errorf("children of %v are not on the next rank", p)
		}
	}
}

func TestPath_String(t *testing.T) {
	if got := Path(12).String(); got != "12" {
		t.Errorf("unexpected print %q", got)
	}
	if got := InvalidPath.String(); got != "invalid" {
		t.Errorf("unexpected print %q", got)
	}
}

func TestChunk_KnownChunksOfHeightTwo(t *testing.T) {
	// Chunk 0 covers paths 0-2, chunks 1-4 are rooted at paths 3-6.
	tests := []struct {
		path  Path
		chunk ChunkId
		index int
	}{
		{0, 0, 0}, {1, 0, 1}, {2, 0, 2},
		{3, 1, 0}, {7, 1, 1}, {8, 1, 2},
		{4, 2, 0}, {9, 2, 1}, {10, 2, 2},
		{6, 4, 0}, {13, 4, 1}, {14, 4, 2},
		{15, 5, 0}, {31, 5, 1}, {32, 5, 2},
	}
	for _, test := range tests {
		if got := ChunkOf(test.path, 2); got != test.chunk {
			t.Errorf("unexpected chunk of %v, wanted %d, got %d", test.path, test.chunk, got)
		}
		index, err := PathIndexInChunk(test.chunk, test.path, 2)
		if err != nil {
			t.Fatalf("failed to get index of %v: %v", test.path, err)
		}
		if index != test.index {
			t.Errorf("unexpected index of %v, wanted %d, got %d", test.path, test.index, index)
		}
	}
}

func TestChunk_HeightOneMapsPathsToThemselves(t *testing.T) {
	for p := Path(0); p < 1000; p++ {
		if got := ChunkOf(p, 1); got != ChunkId(p) {
			t.Errorf("unexpected chunk of %v, got %d", p, got)
		}
		if got := MaxChunkBeforePath(p, 1); got != ChunkId(p-1) {
			t.Errorf("unexpected max chunk before %v, got %d", p, got)
		}
	}
}

func TestChunk_ShallowTreeIsCoveredByChunkZero(t *testing.T) {
	for h := 1; h <= 8; h++ {
		last := firstPathAtDepth(h) - 1
		for p := Path(0); p <= last; p++ {
			if got := ChunkOf(p, h); got != 0 {
				t.Errorf("h=%d: path %v should be in chunk 0, got %d", h, p, got)
			}
			if got := MaxChunkBeforePath(p, h); got != InvalidChunk {
				t.Errorf("h=%d: no chunk should be complete before %v, got %d", h, p, got)
			}
		}
		if got := LastPathInChunk(0, h); got != last {
			t.Errorf("h=%d: unexpected last path of chunk 0, wanted %v, got %v", h, last, got)
		}
		if got := MaxChunkBeforePath(last+1, h); got != 0 {
			t.Errorf("h=%d: chunk 0 should be complete before %v, got %d", h, last+1, got)
		}
	}
}

func TestChunk_MappingsAreConsistent(t *testing.T) {
	const maxDepth = 12
	for h := 1; h <= 8; h++ {
		t.Run(fmt.Sprintf("h=%d", h), func(t *testing.T) {
			members := map[ChunkId][]Path{}
			for p := Path(0); p < firstPathAtDepth(maxDepth+1); p++ {
				id := ChunkOf(p, h)
				members[id] = append(members[id], p)
				if level := ChunkLevel(id, h); level != depth(p)/h {
					t.Fatalf("unexpected level of chunk %d, wanted %d, got %d", id, depth(p)/h, level)
				}
			}
			for id, paths := range members {
				root := FirstPathInChunk(id, h)
				if root != paths[0] {
					t.Fatalf("unexpected root of chunk %d, wanted %v, got %v", id, paths[0], root)
				}
				if ChunkLevel(id, h)*h+h-1 > maxDepth {
					continue // incomplete chunk
				}
				if len(paths) != 1<<h-1 {
					t.Fatalf("chunk %d has %d members", id, len(paths))
				}
				if got, want := LastPathInChunk(id, h), paths[len(paths)-1]; got != want {
					t.Errorf("unexpected last path of chunk %d, wanted %v, got %v", id, want, got)
				}
				seen := map[int]bool{}
				for _, p := range paths {
					index, err := PathIndexInChunk(id, p, h)
					if err != nil {
						t.Fatalf("failed to get index of %v: %v", p, err)
					}
					if index < 0 || index >= len(paths) || seen[index] {
						t.Fatalf("invalid or duplicated index %d of path %v", index, p)
					}
					seen[index] = true
				}
			}
		})
	}
}

func TestChunk_MaxChunkBeforePathMatchesEnumeration(t *testing.T) {
	const maxDepth = 10
	for h := 1; h <= 8; h++ {
		t.Run(fmt.Sprintf("h=%d", h), func(t *testing.T) {
			// Collect the largest path of every complete chunk.
			largest := map[ChunkId]Path{}
			for p := Path(0); p < firstPathAtDepth(maxDepth+1); p++ {
				id := ChunkOf(p, h)
				if ChunkLevel(id, h)*h+h-1 > maxDepth {
					continue
				}
				if cur, found := largest[id]; !found || p > cur {
					largest[id] = p
				}
			}
			for p := Path(0); p < firstPathAtDepth(maxDepth+1); p++ {
				want := InvalidChunk
				for id, max := range largest {
					if max < p && id > want {
						want = id
					}
				}
				if got := MaxChunkBeforePath(p, h); got != want {
					t.Fatalf("unexpected max chunk before %v, wanted %d, got %d", p, want, got)
				}
			}
		})
	}
}

func TestChunk_PathIndexInChunkDetectsForeignPaths(t *testing.T) {
	tests := []struct {
		chunk ChunkId
		path  Path
	}{
		{0, 3}, // too deep
		{1, 4}, // sibling chunk root
		{1, 9}, // inside sibling chunk
		{2, 0}, // above chunk
		{InvalidChunk, 0},
		{0, InvalidPath},
	}
	for _, test := range tests {
		_, err := PathIndexInChunk(test.chunk, test.path, 2)
		if !errors.Is(err, ErrContractViolation) {
			t.Errorf("path %v in chunk %d should be rejected, got %v", test.path, test.chunk, err)
		}
	}
}

func TestChunk_InvalidInputs(t *testing.T) {
	if got := ChunkOf(InvalidPath, 3); got != InvalidChunk {
		t.Errorf("invalid path should not be in a chunk, got %d", got)
	}
	if got := ChunkOf(MaxPath+1, 3); got != InvalidChunk {
		t.Errorf("path beyond max should not be in a chunk, got %d", got)
	}
	if got := FirstPathInChunk(InvalidChunk, 3); got != InvalidPath {
		t.Errorf("invalid chunk should have no root, got %v", got)
	}
	if got := LastPathInChunk(InvalidChunk, 3); got != InvalidPath {
		t.Errorf("invalid chunk should have no last path, got %v", got)
	}
	if got := MaxChunkBeforePath(InvalidPath, 3); got != InvalidChunk {
		t.Errorf("invalid path should have no chunk before it, got %d", got)
	}
	if got := ChunkLevel(InvalidChunk, 3); got != -1 {
		t.Errorf("invalid chunk should have no level, got %d", got)
	}
}

func TestChunk_DeepestPathsAreSupported(t *testing.T) {
	for h := 1; h <= MaxChunkHeight; h++ {
		id := ChunkOf(MaxPath, h)
		if id < 0 {
			t.Fatalf("h=%d: max path not in a chunk", h)
		}
		if _, err := PathIndexInChunk(id, MaxPath, h); err != nil {
			t.Errorf("h=%d: failed to locate max path in its chunk: %v", h, err)
		}
	}
}
