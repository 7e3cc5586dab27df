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
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Fantom-foundation/vmap/common"
)

func TestHasher_RootHashMatchesReferenceForAllSizes(t *testing.T) {
	for _, height := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("height=%d", height), func(t *testing.T) {
			_, tree := newBuildingTree(t, testConfig(height))
			for i := 0; i < 70; i++ {
				tree = advance(t, tree)
				mustPut(t, tree, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
				if got, want := mustHash(t, tree), referenceRootHash(t, tree); got != want {
					t.Fatalf("unexpected hash after %d insertions, wanted %v, got %v", i+1, want, got)
				}
			}
			for i := 0; i < 70; i += 3 {
				tree = advance(t, tree)
				mustRemove(t, tree, fmt.Sprintf("k%d", i))
				if got, want := mustHash(t, tree), referenceRootHash(t, tree); got != want {
					t.Fatalf("unexpected hash after removing k%d, wanted %v, got %v", i, want, got)
				}
			}
		})
	}
}

func TestHasher_RootHashIsIndependentOfChunkHeight(t *testing.T) {
	ops := generateOperations(7, 1500, 400)
	var want common.Hash
	for height := 1; height <= 8; height++ {
		_, tree := newBuildingTree(t, testConfig(height))
		model := map[string]string{}
		for i := 0; i < len(ops); i += 100 {
			apply(t, tree, ops[i:min(i+100, len(ops))], model)
			tree = advance(t, tree)
		}
		got := mustHash(t, tree)
		if height == 1 {
			want = got
			if ref := referenceRootHash(t, tree); ref != want {
				t.Fatalf("unexpected hash, wanted %v, got %v", ref, want)
			}
			continue
		}
		if got != want {
			t.Errorf("hash with chunk height %d differs, wanted %v, got %v", height, want, got)
		}
	}
}

func TestHasher_HashesAreStoredInCurrentLayer(t *testing.T) {
	_, tree := newBuildingTree(t, TestConfig)
	for _, key := range []string{"a", "b", "c"} {
		mustPut(t, tree, key, key)
	}
	root := mustHash(t, tree)
	layer := tree.accessor.layer
	if hash, res := layer.getHash(RootPath); res != hit || hash != root {
		t.Errorf("root hash not stored in layer, got %v/%v", hash, res)
	}
	for path := tree.FirstLeafPath(); path <= tree.LastLeafPath(); path++ {
		leaf, res := layer.getLeaf(path)
		if res != hit {
			t.Fatalf("leaf %v not in layer", path)
		}
		if want := LeafHash(leaf.Key, leaf.Value); leaf.Hash != want {
			t.Errorf("unexpected hash of leaf %v, wanted %v, got %v", path, want, leaf.Hash)
		}
		if hash, res := layer.getHash(path); res != hit || hash != leaf.Hash {
			t.Errorf("hash record of leaf %v not in layer", path)
		}
	}
}

func TestHasher_UnmodifiedVersionKeepsRootHash(t *testing.T) {
	_, tree := newBuildingTree(t, TestConfig)
	mustPut(t, tree, "a", "1")
	mustPut(t, tree, "b", "2")
	want := mustHash(t, tree)
	tree = advance(t, tree)
	if got := mustHash(t, tree); got != want {
		t.Errorf("unmodified copy should keep root hash, wanted %v, got %v", want, got)
	}
}

func TestHasher_MissingLeafHashIsReportedAsCorruption(t *testing.T) {
	source := NewMemorySource()
	leaves := []LeafRecord{
		{Path: 1, Key: []byte("a"), Value: []byte("1")},
		{Path: 2, Key: []byte("b"), Value: []byte("2")},
	}
	hashes := []HashRecord{{Path: RootPath, Hash: common.Hash{1}}}
	if err := source.SaveRecords(1, 2, hashes, leaves, nil); err != nil {
		t.Fatalf("failed to prepare source: %v", err)
	}

	lineage, tree, err := OpenLineage(source, TestConfig)
	if err != nil {
		t.Fatalf("failed to open lineage: %v", err)
	}
	tree, err = tree.Copy()
	if err != nil {
		t.Fatalf("failed to copy: %v", err)
	}
	if err := tree.Put([]byte("a"), []byte("3")); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := tree.Hash(); !errors.Is(err, ErrCorruption) {
		t.Errorf("missing hash should be reported as corruption, got %v", err)
	}
	if err := lineage.CheckErrors(); !errors.Is(err, ErrCorruption) {
		t.Errorf("corruption should be recorded in lineage, got %v", err)
	}
	if _, _, err := tree.Get([]byte("b")); !errors.Is(err, ErrCorruption) {
		t.Errorf("corrupted version should no longer be usable, got %v", err)
	}
	if err := lineage.Close(); !errors.Is(err, ErrCorruption) {
		t.Errorf("closing should report the corruption, got %v", err)
	}
}

func TestChunkJob_DirtyChildNotYetHashedIsFatal(t *testing.T) {
	job := chunkJob{
		id:       0,
		last:     LastPathInChunk(0, 2),
		paths:    []Path{0},
		acc:      &recordAccessor{first: 3, last: 6},
		internal: map[Path]struct{}{0: {}, 1: {}},
		deeper:   map[Path]common.Hash{},
	}
	defer func() {
		msg, ok := recover().(string)
		if !ok || !strings.HasPrefix(msg, "FATAL") {
			t.Errorf("expected a fatal panic, got %v", msg)
		}
	}()
	_, _ = job.childHash(1, map[Path]common.Hash{})
	t.Errorf("missing panic")
}

func TestRunParallel_RunsAllTasks(t *testing.T) {
	for _, workers := range []int{0, 1, 4, 100} {
		var count atomic.Int32
		seen := make([]atomic.Bool, 50)
		err := runParallel(workers, len(seen), func(i int) error {
			if seen[i].Swap(true) {
				t.Errorf("task %d executed twice", i)
			}
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if count.Load() != int32(len(seen)) {
			t.Errorf("not all tasks executed with %d workers, got %d", workers, count.Load())
		}
	}
}

func TestRunParallel_ErrorsOfAllTasksAreJoined(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	for _, workers := range []int{1, 3} {
		err := runParallel(workers, 10, func(i int) error {
			switch i {
			case 2:
				return errA
			case 7:
				return errB
			}
			return nil
		})
		if !errors.Is(err, errA) || !errors.Is(err, errB) {
			t.Errorf("expected both errors with %d workers, got %v", workers, err)
		}
	}
}

func TestRunParallel_NoTasksIsNoop(t *testing.T) {
	if err := runParallel(4, 0, func(int) error { return errors.New("called") }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
