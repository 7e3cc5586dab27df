// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package sourcetest provides a test suite checking the DataSource contract.
// Implementations run it from their own tests.
package sourcetest

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/database/vtree"
)

// Factory creates a fresh, empty data source for a single test.
type Factory func(t *testing.T) vtree.DataSource

// Run executes all contract tests on data sources produced by the factory.
func Run(t *testing.T, factory Factory) {
	tests := map[string]func(*testing.T, vtree.DataSource){
		"EmptySourceHasNoRecords":          testEmptySourceHasNoRecords,
		"SavedRecordsCanBeLoaded":          testSavedRecordsCanBeLoaded,
		"DeletesAreAppliedBeforeUpserts":   testDeletesAreAppliedBeforeUpserts,
		"MovedLeavesAreReindexed":          testMovedLeavesAreReindexed,
		"KeysCanBeDeleted":                 testKeysCanBeDeleted,
		"HashesBeyondLastLeafAreRemoved":   testHashesBeyondLastLeafAreRemoved,
		"ClearingAllLeavesResetsBounds":    testClearingAllLeavesResetsBounds,
		"LoadedRecordsAreCopies":           testLoadedRecordsAreCopies,
		"ReadsCanRunConcurrentlyWithSaves": testReadsCanRunConcurrentlyWithSaves,
		"MemoryFootprintIsReported":        testMemoryFootprintIsReported,
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			source := factory(t)
			defer func() {
				if err := source.Close(); err != nil {
					t.Errorf("failed to close source: %v", err)
				}
			}()
			test(t, source)
		})
	}
}

func leaf(path vtree.Path, key, value string) vtree.LeafRecord {
	return vtree.LeafRecord{
		Path:  path,
		Key:   []byte(key),
		Value: []byte(value),
		Hash:  vtree.LeafHash([]byte(key), []byte(value)),
	}
}

func hashOf(path vtree.Path) common.Hash {
	return common.Keccak256([]byte(fmt.Sprintf("hash-%d", path)))
}

func save(t *testing.T, source vtree.DataSource, first, last vtree.Path, hashes []vtree.HashRecord, upserts, deletes []vtree.LeafRecord) {
	t.Helper()
	if err := source.SaveRecords(first, last, hashes, upserts, deletes); err != nil {
		t.Fatalf("failed to save records: %v", err)
	}
}

func expectBounds(t *testing.T, source vtree.DataSource, first, last vtree.Path) {
	t.Helper()
	gotFirst, gotLast, err := source.LeafPathRange()
	if err != nil {
		t.Fatalf("failed to get leaf range: %v", err)
	}
	if gotFirst != first || gotLast != last {
		t.Errorf("unexpected leaf range, wanted [%v,%v], got [%v,%v]", first, last, gotFirst, gotLast)
	}
}

func expectLeaf(t *testing.T, source vtree.DataSource, want vtree.LeafRecord) {
	t.Helper()
	got, found, err := source.LoadLeafByKey(want.Key)
	if err != nil || !found {
		t.Fatalf("failed to load leaf by key %q: found=%t, err=%v", want.Key, found, err)
	}
	if !got.Equal(want) || got.Hash != want.Hash {
		t.Errorf("unexpected leaf for key %q, wanted %v, got %v", want.Key, want, got)
	}
	got, found, err = source.LoadLeafByPath(want.Path)
	if err != nil || !found {
		t.Fatalf("failed to load leaf by path %v: found=%t, err=%v", want.Path, found, err)
	}
	if !got.Equal(want) || got.Hash != want.Hash {
		t.Errorf("unexpected leaf at path %v, wanted %v, got %v", want.Path, want, got)
	}
	path, found, err := source.FindPath(want.Key)
	if err != nil || !found || path != want.Path {
		t.Errorf("unexpected path of key %q, wanted %v, got %v, found=%t, err=%v", want.Key, want.Path, path, found, err)
	}
}

func expectNoKey(t *testing.T, source vtree.DataSource, key string) {
	t.Helper()
	if _, found, err := source.LoadLeafByKey([]byte(key)); err != nil || found {
		t.Errorf("key %q should not be present, found=%t, err=%v", key, found, err)
	}
	if _, found, err := source.FindPath([]byte(key)); err != nil || found {
		t.Errorf("key %q should not be indexed, found=%t, err=%v", key, found, err)
	}
}

func expectNoLeafAt(t *testing.T, source vtree.DataSource, path vtree.Path) {
	t.Helper()
	if _, found, err := source.LoadLeafByPath(path); err != nil || found {
		t.Errorf("no leaf should be stored at %v, found=%t, err=%v", path, found, err)
	}
}

func expectHash(t *testing.T, source vtree.DataSource, path vtree.Path, want common.Hash, wantFound bool) {
	t.Helper()
	got, found, err := source.LoadHash(path)
	if err != nil {
		t.Fatalf("failed to load hash of %v: %v", path, err)
	}
	if found != wantFound || (found && got != want) {
		t.Errorf("unexpected hash at %v, wanted %v (found=%t), got %v (found=%t)", path, want, wantFound, got, found)
	}
}

func testEmptySourceHasNoRecords(t *testing.T, source vtree.DataSource) {
	expectBounds(t, source, vtree.InvalidPath, vtree.InvalidPath)
	expectNoKey(t, source, "a")
	expectNoLeafAt(t, source, 1)
	expectHash(t, source, 0, common.Hash{}, false)
}

func testSavedRecordsCanBeLoaded(t *testing.T, source vtree.DataSource) {
	a, b := leaf(1, "a", "1"), leaf(2, "b", "2")
	hashes := []vtree.HashRecord{{Path: 0, Hash: hashOf(0)}, {Path: 1, Hash: a.Hash}, {Path: 2, Hash: b.Hash}}
	save(t, source, 1, 2, hashes, []vtree.LeafRecord{a, b}, nil)

	expectBounds(t, source, 1, 2)
	expectLeaf(t, source, a)
	expectLeaf(t, source, b)
	for _, record := range hashes {
		expectHash(t, source, record.Path, record.Hash, true)
	}
}

func testDeletesAreAppliedBeforeUpserts(t *testing.T, source vtree.DataSource) {
	save(t, source, 1, 2, nil, []vtree.LeafRecord{leaf(1, "a", "1"), leaf(2, "b", "2")}, nil)

	// Replace key b at path 2 by key c.
	c := leaf(2, "c", "3")
	deletes := []vtree.LeafRecord{{Path: 2, Key: []byte("b")}}
	save(t, source, 1, 2, nil, []vtree.LeafRecord{c}, deletes)

	expectLeaf(t, source, leaf(1, "a", "1"))
	expectLeaf(t, source, c)
	expectNoKey(t, source, "b")
}

func testMovedLeavesAreReindexed(t *testing.T, source vtree.DataSource) {
	save(t, source, 1, 2, nil, []vtree.LeafRecord{leaf(1, "a", "1"), leaf(2, "b", "2")}, nil)

	// The tree grows: the leaf at 1 moves to 3, a new leaf is added at 4.
	moved, added := leaf(3, "a", "1"), leaf(4, "c", "3")
	deletes := []vtree.LeafRecord{{Path: 1, Key: nil}}
	hashes := []vtree.HashRecord{{Path: 0, Hash: hashOf(0)}, {Path: 1, Hash: hashOf(1)}}
	save(t, source, 2, 4, hashes, []vtree.LeafRecord{moved, added}, deletes)

	expectBounds(t, source, 2, 4)
	expectLeaf(t, source, moved)
	expectLeaf(t, source, added)
	expectLeaf(t, source, leaf(2, "b", "2"))
	expectNoLeafAt(t, source, 1)
	expectHash(t, source, 1, hashOf(1), true)
}

func testKeysCanBeDeleted(t *testing.T, source vtree.DataSource) {
	save(t, source, 1, 2, nil, []vtree.LeafRecord{leaf(1, "a", "1"), leaf(2, "b", "2")}, nil)
	deletes := []vtree.LeafRecord{{Path: 2, Key: []byte("b")}}
	save(t, source, 1, 1, nil, nil, deletes)

	expectBounds(t, source, 1, 1)
	expectLeaf(t, source, leaf(1, "a", "1"))
	expectNoKey(t, source, "b")
	expectNoLeafAt(t, source, 2)
}

func testHashesBeyondLastLeafAreRemoved(t *testing.T, source vtree.DataSource) {
	var hashes []vtree.HashRecord
	for p := vtree.Path(0); p <= 6; p++ {
		hashes = append(hashes, vtree.HashRecord{Path: p, Hash: hashOf(p)})
	}
	leaves := []vtree.LeafRecord{leaf(3, "a", "1"), leaf(4, "b", "2"), leaf(5, "c", "3"), leaf(6, "d", "4")}
	save(t, source, 3, 6, hashes, leaves, nil)

	deletes := []vtree.LeafRecord{{Path: 6, Key: []byte("d")}, {Path: 5, Key: []byte("c")}}
	save(t, source, 3, 4, nil, nil, deletes)

	for p := vtree.Path(0); p <= 4; p++ {
		expectHash(t, source, p, hashOf(p), true)
	}
	for p := vtree.Path(5); p <= 6; p++ {
		expectHash(t, source, p, common.Hash{}, false)
	}
}

func testClearingAllLeavesResetsBounds(t *testing.T, source vtree.DataSource) {
	a := leaf(1, "a", "1")
	save(t, source, 1, 1, []vtree.HashRecord{{Path: 0, Hash: hashOf(0)}, {Path: 1, Hash: a.Hash}}, []vtree.LeafRecord{a}, nil)
	save(t, source, vtree.InvalidPath, vtree.InvalidPath, nil, nil, []vtree.LeafRecord{{Path: 1, Key: []byte("a")}})

	expectBounds(t, source, vtree.InvalidPath, vtree.InvalidPath)
	expectNoKey(t, source, "a")
	expectHash(t, source, 0, common.Hash{}, false)
	expectHash(t, source, 1, common.Hash{}, false)
}

func testLoadedRecordsAreCopies(t *testing.T, source vtree.DataSource) {
	save(t, source, 1, 1, nil, []vtree.LeafRecord{leaf(1, "a", "1")}, nil)
	got, _, err := source.LoadLeafByPath(1)
	if err != nil {
		t.Fatalf("failed to load leaf: %v", err)
	}
	got.Value[0] = 'x'
	got, _, err = source.LoadLeafByKey([]byte("a"))
	if err != nil {
		t.Fatalf("failed to load leaf: %v", err)
	}
	if !bytes.Equal(got.Value, []byte("1")) {
		t.Errorf("stored value was modified through a loaded record: %q", got.Value)
	}
}

func testReadsCanRunConcurrentlyWithSaves(t *testing.T, source vtree.DataSource) {
	const rounds = 50
	save(t, source, 1, 1, nil, []vtree.LeafRecord{leaf(1, "a", "0")}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			if err := source.SaveRecords(1, 1, nil, []vtree.LeafRecord{leaf(1, "a", fmt.Sprintf("%d", i))}, nil); err != nil {
				t.Errorf("failed to save records: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				got, found, err := source.LoadLeafByKey([]byte("a"))
				if err != nil || !found || got.Path != 1 {
					t.Errorf("failed to read leaf: %v, found=%t, err=%v", got, found, err)
					return
				}
				// Reads observe committed saves only.
				if value, err := strconv.Atoi(string(got.Value)); err != nil || value < 0 || value > rounds {
					t.Errorf("read uncommitted or invalid value %q", got.Value)
					return
				}
			}
		}()
	}
	wg.Wait()
	expectLeaf(t, source, leaf(1, "a", fmt.Sprintf("%d", rounds)))
}

func testMemoryFootprintIsReported(t *testing.T, source vtree.DataSource) {
	if source.GetMemoryFootprint() == nil {
		t.Errorf("missing memory footprint")
	}
}
