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
	"testing"

	"github.com/Fantom-foundation/vmap/common"
)

// sharedSource is a data source which is not closed when its lineage is
// closed, allowing it to be re-opened by further lineages within a test.
type sharedSource struct {
	DataSource
}

func (sharedSource) Close() error {
	return nil
}

func testConfig(chunkHeight int) Config {
	config := TestConfig
	config.ChunkHeight = chunkHeight
	return config
}

func openLineage(t *testing.T, source DataSource, config Config) (*Lineage, *Tree) {
	t.Helper()
	lineage, tree, err := OpenLineage(source, config)
	if err != nil {
		t.Fatalf("failed to open lineage: %v", err)
	}
	t.Cleanup(func() {
		if err := lineage.Close(); err != nil && err != ErrClosed {
			t.Errorf("failed to close lineage: %v", err)
		}
	})
	return lineage, tree
}

// newBuildingTree creates a fresh lineage on an in-memory source and
// returns a mutable version of it.
func newBuildingTree(t *testing.T, config Config) (*Lineage, *Tree) {
	t.Helper()
	lineage, initial := openLineage(t, NewMemorySource(), config)
	tree := mustCopy(t, initial)
	mustRelease(t, initial)
	return lineage, tree
}

func mustCopy(t *testing.T, tree *Tree) *Tree {
	t.Helper()
	res, err := tree.Copy()
	if err != nil {
		t.Fatalf("failed to copy version %d: %v", tree.Version(), err)
	}
	return res
}

// advance creates the successor of the given version and releases it.
func advance(t *testing.T, tree *Tree) *Tree {
	t.Helper()
	res := mustCopy(t, tree)
	mustRelease(t, tree)
	return res
}

func mustRelease(t *testing.T, tree *Tree) {
	t.Helper()
	if err := tree.Release(); err != nil {
		t.Fatalf("failed to release version %d: %v", tree.Version(), err)
	}
}

func mustPut(t *testing.T, tree *Tree, key, value string) {
	t.Helper()
	if err := tree.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("failed to put %s: %v", key, err)
	}
}

func mustRemove(t *testing.T, tree *Tree, key string) {
	t.Helper()
	if _, found, err := tree.Remove([]byte(key)); err != nil || !found {
		t.Fatalf("failed to remove %s: found=%t, err=%v", key, found, err)
	}
}

func mustHash(t *testing.T, tree *Tree) common.Hash {
	t.Helper()
	hash, err := tree.Hash()
	if err != nil {
		t.Fatalf("failed to hash version %d: %v", tree.Version(), err)
	}
	return hash
}

func expectValue(t *testing.T, tree interface {
	Get([]byte) ([]byte, bool, error)
}, key, want string) {
	t.Helper()
	got, found, err := tree.Get([]byte(key))
	if err != nil {
		t.Fatalf("failed to get %s: %v", key, err)
	}
	if !found {
		t.Fatalf("key %s not found", key)
	}
	if string(got) != want {
		t.Errorf("unexpected value of %s, wanted %s, got %s", key, want, got)
	}
}

func expectMissing(t *testing.T, tree interface {
	Get([]byte) ([]byte, bool, error)
}, key string) {
	t.Helper()
	if got, found, err := tree.Get([]byte(key)); err != nil || found {
		t.Errorf("key %s should be missing, got %s, found=%t, err=%v", key, got, found, err)
	}
}

func expectPath(t *testing.T, tree *Tree, key string, want Path) {
	t.Helper()
	got, found, err := tree.accessor.FindPath([]byte(key))
	if err != nil || !found {
		t.Fatalf("failed to locate %s: found=%t, err=%v", key, found, err)
	}
	if got != want {
		t.Errorf("unexpected path of %s, wanted %v, got %v", key, want, got)
	}
}

// referenceRootHash computes the root hash of a version from its leaves
// without any of the incremental hashing machinery.
func referenceRootHash(t *testing.T, tree *Tree) common.Hash {
	t.Helper()
	first, last := tree.FirstLeafPath(), tree.LastLeafPath()
	if last == InvalidPath {
		return common.Hash{}
	}
	leaves := map[Path]common.Hash{}
	err := tree.ForEach(func(record LeafRecord) error {
		leaves[record.Path] = LeafHash(record.Key, record.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to iterate leaves: %v", err)
	}
	var hash func(Path) common.Hash
	hash = func(path Path) common.Hash {
		if path > last {
			return common.Hash{}
		}
		if path >= first {
			return leaves[path]
		}
		return InternalHash(hash(LeftChildPath(path)), hash(RightChildPath(path)))
	}
	return hash(RootPath)
}

// operation is a single step of a generated workload.
type operation struct {
	remove bool
	key    string
	value  string
}

// generateOperations produces a deterministic sequence of puts and removes
// over a bounded key space.
func generateOperations(seed, count, keys int) []operation {
	res := make([]operation, 0, count)
	state := uint64(seed)*6364136223846793005 + 1442695040888963407
	nextRandom := func() uint64 {
		state = state*6364136223846793005 + 1442695040888963407
		return state >> 33
	}
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("key-%d", nextRandom()%uint64(keys))
		if nextRandom()%4 == 0 {
			res = append(res, operation{remove: true, key: key})
		} else {
			res = append(res, operation{key: key, value: fmt.Sprintf("value-%d", i)})
		}
	}
	return res
}

// apply runs the given operations on the tree and mirrors them in the
// provided map.
func apply(t *testing.T, tree *Tree, ops []operation, model map[string]string) {
	t.Helper()
	for _, op := range ops {
		if op.remove {
			value, found, err := tree.Remove([]byte(op.key))
			if err != nil {
				t.Fatalf("failed to remove %s: %v", op.key, err)
			}
			want, exists := model[op.key]
			if found != exists || (found && string(value) != want) {
				t.Fatalf("unexpected result of removing %s, wanted %s/%t, got %s/%t", op.key, want, exists, value, found)
			}
			delete(model, op.key)
		} else {
			if err := tree.Put([]byte(op.key), []byte(op.value)); err != nil {
				t.Fatalf("failed to put %s: %v", op.key, err)
			}
			model[op.key] = op.value
		}
		if got, want := tree.Size(), int64(len(model)); got != want {
			t.Fatalf("unexpected size, wanted %d, got %d", want, got)
		}
	}
}

func expectContent(t *testing.T, tree interface {
	Get([]byte) ([]byte, bool, error)
	Size() int64
}, model map[string]string) {
	t.Helper()
	if got, want := tree.Size(), int64(len(model)); got != want {
		t.Errorf("unexpected size, wanted %d, got %d", want, got)
	}
	for key, value := range model {
		expectValue(t, tree, key, value)
	}
}
