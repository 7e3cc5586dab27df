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
	"sync"

	"github.com/Fantom-foundation/vmap/common"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// hasher refreshes the hashes of a version after a batch of modifications.
// Internal nodes affected by modified leaves are grouped into chunks of
// height chunkHeight. Chunks are processed level by level, starting with
// the deepest one, and chunks of the same level are hashed in parallel.
type hasher struct {
	chunkHeight int
	workers     int
}

func newHasher(chunkHeight, workers int) *hasher {
	if workers < 1 {
		workers = 1
	}
	return &hasher{chunkHeight: chunkHeight, workers: workers}
}

// hash updates the leaf and node hashes of the version accessed through acc
// which are affected by the given dirty paths. Dirty paths are modified
// leaf positions, including positions vacated by removed leaves. Results are
// written into the accessor's cache layer and the root hash is returned.
func (h *hasher) hash(acc *recordAccessor, dirty map[Path]struct{}) (common.Hash, error) {
	if acc.last == InvalidPath {
		return common.Hash{}, nil
	}

	// Phase 1: hash modified leaves.
	leaves := make([]Path, 0, len(dirty))
	for path := range dirty {
		if acc.inRange(path) {
			leaves = append(leaves, path)
		}
	}
	slices.Sort(leaves)
	err := runParallel(h.workers, len(leaves), func(i int) error {
		record, found, err := acc.FindLeafByPath(leaves[i], true)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: missing modified leaf at %v", ErrCorruption, leaves[i])
		}
		record.Hash = LeafHash(record.Key, record.Value)
		acc.layer.putLeaf(record)
		acc.layer.putHash(record.Path, record.Hash)
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	// Phase 2: collect internal nodes to be re-hashed and group them by chunk.
	internal := map[Path]struct{}{}
	for path := range dirty {
		for cur := ParentPath(path); cur >= 0; cur = ParentPath(cur) {
			if _, found := internal[cur]; found {
				break
			}
			// Ancestors of vacated paths beyond the last leaf may be leaves
			// or nodes without any leaf below them; their hashes are not
			// affected.
			if cur < acc.first {
				internal[cur] = struct{}{}
			}
		}
	}
	if len(internal) == 0 {
		hash, _, err := acc.FindHash(RootPath)
		return hash, err
	}

	chunks := map[ChunkId][]Path{}
	for path := range internal {
		id := ChunkOf(path, h.chunkHeight)
		chunks[id] = append(chunks[id], path)
	}
	levels := map[int][]ChunkId{}
	maxLevel := 0
	for _, id := range maps.Keys(chunks) {
		level := ChunkLevel(id, h.chunkHeight)
		levels[level] = append(levels[level], id)
		if level > maxLevel {
			maxLevel = level
		}
	}

	// Phase 3: hash chunks bottom-up. Chunks on the same level are disjoint
	// subtrees only depending on chunks of deeper levels.
	leafFreeLimit := MaxChunkBeforePath(acc.first, h.chunkHeight)
	results := make(map[Path]common.Hash, len(internal))
	for level := maxLevel; level >= 0; level-- {
		ids := levels[level]
		slices.Sort(ids)
		partial := make([]map[Path]common.Hash, len(ids))
		err := runParallel(h.workers, len(ids), func(i int) error {
			job := chunkJob{
				id:       ids[i],
				last:     LastPathInChunk(ids[i], h.chunkHeight),
				leafFree: ids[i] <= leafFreeLimit,
				paths:    chunks[ids[i]],
				acc:      acc,
				internal: internal,
				deeper:   results,
			}
			res, err := job.run()
			partial[i] = res
			return err
		})
		if err != nil {
			return common.Hash{}, err
		}
		for _, res := range partial {
			for path, hash := range res {
				results[path] = hash
			}
		}
	}

	root, found := results[RootPath]
	if !found {
		panic("FATAL: root not covered by hashed chunks")
	}
	return root, nil
}

// chunkJob hashes the dirty internal nodes of a single chunk.
type chunkJob struct {
	id       ChunkId
	last     Path // last path in the chunk
	leafFree bool // all paths of the chunk are internal nodes
	paths    []Path
	acc      *recordAccessor
	internal map[Path]struct{}
	deeper   map[Path]common.Hash // results of deeper chunks, read only
}

func (j *chunkJob) run() (map[Path]common.Hash, error) {
	// Deeper nodes have larger paths, so descending order visits children
	// before their parents.
	slices.Sort(j.paths)
	res := make(map[Path]common.Hash, len(j.paths))
	for i := len(j.paths) - 1; i >= 0; i-- {
		path := j.paths[i]
		left, err := j.childHash(LeftChildPath(path), res)
		if err != nil {
			return nil, err
		}
		right, err := j.childHash(RightChildPath(path), res)
		if err != nil {
			return nil, err
		}
		hash := InternalHash(left, right)
		res[path] = hash
		j.acc.layer.putHash(path, hash)
	}
	return res, nil
}

func (j *chunkJob) childHash(child Path, local map[Path]common.Hash) (common.Hash, error) {
	if child > j.acc.last {
		return common.Hash{}, nil
	}
	inChunk := child <= j.last
	if inChunk {
		if hash, found := local[child]; found {
			return hash, nil
		}
	} else if hash, found := j.deeper[child]; found {
		return hash, nil
	}
	if _, dirty := j.internal[child]; dirty {
		panic(fmt.Sprintf("FATAL: dirty child %v encountered before being hashed in chunk %d", child, j.id))
	}
	hash, found, err := j.acc.FindHash(child)
	if err != nil {
		return common.Hash{}, err
	}
	// Within leaf-free chunks children inside the chunk are internal nodes
	// whose hash may be absent if they have no leaves below them.
	if !found && !(j.leafFree && inChunk) && child >= j.acc.first {
		return common.Hash{}, fmt.Errorf("%w: missing hash of leaf %v", ErrCorruption, child)
	}
	return hash, nil
}

// runParallel runs the given number of tasks on at most the given number of
// goroutines and returns the joined errors of all tasks.
func runParallel(workers, tasks int, task func(int) error) error {
	if tasks == 0 {
		return nil
	}
	if workers > tasks {
		workers = tasks
	}
	if workers <= 1 {
		var errs []error
		for i := 0; i < tasks; i++ {
			if err := task(i); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	next := make(chan int, tasks)
	for i := 0; i < tasks; i++ {
		next <- i
	}
	close(next)

	errs := make([]error, tasks)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = task(i)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
