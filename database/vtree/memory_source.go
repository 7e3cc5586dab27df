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
	"sync"
	"unsafe"

	"github.com/Fantom-foundation/vmap/common"
)

// MemorySource is a DataSource keeping all records in memory. It is intended
// for tests and as a target for detached snapshots.
type MemorySource struct {
	leaves      map[Path]LeafRecord
	keys        map[string]Path
	hashes      map[Path]common.Hash
	first, last Path
	mutex       sync.RWMutex
	closed      bool
}

// NewMemorySource creates an empty in-memory data source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		leaves: map[Path]LeafRecord{},
		keys:   map[string]Path{},
		hashes: map[Path]common.Hash{},
		first:  InvalidPath,
		last:   InvalidPath,
	}
}

func (s *MemorySource) LoadLeafByKey(key []byte) (LeafRecord, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return LeafRecord{}, false, ErrClosed
	}
	path, found := s.keys[string(key)]
	if !found {
		return LeafRecord{}, false, nil
	}
	res, found := s.leaves[path]
	return res.Clone(), found, nil
}

func (s *MemorySource) LoadLeafByPath(path Path) (LeafRecord, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return LeafRecord{}, false, ErrClosed
	}
	res, found := s.leaves[path]
	return res.Clone(), found, nil
}

func (s *MemorySource) LoadHash(path Path) (common.Hash, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return common.Hash{}, false, ErrClosed
	}
	res, found := s.hashes[path]
	return res, found, nil
}

func (s *MemorySource) FindPath(key []byte) (Path, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return InvalidPath, false, ErrClosed
	}
	res, found := s.keys[string(key)]
	if !found {
		return InvalidPath, false, nil
	}
	return res, true, nil
}

func (s *MemorySource) LeafPathRange() (Path, Path, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return InvalidPath, InvalidPath, ErrClosed
	}
	return s.first, s.last, nil
}

func (s *MemorySource) SaveRecords(first, last Path, hashes []HashRecord, upserts []LeafRecord, deletes []LeafRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, record := range deletes {
		if record.Path.IsValid() {
			delete(s.leaves, record.Path)
			delete(s.hashes, record.Path)
		}
		if record.Key != nil {
			delete(s.keys, string(record.Key))
		}
	}
	for _, record := range upserts {
		s.leaves[record.Path] = record.Clone()
		s.keys[string(record.Key)] = record.Path
	}
	for _, record := range hashes {
		s.hashes[record.Path] = record.Hash
	}
	// All hashes are located at paths not exceeding the previous bound.
	for p := s.last; p > last; p-- {
		delete(s.hashes, p)
	}
	s.first, s.last = first, last
	return nil
}

func (s *MemorySource) GetMemoryFootprint() *common.MemoryFootprint {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	res := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	leaves := uintptr(0)
	for _, leaf := range s.leaves {
		leaves += unsafe.Sizeof(leaf) + uintptr(len(leaf.Key)+len(leaf.Value))
	}
	res.AddChild("leaves", common.NewMemoryFootprint(leaves))
	keys := uintptr(0)
	for key := range s.keys {
		keys += uintptr(len(key)) + unsafe.Sizeof(Path(0))
	}
	res.AddChild("keys", common.NewMemoryFootprint(keys))
	res.AddChild("hashes", common.NewMemoryFootprint(uintptr(len(s.hashes))*(unsafe.Sizeof(Path(0))+common.HashSize)))
	return res
}

func (s *MemorySource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}
