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
	"bytes"
	"errors"
	"fmt"

	"github.com/Fantom-foundation/vmap/common"
)

// VerificationObserver is notified about the progress of a verification.
type VerificationObserver interface {
	StartVerification()
	Progress(msg string)
	EndVerification(res error)
}

// NilVerificationObserver ignores all progress notifications.
type NilVerificationObserver struct{}

func (NilVerificationObserver) StartVerification()        {}
func (NilVerificationObserver) Progress(msg string)       {}
func (NilVerificationObserver) EndVerification(res error) {}

// maxReportedIssues limits the number of issues listed in a failed
// verification.
const maxReportedIssues = 16

// VerifySource checks the consistency of the records stored in a data
// source. All leaves in the leaf range must be present and indexed by their
// key, and every stored hash must match the hash recomputed from the leaves.
// Inconsistencies are reported as errors wrapping ErrCorruption.
func VerifySource(source DataSource, observer VerificationObserver) (err error) {
	if observer == nil {
		observer = NilVerificationObserver{}
	}
	observer.StartVerification()
	defer func() { observer.EndVerification(err) }()

	first, last, err := source.LeafPathRange()
	if err != nil {
		return fmt.Errorf("%w: failed to read leaf bounds: %w", ErrPersistence, err)
	}
	if first == InvalidPath && last == InvalidPath {
		observer.Progress("data source is empty")
		return nil
	}
	if first < 1 || first > last || !last.IsValid() {
		return fmt.Errorf("%w: invalid leaf bounds [%v,%v]", ErrCorruption, first, last)
	}

	var issues []error
	report := func(format string, args ...any) {
		if len(issues) < maxReportedIssues {
			issues = append(issues, fmt.Errorf(format, args...))
		}
	}

	observer.Progress(fmt.Sprintf("checking %d leaves ...", last-first+1))
	hashes := make(map[Path]common.Hash, last-first+1)
	for path := first; path <= last; path++ {
		record, found, err := source.LoadLeafByPath(path)
		if err != nil {
			return fmt.Errorf("%w: failed to load leaf at %v: %w", ErrPersistence, path, err)
		}
		if !found {
			report("missing leaf at path %v", path)
			continue
		}
		want := LeafHash(record.Key, record.Value)
		hashes[path] = want
		if record.Path != path {
			report("leaf stored at %v claims path %v", path, record.Path)
		}
		if record.Hash != want {
			report("invalid hash in leaf at %v, wanted %v, got %v", path, want, record.Hash)
		}
		if stored, found, err := source.LoadHash(path); err != nil {
			return fmt.Errorf("%w: failed to load hash at %v: %w", ErrPersistence, path, err)
		} else if !found || stored != want {
			report("invalid hash record of leaf at %v, wanted %v, got %v", path, want, stored)
		}
		indexed, found, err := source.FindPath(record.Key)
		if err != nil {
			return fmt.Errorf("%w: failed to look up key %x: %w", ErrPersistence, record.Key, err)
		}
		if !found || indexed != path {
			report("key %x of leaf at %v is indexed at %v", record.Key, path, indexed)
		}
		if byKey, found, err := source.LoadLeafByKey(record.Key); err != nil {
			return fmt.Errorf("%w: failed to load key %x: %w", ErrPersistence, record.Key, err)
		} else if !found || byKey.Path != path || !bytes.Equal(byKey.Value, record.Value) {
			report("leaf of key %x can not be resolved by key", record.Key)
		}
	}

	observer.Progress(fmt.Sprintf("checking %d internal nodes ...", first))
	child := func(path Path) common.Hash {
		if path > last {
			return common.Hash{}
		}
		return hashes[path]
	}
	for path := first - 1; path >= 0; path-- {
		want := InternalHash(child(LeftChildPath(path)), child(RightChildPath(path)))
		if !want.IsZero() {
			hashes[path] = want
		}
		stored, found, err := source.LoadHash(path)
		if err != nil {
			return fmt.Errorf("%w: failed to load hash at %v: %w", ErrPersistence, path, err)
		}
		if !found {
			stored = common.Hash{}
		}
		if stored != want {
			report("invalid hash of node %v, wanted %v, got %v", path, want, stored)
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("%w: %w", ErrCorruption, errors.Join(issues...))
	}
	observer.Progress("all hashes are valid")
	return nil
}
