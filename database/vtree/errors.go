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

import "github.com/Fantom-foundation/vmap/common"

const (
	// ErrContractViolation is reported for invalid operations issued by the
	// caller, for instance accesses to paths out of the addressable range.
	ErrContractViolation = common.ConstError("contract violation")
	// ErrImmutable is reported when modifying a version that is no longer
	// in its building phase.
	ErrImmutable = common.ConstError("version is immutable")
	// ErrReleased is reported for operations on released versions.
	ErrReleased = common.ConstError("version has been released")
	// ErrNotLatest is reported when copying a version that is not the head
	// of its lineage.
	ErrNotLatest = common.ConstError("version is not the latest of its lineage")
	// ErrCorruption is reported when inconsistent records are encountered.
	ErrCorruption = common.ConstError("corrupted data detected")
	// ErrPersistence is reported for I/O failures of a data source.
	ErrPersistence = common.ConstError("persistence failure")
	// ErrBackpressure is reported when too many versions are waiting for
	// being flushed and new versions can not be created.
	ErrBackpressure = common.ConstError("too many unflushed versions")
	// ErrClosed is reported for operations on a closed lineage.
	ErrClosed = common.ConstError("lineage is closed")
)
