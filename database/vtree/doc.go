// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package vtree implements a versioned key/value map whose content is
// addressable as a binary Merkle tree.
//
// Nodes are identified by their path in a complete binary tree. The root is
// located at path 0 and the children of the node at path p are found at
// paths 2p+1 and 2p+2. Leaves holding key/value pairs occupy a contiguous
// range of paths [FirstLeafPath, LastLeafPath]; all paths below that range
// are internal nodes holding the hash of their children.
//
// Each version of the map is represented by a Tree. Trees of the same
// history form a Lineage. Every version owns a cache layer recording the
// records it modified; layers are chained from the newest to the oldest
// version still kept in memory and fall through to a DataSource holding the
// most recently flushed state. Creating a new version via Tree.Copy is O(1)
// and never copies leaf or hash data. Sealed layers are merged into the
// data source by a background flusher in version order.
//
// After a batch of modifications, the hash of a version is computed by
// re-hashing the paths affected by the modifications. The work is grouped
// into chunks, full subtrees of a configured height, which are processed in
// parallel.
package vtree
