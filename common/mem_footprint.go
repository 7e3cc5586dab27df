// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"fmt"
	"sort"
	"strings"
)

// MemoryFootprint describes the memory consumption of a structure and its
// named sub-components.
type MemoryFootprint struct {
	value    uintptr
	note     string
	children map[string]*MemoryFootprint
}

// NewMemoryFootprint creates a new MemoryFootprint instance for a structure
// occupying the given number of bytes, excluding its children.
func NewMemoryFootprint(value uintptr) *MemoryFootprint {
	return &MemoryFootprint{
		value:    value,
		children: make(map[string]*MemoryFootprint),
	}
}

// AddChild attaches the MemoryFootprint of a sub-component.
func (mf *MemoryFootprint) AddChild(name string, child *MemoryFootprint) {
	mf.children[name] = child
}

// GetChild provides the footprint of the named sub-component, nil if unknown.
func (mf *MemoryFootprint) GetChild(name string) *MemoryFootprint {
	return mf.children[name]
}

// SetNote attaches a free-text note printed next to the footprint.
func (mf *MemoryFootprint) SetNote(note string) {
	mf.note = note
}

// Value provides the amount of bytes consumed by the structure itself.
func (mf *MemoryFootprint) Value() uintptr {
	return mf.value
}

// Total provides the amount of bytes consumed including all sub-components.
// Components shared by multiple parents are only counted once.
func (mf *MemoryFootprint) Total() uintptr {
	return mf.total(make(map[*MemoryFootprint]bool))
}

func (mf *MemoryFootprint) total(visited map[*MemoryFootprint]bool) uintptr {
	if visited[mf] {
		return 0
	}
	visited[mf] = true
	res := mf.value
	for _, child := range mf.children {
		res += child.total(visited)
	}
	return res
}

func (mf *MemoryFootprint) String() string {
	var sb strings.Builder
	mf.toStringBuilder(&sb, ".")
	return sb.String()
}

func (mf *MemoryFootprint) toStringBuilder(sb *strings.Builder, path string) {
	sb.WriteString(memoryAmountToString(mf.Total()))
	sb.WriteRune(' ')
	sb.WriteString(path)
	if mf.note != "" {
		sb.WriteString(" (")
		sb.WriteString(mf.note)
		sb.WriteRune(')')
	}
	sb.WriteRune('\n')
	names := make([]string, 0, len(mf.children))
	for name := range mf.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mf.children[name].toStringBuilder(sb, path+"/"+name)
	}
}

func memoryAmountToString(bytes uintptr) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	const prefixes = "KMGTPE"
	div, exp := uint64(unit), 0
	for n := uint64(bytes) / unit; n >= unit && exp+1 < len(prefixes); n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), prefixes[exp])
}
