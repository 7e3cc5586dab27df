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

	"github.com/Fantom-foundation/vmap/common"
	"go.uber.org/mock/gomock"
)

// newAccessorOnSource creates an accessor with a fresh layer on top of an
// in-memory source holding leaves a and b at paths 1 and 2.
func newAccessorOnSource(t *testing.T) (*recordAccessor, *MemorySource) {
	t.Helper()
	source := NewMemorySource()
	leaves := []LeafRecord{
		{Path: 1, Key: []byte("a"), Value: []byte("1")},
		{Path: 2, Key: []byte("b"), Value: []byte("2")},
	}
	hashes := []HashRecord{{Path: 0, Hash: common.Hash{1}}, {Path: 1, Hash: common.Hash{2}}, {Path: 2, Hash: common.Hash{3}}}
	if err := source.SaveRecords(1, 2, hashes, leaves, nil); err != nil {
		t.Fatalf("failed to initialize source: %v", err)
	}
	return &recordAccessor{layer: newCacheLayer(1, nil), source: source, first: 1, last: 2}, source
}

func TestRecordAccessor_FallsBackToSource(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	record, found, err := acc.FindLeafByKey([]byte("b"), false)
	if err != nil || !found {
		t.Fatalf("failed to find leaf: found=%t, err=%v", found, err)
	}
	if record.Path != 2 || string(record.Value) != "2" {
		t.Errorf("unexpected record %v", record)
	}
	if _, res := acc.layer.getLeaf(2); res != miss {
		t.Errorf("reading without intent to modify should not copy the record")
	}
	hash, found, err := acc.FindHash(0)
	if err != nil || !found || hash != (common.Hash{1}) {
		t.Errorf("unexpected root hash %v, found=%t, err=%v", hash, found, err)
	}
}

func TestRecordAccessor_ForModifyCopiesRecordIntoCurrentLayer(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	if _, _, err := acc.FindLeafByKey([]byte("a"), true); err != nil {
		t.Fatalf("failed to find leaf: %v", err)
	}
	record, res := acc.layer.getLeaf(1)
	if res != hit || string(record.Key) != "a" {
		t.Errorf("record should have been copied into the layer, got %v/%v", record, res)
	}

	// Records of older layers are cloned as well.
	older := acc.layer
	older.seal(1, 2)
	acc.layer = newCacheLayer(2, older)
	if _, _, err := acc.FindLeafByPath(1, true); err != nil {
		t.Fatalf("failed to find leaf: %v", err)
	}
	copied, res := acc.layer.getLeaf(1)
	if res != hit {
		t.Fatalf("record should have been copied into the newest layer")
	}
	original, _ := older.getLeaf(1)
	copied.Value[0] = 'x'
	if string(original.Value) != "1" {
		t.Errorf("copy shares data with the older layer")
	}
}

func TestRecordAccessor_DeletionMarkersShadowOlderData(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	acc.layer.deleteKey([]byte("a"))
	acc.layer.deleteLeaf(2)
	acc.layer.deleteHash(0)

	if _, found, err := acc.FindLeafByKey([]byte("a"), false); err != nil || found {
		t.Errorf("deleted key should not be found, found=%t, err=%v", found, err)
	}
	if _, found, err := acc.FindLeafByPath(2, false); err != nil || found {
		t.Errorf("deleted leaf should not be found, found=%t, err=%v", found, err)
	}
	if _, found, err := acc.FindHash(0); err != nil || found {
		t.Errorf("deleted hash should not be found, found=%t, err=%v", found, err)
	}
}

func TestRecordAccessor_NewerLayersTakePrecedence(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	older := acc.layer
	older.putLeaf(LeafRecord{Path: 1, Key: []byte("a"), Value: []byte("old")})
	older.seal(1, 2)
	acc.layer = newCacheLayer(2, older)
	acc.layer.putLeaf(LeafRecord{Path: 1, Key: []byte("a"), Value: []byte("new")})

	record, found, err := acc.FindLeafByKey([]byte("a"), false)
	if err != nil || !found || string(record.Value) != "new" {
		t.Errorf("unexpected record %v, found=%t, err=%v", record, found, err)
	}
	acc.layer = older
	record, found, err = acc.FindLeafByKey([]byte("a"), false)
	if err != nil || !found || string(record.Value) != "old" {
		t.Errorf("unexpected record %v, found=%t, err=%v", record, found, err)
	}
}

func TestRecordAccessor_FindHashBeyondLastLeafIsNotFound(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	for _, path := range []Path{3, 4, 100, MaxPath} {
		if _, found, err := acc.FindHash(path); err != nil || found {
			t.Errorf("hash of %v should not be found, found=%t, err=%v", path, found, err)
		}
	}
}

func TestRecordAccessor_PathsOutOfAddressableRangeAreContractViolations(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	for _, path := range []Path{-1, -100, MaxPath + 1} {
		if _, _, err := acc.FindHash(path); !errors.Is(err, ErrContractViolation) {
			t.Errorf("hash lookup of %v should fail, got %v", path, err)
		}
		if _, _, err := acc.FindLeafByPath(path, false); !errors.Is(err, ErrContractViolation) {
			t.Errorf("leaf lookup of %v should fail, got %v", path, err)
		}
	}
}

func TestRecordAccessor_LeavesOutsideOfRangeAreNotFound(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	acc.first = 2
	if _, found, err := acc.FindLeafByPath(1, false); err != nil || found {
		t.Errorf("leaf below first should not be found, found=%t, err=%v", found, err)
	}
}

func TestRecordAccessor_MismatchingKeyIsReportedAsCorruption(t *testing.T) {
	acc, source := newAccessorOnSource(t)
	// Overwrite the leaf at path 1 without updating the index of key a.
	if err := source.SaveRecords(1, 2, nil, []LeafRecord{{Path: 1, Key: []byte("x")}}, nil); err != nil {
		t.Fatalf("failed to update source: %v", err)
	}
	if _, _, err := acc.FindLeafByKey([]byte("a"), false); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected corruption, got %v", err)
	}
}

func TestRecordAccessor_KeyIndexedOutsideOfRangeIsReportedAsCorruption(t *testing.T) {
	acc, _ := newAccessorOnSource(t)
	acc.layer.putPath([]byte("c"), 7)
	if _, _, err := acc.FindLeafByKey([]byte("c"), false); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected corruption, got %v", err)
	}
}

func TestRecordAccessor_SourceFailuresAreReportedAsPersistenceErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockDataSource(ctrl)
	injected := fmt.Errorf("injected")
	source.EXPECT().FindPath(gomock.Any()).Return(InvalidPath, false, injected)
	source.EXPECT().LoadLeafByPath(Path(1)).Return(LeafRecord{}, false, injected)
	source.EXPECT().LoadHash(Path(0)).Return(common.Hash{}, false, injected)

	acc := &recordAccessor{layer: newCacheLayer(1, nil), source: source, first: 1, last: 2}
	if _, _, err := acc.FindLeafByKey([]byte("a"), false); !errors.Is(err, ErrPersistence) || !errors.Is(err, injected) {
		t.Errorf("unexpected error %v", err)
	}
	if _, _, err := acc.FindLeafByPath(1, false); !errors.Is(err, ErrPersistence) {
		t.Errorf("unexpected error %v", err)
	}
	if _, _, err := acc.FindHash(0); !errors.Is(err, ErrPersistence) {
		t.Errorf("unexpected error %v", err)
	}
}
