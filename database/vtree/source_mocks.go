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
	reflect "reflect"

	common "github.com/Fantom-foundation/vmap/common"
	gomock "go.uber.org/mock/gomock"
)

// MockDataSource is a mock of DataSource interface.
type MockDataSource struct {
	ctrl     *gomock.Controller
	recorder *MockDataSourceMockRecorder
}

// MockDataSourceMockRecorder is the mock recorder for MockDataSource.
type MockDataSourceMockRecorder struct {
	mock *MockDataSource
}

// NewMockDataSource creates a new mock instance.
func NewMockDataSource(ctrl *gomock.Controller) *MockDataSource {
	mock := &MockDataSource{ctrl: ctrl}
	mock.recorder = &MockDataSourceMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockDataSource) EXPECT() *MockDataSourceMockRecorder {
	return m.recorder
}

// Close mocks base method.
func (m *MockDataSource) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockDataSourceMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockDataSource)(nil).Close))
}

// FindPath mocks base method.
func (m *MockDataSource) FindPath(key []byte) (Path, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FindPath", key)
	ret0, _ := ret[0].(Path)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// FindPath indicates an expected call of FindPath.
func (mr *MockDataSourceMockRecorder) FindPath(key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FindPath", reflect.TypeOf((*MockDataSource)(nil).FindPath), key)
}

// GetMemoryFootprint mocks base method.
func (m *MockDataSource) GetMemoryFootprint() *common.MemoryFootprint {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetMemoryFootprint")
	ret0, _ := ret[0].(*common.MemoryFootprint)
	return ret0
}

// GetMemoryFootprint indicates an expected call of GetMemoryFootprint.
func (mr *MockDataSourceMockRecorder) GetMemoryFootprint() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetMemoryFootprint", reflect.TypeOf((*MockDataSource)(nil).GetMemoryFootprint))
}

// LeafPathRange mocks base method.
func (m *MockDataSource) LeafPathRange() (Path, Path, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LeafPathRange")
	ret0, _ := ret[0].(Path)
	ret1, _ := ret[1].(Path)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// LeafPathRange indicates an expected call of LeafPathRange.
func (mr *MockDataSourceMockRecorder) LeafPathRange() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LeafPathRange", reflect.TypeOf((*MockDataSource)(nil).LeafPathRange))
}

// LoadHash mocks base method.
func (m *MockDataSource) LoadHash(path Path) (common.Hash, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LoadHash", path)
	ret0, _ := ret[0].(common.Hash)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// LoadHash indicates an expected call of LoadHash.
func (mr *MockDataSourceMockRecorder) LoadHash(path any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LoadHash", reflect.TypeOf((*MockDataSource)(nil).LoadHash), path)
}

// LoadLeafByKey mocks base method.
func (m *MockDataSource) LoadLeafByKey(key []byte) (LeafRecord, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LoadLeafByKey", key)
	ret0, _ := ret[0].(LeafRecord)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// LoadLeafByKey indicates an expected call of LoadLeafByKey.
func (mr *MockDataSourceMockRecorder) LoadLeafByKey(key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LoadLeafByKey", reflect.TypeOf((*MockDataSource)(nil).LoadLeafByKey), key)
}

// LoadLeafByPath mocks base method.
func (m *MockDataSource) LoadLeafByPath(path Path) (LeafRecord, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LoadLeafByPath", path)
	ret0, _ := ret[0].(LeafRecord)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// LoadLeafByPath indicates an expected call of LoadLeafByPath.
func (mr *MockDataSourceMockRecorder) LoadLeafByPath(path any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LoadLeafByPath", reflect.TypeOf((*MockDataSource)(nil).LoadLeafByPath), path)
}

// SaveRecords mocks base method.
func (m *MockDataSource) SaveRecords(first, last Path, hashes []HashRecord, upserts, deletes []LeafRecord) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SaveRecords", first, last, hashes, upserts, deletes)
	ret0, _ := ret[0].(error)
	return ret0
}

// SaveRecords indicates an expected call of SaveRecords.
func (mr *MockDataSourceMockRecorder) SaveRecords(first, last, hashes, upserts, deletes any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SaveRecords", reflect.TypeOf((*MockDataSource)(nil).SaveRecords), first, last, hashes, upserts, deletes)
}
