// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package sqlite provides a data source for virtual trees stored in a single
// SQLite file. It is primarily intended as a portable export format for
// detached snapshots.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/database/vtree"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// See https://github.com/mattn/go-sqlite3#connection-string
	kDefaultPragmas = map[string]string{
		"_journal_mode": "WAL",
		"_synchronous":  "NORMAL",
		"_cache_size":   "-65536", // abs(N*1024) = 64MB
		"_busy_timeout": "5000",
	}
)

// kMaxConnections bounds the connection pool. WAL mode lets readers on
// other connections proceed while a save holds the write transaction.
const kMaxConnections = 16

const (
	kCreateLeafTable    = "CREATE TABLE IF NOT EXISTS leaves (path INTEGER PRIMARY KEY, key BLOB NOT NULL, value BLOB NOT NULL, hash BLOB NOT NULL)"
	kCreateLeafKeyIndex = "CREATE UNIQUE INDEX IF NOT EXISTS leaves_by_key ON leaves (key)"
	kAddLeafStmt        = "INSERT OR REPLACE INTO leaves(path, key, value, hash) VALUES (?,?,?,?)"
	kGetLeafByPathStmt  = "SELECT key, value, hash FROM leaves WHERE path = ?"
	kGetLeafByKeyStmt   = "SELECT path, value, hash FROM leaves WHERE key = ?"
	kGetPathStmt        = "SELECT path FROM leaves WHERE key = ?"
	kDeleteLeafStmt     = "DELETE FROM leaves WHERE path = ?"
	kDeleteKeyStmt      = "DELETE FROM leaves WHERE key = ?"

	kCreateHashTable        = "CREATE TABLE IF NOT EXISTS hashes (path INTEGER PRIMARY KEY, hash BLOB NOT NULL)"
	kAddHashStmt            = "INSERT OR REPLACE INTO hashes(path, hash) VALUES (?,?)"
	kGetHashStmt            = "SELECT hash FROM hashes WHERE path = ?"
	kDeleteHashStmt         = "DELETE FROM hashes WHERE path = ?"
	kDeleteHashesBeyondStmt = "DELETE FROM hashes WHERE path > ?"

	kCreateBoundsTable = "CREATE TABLE IF NOT EXISTS bounds (id INTEGER PRIMARY KEY CHECK (id = 0), first INTEGER NOT NULL, last INTEGER NOT NULL)"
	kSetBoundsStmt     = "INSERT OR REPLACE INTO bounds(id, first, last) VALUES (0,?,?)"
	kGetBoundsStmt     = "SELECT first, last FROM bounds WHERE id = 0"
)

// Config defines the properties of a SQLite data source.
type Config struct {
	// File is the path of the database file. Created if missing.
	File string
	// Pragmas are connection string parameters of the SQLite driver, for
	// instance "_journal_mode": "WAL", applied to every connection of the
	// pool. Nil uses defaults suitable for bulk exports.
	Pragmas map[string]string
}

// Source is a vtree.DataSource storing records in a SQLite database. Each
// SaveRecords call is applied in a single transaction.
type Source struct {
	db                 *sql.DB
	addLeafStmt        *sql.Stmt
	getLeafByPathStmt  *sql.Stmt
	getLeafByKeyStmt   *sql.Stmt
	getPathStmt        *sql.Stmt
	deleteLeafStmt     *sql.Stmt
	deleteKeyStmt      *sql.Stmt
	addHashStmt        *sql.Stmt
	getHashStmt        *sql.Stmt
	deleteHashStmt     *sql.Stmt
	deleteHashesBeyond *sql.Stmt
	setBoundsStmt      *sql.Stmt
	boundsMutex        sync.RWMutex
	first, last        vtree.Path
	writeMutex         sync.Mutex
	closed             atomic.Bool
	beforeCommit       func() // test hook, called with the write transaction open
}

var _ vtree.DataSource = (*Source)(nil)

// Open opens or creates the SQLite data source described by the config.
func Open(config Config) (_ *Source, err error) {
	pragmas := config.Pragmas
	if pragmas == nil {
		pragmas = kDefaultPragmas
	}
	params := url.Values{}
	for name, value := range pragmas {
		params.Set(name, value)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", config.File, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SQLite; %w", vtree.ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, db.Close())
		}
	}()
	db.SetMaxOpenConns(kMaxConnections)
	db.SetMaxIdleConns(kMaxConnections)

	// Connection parameters are only evaluated when connecting.
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to SQLite with %v; %w", vtree.ErrPersistence, pragmas, err)
	}
	for _, stmt := range []string{kCreateLeafTable, kCreateLeafKeyIndex, kCreateHashTable, kCreateBoundsTable} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("%w: failed to create table; %w", vtree.ErrPersistence, err)
		}
	}

	res := &Source{db: db, first: vtree.InvalidPath, last: vtree.InvalidPath}
	statements := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&res.addLeafStmt, kAddLeafStmt},
		{&res.getLeafByPathStmt, kGetLeafByPathStmt},
		{&res.getLeafByKeyStmt, kGetLeafByKeyStmt},
		{&res.getPathStmt, kGetPathStmt},
		{&res.deleteLeafStmt, kDeleteLeafStmt},
		{&res.deleteKeyStmt, kDeleteKeyStmt},
		{&res.addHashStmt, kAddHashStmt},
		{&res.getHashStmt, kGetHashStmt},
		{&res.deleteHashStmt, kDeleteHashStmt},
		{&res.deleteHashesBeyond, kDeleteHashesBeyondStmt},
		{&res.setBoundsStmt, kSetBoundsStmt},
	}
	for _, cur := range statements {
		if *cur.stmt, err = db.Prepare(cur.query); err != nil {
			return nil, fmt.Errorf("%w: failed to prepare statement %q; %w", vtree.ErrPersistence, cur.query, err)
		}
	}

	err = db.QueryRow(kGetBoundsStmt).Scan(&res.first, &res.last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: failed to read leaf bounds; %w", vtree.ErrPersistence, err)
	}
	return res, nil
}

// blob makes sure empty byte slices are stored as empty blobs, not NULL.
func blob(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}

func (s *Source) LoadLeafByKey(key []byte) (vtree.LeafRecord, bool, error) {
	if s.closed.Load() {
		return vtree.LeafRecord{}, false, vtree.ErrClosed
	}
	var path int64
	var value, hash []byte
	err := s.getLeafByKeyStmt.QueryRow(blob(key)).Scan(&path, &value, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return vtree.LeafRecord{}, false, nil
	}
	if err != nil {
		return vtree.LeafRecord{}, false, fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return toLeaf(vtree.Path(path), key, value, hash)
}

func (s *Source) LoadLeafByPath(path vtree.Path) (vtree.LeafRecord, bool, error) {
	if s.closed.Load() {
		return vtree.LeafRecord{}, false, vtree.ErrClosed
	}
	var key, value, hash []byte
	err := s.getLeafByPathStmt.QueryRow(int64(path)).Scan(&key, &value, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return vtree.LeafRecord{}, false, nil
	}
	if err != nil {
		return vtree.LeafRecord{}, false, fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return toLeaf(path, key, value, hash)
}

func toLeaf(path vtree.Path, key, value, hash []byte) (vtree.LeafRecord, bool, error) {
	res := vtree.LeafRecord{Path: path, Key: blob(key), Value: value}
	var ok bool
	if res.Hash, ok = common.HashFromBytes(hash); !ok {
		return vtree.LeafRecord{}, false, fmt.Errorf("%w: invalid hash of leaf at %v", vtree.ErrCorruption, path)
	}
	return res, true, nil
}

func (s *Source) LoadHash(path vtree.Path) (common.Hash, bool, error) {
	if s.closed.Load() {
		return common.Hash{}, false, vtree.ErrClosed
	}
	var data []byte
	err := s.getHashStmt.QueryRow(int64(path)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	hash, ok := common.HashFromBytes(data)
	if !ok {
		return common.Hash{}, false, fmt.Errorf("%w: invalid hash encoding at %v", vtree.ErrCorruption, path)
	}
	return hash, true, nil
}

func (s *Source) FindPath(key []byte) (vtree.Path, bool, error) {
	if s.closed.Load() {
		return vtree.InvalidPath, false, vtree.ErrClosed
	}
	var path int64
	err := s.getPathStmt.QueryRow(blob(key)).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return vtree.InvalidPath, false, nil
	}
	if err != nil {
		return vtree.InvalidPath, false, fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return vtree.Path(path), true, nil
}

func (s *Source) LeafPathRange() (vtree.Path, vtree.Path, error) {
	if s.closed.Load() {
		return vtree.InvalidPath, vtree.InvalidPath, vtree.ErrClosed
	}
	s.boundsMutex.RLock()
	defer s.boundsMutex.RUnlock()
	return s.first, s.last, nil
}

func (s *Source) SaveRecords(first, last vtree.Path, hashes []vtree.HashRecord, upserts []vtree.LeafRecord, deletes []vtree.LeafRecord) (err error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed.Load() {
		return vtree.ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to start transaction; %w", vtree.ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); !errors.Is(rollbackErr, sql.ErrTxDone) {
				err = errors.Join(err, rollbackErr)
			}
		}
	}()

	bound := map[*sql.Stmt]*sql.Stmt{}
	exec := func(stmt *sql.Stmt, args ...any) {
		if err != nil {
			return
		}
		txStmt, found := bound[stmt]
		if !found {
			txStmt = tx.Stmt(stmt)
			bound[stmt] = txStmt
		}
		_, err = txStmt.Exec(args...)
	}
	for _, record := range deletes {
		if record.Path.IsValid() {
			exec(s.deleteLeafStmt, int64(record.Path))
			exec(s.deleteHashStmt, int64(record.Path))
		}
		if record.Key != nil {
			exec(s.deleteKeyStmt, record.Key)
		}
	}
	for _, record := range upserts {
		exec(s.addLeafStmt, int64(record.Path), blob(record.Key), blob(record.Value), record.Hash[:])
	}
	for _, record := range hashes {
		exec(s.addHashStmt, int64(record.Path), record.Hash[:])
	}
	exec(s.deleteHashesBeyond, int64(last))
	exec(s.setBoundsStmt, int64(first), int64(last))
	if err != nil {
		return fmt.Errorf("%w: failed to write records; %w", vtree.ErrPersistence, err)
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit records; %w", vtree.ErrPersistence, err)
	}

	s.boundsMutex.Lock()
	s.first, s.last = first, last
	s.boundsMutex.Unlock()
	return nil
}

func (s *Source) GetMemoryFootprint() *common.MemoryFootprint {
	return common.NewMemoryFootprint(unsafe.Sizeof(*s))
}

func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return vtree.ErrClosed
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %w", vtree.ErrPersistence, err)
	}
	return nil
}
