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
	"errors"
	"fmt"
	"os"
)

// LockFile marks the exclusive ownership of a resource shared between
// processes by the existence of a file. Locks are not released when a
// process terminates without releasing them.
type LockFile interface {
	// Release removes the lock file. A lock may only be released once.
	Release() error
	// Valid reports whether the lock is still held.
	Valid() bool
}

type lockFile struct {
	path string
	file *os.File
}

// CreateLockFile atomically creates a file at the given path and holds it
// as a lock. It fails if the file already exists.
func CreateLockFile(path string) (LockFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return &lockFile{path: path, file: file}, nil
}

func (f *lockFile) Valid() bool {
	return f.file != nil
}

func (f *lockFile) Release() error {
	if f.file == nil {
		return fmt.Errorf("unable to release invalid lock")
	}
	err := errors.Join(f.file.Close(), os.Remove(f.path))
	f.file = nil
	if err != nil {
		return fmt.Errorf("failed to release file lock: %w", err)
	}
	return nil
}
