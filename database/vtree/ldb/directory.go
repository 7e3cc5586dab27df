// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Fantom-foundation/vmap/backend/utils"
	"github.com/Fantom-foundation/vmap/common"
)

const (
	lockFileName     = "~lock"
	dirtyFileName    = "~dirty"
	metadataFileName = "meta.json"
	levelDbDirectory = "leveldb"

	// formatVersion is the version of the record encoding used in the
	// LevelDB instance. It is recorded in the metadata file.
	formatVersion = 1
)

// metadata is the content of the metadata file describing a data source
// directory.
type metadata struct {
	Format int
}

// lockDirectory acquires a lock on the given directory, creating it if
// needed. The lock needs to be released explicitly.
func lockDirectory(directory string) (common.LockFile, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, err
	}
	lock, err := common.CreateLockFile(filepath.Join(directory, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("unable to gain exclusive access to %s: %w", directory, err)
	}
	return lock, nil
}

// isDirty checks whether the given directory is marked as dirty. Data
// sources keep their directory marked while opened and only clear the mark
// when successfully closed.
func isDirty(directory string) (bool, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is not a directory", directory)
	}
	stat, err := os.Stat(filepath.Join(directory, dirtyFileName))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return !stat.IsDir(), err
}

func markDirty(directory string) error {
	return os.WriteFile(filepath.Join(directory, dirtyFileName), []byte{}, 0600)
}

func markClean(directory string) error {
	return os.Remove(filepath.Join(directory, dirtyFileName))
}

// checkMetadata verifies the metadata of the given directory, or creates it
// for directories not containing a data source yet.
func checkMetadata(directory string) error {
	file := filepath.Join(directory, metadataFileName)
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(filepath.Join(directory, levelDbDirectory)); err == nil {
			return fmt.Errorf("missing metadata file in %s", directory)
		}
		return utils.WriteJsonFile(file, metadata{Format: formatVersion})
	}
	meta, err := utils.ReadJsonFile[metadata](file)
	if err != nil {
		return fmt.Errorf("failed to read metadata of %s: %w", directory, err)
	}
	if meta.Format != formatVersion {
		return fmt.Errorf("unsupported format version %d in %s, supported is %d", meta.Format, directory, formatVersion)
	}
	return nil
}
