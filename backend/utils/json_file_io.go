// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ReadJsonFile reads a JSON file and unmarshals it into a value of type T.
// Unknown fields are rejected, so files written by incompatible versions
// are detected.
func ReadJsonFile[T any](file string) (T, error) {
	var res T
	data, err := os.Open(file)
	if err != nil {
		return res, err
	}
	defer data.Close()
	decoder := json.NewDecoder(data)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&res); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid content of %s: %w", file, err)
	}
	return res, nil
}

// WriteJsonFile marshals a value of type T into a JSON file. The file is
// replaced atomically; readers never observe partially written content.
func WriteJsonFile[T any](file string, data T) error {
	content, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(content)
	err = errors.Join(err, tmp.Sync(), tmp.Close())
	if err == nil {
		err = os.Rename(tmp.Name(), file)
	}
	if err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	return nil
}
