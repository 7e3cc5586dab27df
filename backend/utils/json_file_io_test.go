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
	"os"
	"path/filepath"
	"testing"
)

type testMetadata struct {
	Format  int
	Comment string
}

func TestJsonFile_WrittenDataCanBeRead(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	want := testMetadata{Format: 1, Comment: "test"}
	if err := WriteJsonFile(file, want); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if got := string(data); got != `{"Format":1,"Comment":"test"}` {
		t.Errorf("unexpected file content %s", got)
	}
	got, err := ReadJsonFile[testMetadata](file)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if got != want {
		t.Errorf("unexpected content, wanted %v, got %v", want, got)
	}
}

func TestReadJsonFile_MissingFileIsReported(t *testing.T) {
	if _, err := ReadJsonFile[testMetadata](filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Errorf("expected missing file error, got %v", err)
	}
}

func TestReadJsonFile_InvalidContentIsReported(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	if err := os.WriteFile(file, []byte(`{"Format":"one"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJsonFile[testMetadata](file); err == nil {
		t.Errorf("expected a decoding error")
	}
}

func TestWriteJsonFile_UnencodableDataIsReported(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	if err := WriteJsonFile(file, make(chan bool)); err == nil {
		t.Errorf("expected an encoding error")
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("no file should be written")
	}
}

func TestReadJsonFile_UnknownFieldsAreRejected(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	if err := os.WriteFile(file, []byte(`{"Format":1,"Layout":"other"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJsonFile[testMetadata](file); err == nil {
		t.Errorf("expected unknown fields to be rejected")
	}
}

func TestWriteJsonFile_ReplacesContentWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "meta.json")
	for i := 1; i <= 3; i++ {
		if err := WriteJsonFile(file, testMetadata{Format: i}); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	got, err := ReadJsonFile[testMetadata](file)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if got.Format != 3 {
		t.Errorf("unexpected content %v", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWriteJsonFile_MissingDirectoryIsReported(t *testing.T) {
	if err := WriteJsonFile(filepath.Join(t.TempDir(), "missing", "meta.json"), testMetadata{}); err == nil {
		t.Errorf("expected an error for a missing directory")
	}
}
