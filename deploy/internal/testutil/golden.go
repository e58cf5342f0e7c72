// Package testutil provides shared test infrastructure for the deployment
// packages. It consolidates golden fixture loading used across deploy/ test
// packages, so wire-format tests compare against checked-in documents instead
// of string literals.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// LoadGolden reads a fixture from the repository's testdata directory.
// The path is resolved relative to this source file: deploy/internal/testutil/ → testdata/.
func LoadGolden(t *testing.T, name string) []byte {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from deploy/internal/testutil/ to repo root testdata/
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden fixture %s: %v", name, err)
	}
	return data
}
