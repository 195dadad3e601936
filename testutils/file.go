// Package testutils contains helpers shared by framedetect tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// WriteFile writes content to dir/name and fails the test if it cannot.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

// FileURI returns the file:// URI of path.
func FileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}
