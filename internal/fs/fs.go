package fs

import (
	"io/fs"
	"testing/fstest"
)

// MapFS builds an in-memory fs.FS from a path -> contents map. It is used
// by the migrations package to feed generated SQL to golang-migrate, and by
// tests to stand in for a checked-out working tree.
func MapFS(m map[string]string) fs.FS {
	m0 := make(map[string]*fstest.MapFile, len(m))
	for p, f := range m {
		m0[p] = &fstest.MapFile{Data: []byte(f)}
	}
	return fstest.MapFS(m0)
}
