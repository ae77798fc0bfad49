//go:build !cgo

package offset

import "errors"

// OpenRocksStore is only available in cgo builds: gorocksdb binds to the
// RocksDB C library. This stub keeps CGO_ENABLED=0 builds compiling.
func OpenRocksStore(string) (Store, error) {
	return nil, errors.New("offset: rocks store requires a cgo build (gorocksdb)")
}
