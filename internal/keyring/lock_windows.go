//go:build windows

package keyring

import "os"

// lockFile is a no-op on Windows. Concurrent first runs may race to create
// the key file; File.Set never overwrites, and GetOrCreate re-reads, so the
// first writer's key wins.
func lockFile(_ *os.File) (unlock func(), err error) {
	return func() {}, nil
}
