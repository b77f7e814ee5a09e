//go:build !windows

package keyring

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive flock on f and returns its release.
func lockFile(f *os.File) (unlock func(), err error) {
	fd := int(f.Fd())
	for {
		err = unix.Flock(fd, unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
