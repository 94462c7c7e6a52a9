//go:build linux

package posix

import "golang.org/x/sys/unix"

func directFlag() (int, bool) {
	return unix.O_DIRECT, true
}
