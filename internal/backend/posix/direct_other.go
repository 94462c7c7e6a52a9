//go:build !linux

package posix

func directFlag() (int, bool) {
	return 0, false
}
