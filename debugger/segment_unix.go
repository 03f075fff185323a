//go:build unix

package debugger

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapSegment(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapSegment(data []byte) error {
	return unix.Munmap(data)
}
