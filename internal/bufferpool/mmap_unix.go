//go:build unix

package bufferpool

import "golang.org/x/sys/unix"

type defaultMapper struct{}

func (defaultMapper) Map(fd, length int) ([]byte, error) {
	return unix.Mmap(fd, 0, length, unix.PROT_READ, unix.MAP_SHARED)
}

func (defaultMapper) Unmap(data []byte) error {
	return unix.Munmap(data)
}
