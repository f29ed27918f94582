//go:build !unix

package bufferpool

import "errors"

type defaultMapper struct{}

func (defaultMapper) Map(fd, length int) ([]byte, error) {
	return nil, errors.New("shared memory mapping not supported on this platform")
}

func (defaultMapper) Unmap(data []byte) error { return nil }
