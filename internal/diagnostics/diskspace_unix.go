//go:build !windows

package diagnostics

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func diskFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	if stat.Bsize <= 0 {
		return 0, fmt.Errorf("diagnostics: invalid block size %d", stat.Bsize)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
