//go:build !windows

package diskspace

import "syscall"

// availableBytes stats the filesystem holding dir. Bavail is what non-root
// writers can actually use, which is less than total free on filesystems
// with reserved blocks.
func availableBytes(dir string) (int64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
