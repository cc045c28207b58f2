// Package diskspace answers how much room a local filesystem has left, so
// writes with a known size can fail fast instead of dying on ENOSPC halfway
// through.
package diskspace

import (
	"github.com/portagehq/portage/internal/errdefs"
)

// headroom is the fraction of the requested size kept free on top of the
// bytes themselves, covering block rounding and sidecar writes.
const headroom = 0.05

// Check reports whether dir's filesystem can hold need more bytes plus
// headroom. Filesystems that cannot be measured (network mounts, virtual
// filesystems) pass the check and fail naturally on write instead.
func Check(dir string, need int64) error {
	if need <= 0 {
		return nil
	}
	avail, ok := availableBytes(dir)
	if !ok {
		return nil
	}
	padded := int64(float64(need) * (1 + headroom))
	if avail < padded {
		return errdefs.StorageFull("not enough space: %d bytes needed, %d available", padded, avail)
	}
	return nil
}

// Available returns the bytes available to unprivileged writers on dir's
// filesystem, or 0 when it cannot be determined.
func Available(dir string) int64 {
	avail, _ := availableBytes(dir)
	return avail
}
