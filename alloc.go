package streampool

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// mmapAlloc allocates size bytes of anonymous, zero-filled memory outside
// the Go heap via mmap, so recycled Blocks and LargeBuffers never add to
// the large-object-heap the spec's purpose section calls out. It panics on
// failure, matching the teacher's own chunk_pool.go allocator, which treats
// an mmap failure as unrecoverable rather than a pool-level error.
func mmapAlloc(size int) []byte {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		panic(fmt.Errorf("streampool: cannot mmap %d bytes: %w", size, err))
	}
	return b
}

// mmapFree releases a buffer obtained from mmapAlloc. It is called when a
// pool's free-size cap discards a returned buffer, or when an oversize
// buffer (never pooled) is returned. Failures are logged, not propagated:
// by the time a buffer is discarded its caller has already moved on.
func mmapFree(logger *slog.Logger, b []byte) {
	if len(b) == 0 {
		return
	}
	if err := unix.Munmap(b); err != nil {
		logger.Error("streampool: munmap failed", "error", err, "size", len(b))
	}
}
