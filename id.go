package streampool

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// StreamID is the opaque 128-bit identifier assigned to every Stream. It is
// derived, not random: a process-lifetime nonce (hashed once at package
// init) folded together with a monotonic counter and the stream's tag via
// xxhash, a fast, non-cryptographic hash.
type StreamID struct {
	Hi uint64
	Lo uint64
}

// String renders the id as 32 lowercase hex digits.
func (id StreamID) String() string {
	var buf [32]byte
	writeHex(buf[:16], id.Hi)
	writeHex(buf[16:], id.Lo)
	return string(buf[:])
}

const hexDigits = "0123456789abcdef"

func writeHex(dst []byte, v uint64) {
	for i := 0; i < 16; i++ {
		shift := uint(60 - 4*i)
		dst[i] = hexDigits[(v>>shift)&0xf]
	}
}

var (
	idCounter atomic.Uint64
	idNonce   = processNonce()
)

func processNonce() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	return xxhash.Sum64(buf[:])
}

// newStreamID derives a fresh, unique StreamID for a stream tagged tag.
func newStreamID(tag string) StreamID {
	n := idCounter.Add(1)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return StreamID{
		Hi: xxhash.Sum64String(tag) ^ idNonce,
		Lo: xxhash.Sum64(buf[:]) ^ bits.RotateLeft64(idNonce, 17),
	}
}
