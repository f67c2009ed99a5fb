package streampool

import (
	"io"
	"strconv"
	"sync/atomic"
)

// Stream is the Stream View: a single linear byte sequence backed either by
// a chain of pooled Blocks or a single pooled LargeBuffer. It is not safe
// for concurrent use — only the Manager that produces it is (spec §5).
type Stream struct {
	id      StreamID
	tag     string
	manager *Manager

	allocationStack *CallStack
	disposeStack    *CallStack

	length   int64
	position int64

	blocks        [][]byte
	retiredBlocks [][]byte

	largeBuffer     []byte
	oldLargeBuffers [][]byte

	disposed atomic.Bool
}

// ID returns the stream's opaque 128-bit identifier.
func (s *Stream) ID() StreamID { return s.id }

// Tag returns the diagnostic tag the stream was created with.
func (s *Stream) Tag() string { return s.tag }

// String renders a short debug representation: id, tag, and length.
func (s *Stream) String() string {
	return "Stream{id=" + s.id.String() + " tag=" + strconv.Quote(s.tag) + " length=" + strconv.FormatInt(s.length, 10) + "}"
}

// Capacity returns the stream's current backing capacity: the active large
// buffer's length if one is installed, otherwise the block chain's total
// length.
func (s *Stream) Capacity() int64 {
	if s.largeBuffer != nil {
		return int64(len(s.largeBuffer))
	}
	return int64(len(s.blocks)) * s.manager.blockSize
}

// SetCapacity raises capacity to the smallest valid size >= value (a
// multiple of BlockSize while block-backed, of LargeBufferMultiple once
// large-buffer-backed). Values at or below the current capacity are a
// no-op. Fails with ErrCapacityExceeded, leaving state unchanged, if the
// rounded target exceeds a configured MaximumStreamCapacity.
func (s *Stream) SetCapacity(value int64) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if value <= s.Capacity() {
		return nil
	}
	return s.growTo(value, "SetCapacity")
}

// Length returns the stream's logical byte length.
func (s *Stream) Length() int64 { return s.length }

// SetLength sets the logical length, growing capacity as needed. If the
// current position exceeds the new length, position is clamped to it.
func (s *Stream) SetLength(v int64) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if v < 0 || v > maxStreamSize {
		return newError(ErrKindOutOfRange, "SetLength", "length must be within [0, 2^31-1]")
	}
	if v > s.Capacity() {
		if err := s.growTo(v, "SetLength"); err != nil {
			return err
		}
	}
	s.length = v
	if s.position > v {
		s.position = v
	}
	return nil
}

// Position returns the read/write cursor. It may exceed Length.
func (s *Stream) Position() int64 { return s.position }

// SetPosition sets the read/write cursor. Setting beyond Length is
// permitted and does not grow Length.
func (s *Stream) SetPosition(v int64) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if v < 0 || v > maxStreamSize {
		return newError(ErrKindOutOfRange, "SetPosition", "position must be within [0, 2^31-1]")
	}
	s.position = v
	return nil
}

// Seek implements io.Seeker. whence must be io.SeekStart, io.SeekCurrent,
// or io.SeekEnd; anything else fails with ErrInvalidOrigin. A negative
// target fails with ErrSeekBeforeBegin. Seeking beyond Length is
// permitted and does not modify Length.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.disposed.Load() {
		return 0, ErrDisposed
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.position
	case io.SeekEnd:
		base = s.length
	default:
		return 0, newError(ErrKindInvalidOrigin, "Seek", "unknown seek origin")
	}

	target := base + offset
	if target < 0 {
		return 0, newError(ErrKindSeekBeforeBegin, "Seek", "seek target precedes the start of the stream")
	}
	if target > maxStreamSize {
		return 0, newError(ErrKindOutOfRange, "Seek", "seek target exceeds 2^31-1")
	}
	s.position = target
	return target, nil
}

// Write copies count bytes from p[offset:offset+count] at the current
// position, growing capacity as needed, and advances position by count.
// If position+count would push length beyond 2^31-1, it fails with
// ErrStreamOverflow and leaves all state unchanged.
func (s *Stream) Write(p []byte, offset, count int) (int, error) {
	if s.disposed.Load() {
		return 0, ErrDisposed
	}
	if p == nil {
		return 0, newError(ErrKindNullInput, "Write", "buffer must not be nil")
	}
	if offset < 0 || count < 0 {
		return 0, newError(ErrKindOutOfRange, "Write", "offset and count must be non-negative")
	}
	if offset+count > len(p) {
		return 0, newError(ErrKindArgumentBounds, "Write", "offset+count exceeds buffer length")
	}
	if count == 0 {
		return 0, nil
	}
	target := s.position + int64(count)
	if target > maxStreamSize {
		return 0, newError(ErrKindStreamOverflow, "Write", "write would push length beyond 2^31-1")
	}

	if target > s.Capacity() {
		if err := s.growTo(target, "Write"); err != nil {
			return 0, err
		}
	}
	s.writeBytesAt(s.position, p[offset:offset+count])
	s.position = target
	if s.position > s.length {
		s.length = s.position
	}
	return count, nil
}

// WriteByte writes a single byte at the current position, advancing it by
// one. Capacity grows by exactly one Block or LargeBufferMultiple when the
// write crosses the current boundary.
func (s *Stream) WriteByte(b byte) error {
	_, err := s.Write([]byte{b}, 0, 1)
	return err
}

// Read copies up to count bytes from the current position into
// p[offset:offset+count], advancing position by the number of bytes
// copied. It returns 0 with no error, never an error, at or past the end
// of the stream (short reads are not a failure).
func (s *Stream) Read(p []byte, offset, count int) (int, error) {
	if s.disposed.Load() {
		return 0, ErrDisposed
	}
	if p == nil {
		return 0, newError(ErrKindNullInput, "Read", "buffer must not be nil")
	}
	if offset < 0 || count < 0 {
		return 0, newError(ErrKindOutOfRange, "Read", "offset and count must be non-negative")
	}
	if offset+count > len(p) {
		return 0, newError(ErrKindArgumentBounds, "Read", "offset+count exceeds buffer length")
	}

	avail := s.length - s.position
	if avail <= 0 || count == 0 {
		return 0, nil
	}
	n := int64(count)
	if n > avail {
		n = avail
	}
	s.readBytesAt(s.position, p[offset:offset+int(n)])
	s.position += n
	return int(n), nil
}

// ReadByte implements io.ByteReader. It returns io.EOF at the end of the
// stream — the idiomatic Go equivalent of the spec's "-1 at end" sentinel.
func (s *Stream) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := s.Read(buf[:], 0, 1)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return buf[0], nil
}

// GetBuffer returns a contiguous slice of length >= Length holding bytes
// [0, Length). If a large buffer already backs the stream it is returned
// directly (same array identity across calls with unchanged length).
// Otherwise, once the requested contiguous length exceeds one Block's
// capacity — or Capacity has already been raised above one Block — the
// stream is promoted to large-buffer backing (spec §9's resolution of the
// promotion-threshold open question).
func (s *Stream) GetBuffer() ([]byte, error) {
	if s.disposed.Load() {
		return nil, ErrDisposed
	}
	if s.largeBuffer != nil {
		return s.largeBuffer[:s.length], nil
	}
	if s.length > s.manager.blockSize || s.Capacity() > s.manager.blockSize {
		s.promoteToLargeBuffer()
		return s.largeBuffer[:s.length], nil
	}
	return s.blocks[0][:s.length], nil
}

// ToArray allocates a fresh, unpooled array of exactly Length bytes and
// copies the stream's content into it. The returned array never shares
// identity with a GetBuffer result.
func (s *Stream) ToArray() ([]byte, error) {
	if s.disposed.Load() {
		return nil, ErrDisposed
	}
	out := make([]byte, s.length)
	if s.largeBuffer != nil {
		copy(out, s.largeBuffer[:s.length])
		return out, nil
	}
	copyFromBlocks(out, s.blocks, s.manager.blockSize, s.length)
	return out, nil
}

// WriteTo implements io.WriterTo: it writes bytes [0, Length) to w without
// altering this stream's position.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	if s.disposed.Load() {
		return 0, ErrDisposed
	}
	if w == nil {
		return 0, newError(ErrKindNullInput, "WriteTo", "writer must not be nil")
	}
	if s.largeBuffer != nil {
		n, err := w.Write(s.largeBuffer[:s.length])
		return int64(n), err
	}
	var written int64
	remaining := s.length
	for _, b := range s.blocks {
		if remaining <= 0 {
			break
		}
		n := int64(len(b))
		if n > remaining {
			n = remaining
		}
		nn, err := w.Write(b[:n])
		written += int64(nn)
		if err != nil {
			return written, err
		}
		remaining -= n
	}
	return written, nil
}

// CanRead, CanSeek, and CanWrite all report whether the stream has not yet
// been disposed.
func (s *Stream) CanRead() bool  { return !s.disposed.Load() }
func (s *Stream) CanSeek() bool  { return !s.disposed.Load() }
func (s *Stream) CanWrite() bool { return !s.disposed.Load() }

// CanTimeout is always false: stream operations never block or time out.
func (s *Stream) CanTimeout() bool { return false }

// Dispose returns every buffer the stream holds back to its Manager and
// marks it terminal. It is idempotent in effect: a second call emits
// EventDoubleDispose to the Manager's sink and returns ErrDisposed as a
// no-op signal, rather than as a true failure.
func (s *Stream) Dispose() error {
	if s.disposed.Load() {
		s.manager.emit(Event{
			Kind:            EventDoubleDispose,
			Tag:             s.tag,
			AllocationStack: s.allocationStack,
			DisposeStack:    s.disposeStack,
		})
		return ErrDisposed
	}
	s.disposed.Store(true)
	if s.manager.Options().GenerateCallStacks {
		s.disposeStack = captureCallStack(1)
	}

	if len(s.blocks) > 0 {
		s.manager.ReturnBlocks(s.blocks, s.tag)
	}
	if len(s.retiredBlocks) > 0 {
		s.manager.ReturnBlocks(s.retiredBlocks, s.tag)
	}
	if s.largeBuffer != nil {
		s.manager.ReturnLargeBuffer(s.largeBuffer, s.tag)
	}
	for _, b := range s.oldLargeBuffers {
		s.manager.ReturnLargeBuffer(b, s.tag)
	}
	s.blocks = nil
	s.retiredBlocks = nil
	s.largeBuffer = nil
	s.oldLargeBuffers = nil

	s.manager.outstanding.Add(-1)
	s.manager.emit(Event{Kind: EventStreamDisposed, Tag: s.tag})
	return nil
}

// growTo raises capacity to the smallest valid size >= target, failing
// with ErrCapacityExceeded (state unchanged) if that exceeds a configured
// MaximumStreamCapacity.
func (s *Stream) growTo(target int64, op string) error {
	var rounded int64
	if s.largeBuffer != nil {
		rounded = roundUpMultiple(target, s.manager.largeBufferMultiple)
	} else {
		rounded = roundUpMultiple(target, s.manager.blockSize)
	}
	if maxCap := s.manager.Options().MaximumStreamCapacity; maxCap > 0 && rounded > maxCap {
		return newError(ErrKindCapacityExceeded, op, "capacity would exceed MaximumStreamCapacity")
	}
	if s.largeBuffer != nil {
		s.growLargeBuffer(rounded)
	} else {
		s.growBlocks(rounded)
	}
	return nil
}

// growBlocks appends Blocks until the block chain's capacity is >= target.
func (s *Stream) growBlocks(target int64) {
	cur := int64(len(s.blocks)) * s.manager.blockSize
	if target <= cur {
		return
	}
	need := (target - cur + s.manager.blockSize - 1) / s.manager.blockSize
	for i := int64(0); i < need; i++ {
		s.blocks = append(s.blocks, s.manager.GetBlock())
	}
}

// growLargeBuffer replaces the active large buffer with a new one of at
// least target bytes, copying over the first Length bytes. The old buffer
// is returned immediately (aggressive) or retained until Dispose
// (passive), per spec §5.
func (s *Stream) growLargeBuffer(target int64) {
	old := s.largeBuffer
	next := s.manager.GetLargeBuffer(target, s.tag)
	copy(next, old[:s.length])
	s.largeBuffer = next
	if s.manager.Options().AggressiveBufferReturn {
		s.manager.ReturnLargeBuffer(old, s.tag)
	} else {
		s.oldLargeBuffers = append(s.oldLargeBuffers, old)
	}
}

// promoteToLargeBuffer transitions the stream from block-backing to a
// single large buffer of size >= max(Length, BlockSize+1) rounded up to a
// multiple of LargeBufferMultiple (spec §4.2's GetBuffer contract). The
// displaced blocks are returned immediately (aggressive) or retained on
// the stream until Dispose (passive). Promotion is one-way: once a large
// buffer is active, further growth never reverts to blocks.
func (s *Stream) promoteToLargeBuffer() {
	minLen := s.length
	if s.manager.blockSize+1 > minLen {
		minLen = s.manager.blockSize + 1
	}
	size := roundUpMultiple(minLen, s.manager.largeBufferMultiple)
	next := s.manager.GetLargeBuffer(size, s.tag)
	copyFromBlocks(next, s.blocks, s.manager.blockSize, s.length)

	old := s.blocks
	s.blocks = nil
	s.largeBuffer = next
	if s.manager.Options().AggressiveBufferReturn {
		s.manager.ReturnBlocks(old, s.tag)
	} else {
		s.retiredBlocks = append(s.retiredBlocks, old...)
	}
}

// writeBytesAt copies data into the stream's backing storage starting at
// byte offset pos, spanning block boundaries as needed.
func (s *Stream) writeBytesAt(pos int64, data []byte) {
	if s.largeBuffer != nil {
		copy(s.largeBuffer[pos:], data)
		return
	}
	bs := s.manager.blockSize
	idx := pos / bs
	off := pos % bs
	remaining := data
	for len(remaining) > 0 {
		block := s.blocks[idx]
		n := int64(len(block)) - off
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		copy(block[off:], remaining[:n])
		remaining = remaining[n:]
		idx++
		off = 0
	}
}

// readBytesAt copies len(dst) bytes from the stream's backing storage
// starting at byte offset pos into dst, spanning block boundaries as
// needed. The caller guarantees pos+len(dst) <= Length.
func (s *Stream) readBytesAt(pos int64, dst []byte) {
	if s.largeBuffer != nil {
		copy(dst, s.largeBuffer[pos:])
		return
	}
	bs := s.manager.blockSize
	idx := pos / bs
	off := pos % bs
	remaining := dst
	for len(remaining) > 0 {
		block := s.blocks[idx]
		n := int64(len(block)) - off
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		copy(remaining[:n], block[off:off+n])
		remaining = remaining[n:]
		idx++
		off = 0
	}
}

// copyFromBlocks copies the first n bytes spanning blocks into dst.
func copyFromBlocks(dst []byte, blocks [][]byte, blockSize int64, n int64) {
	var copied int64
	for _, b := range blocks {
		if copied >= n {
			break
		}
		want := n - copied
		bs := int64(len(b))
		if want > bs {
			want = bs
		}
		copy(dst[copied:copied+want], b[:want])
		copied += want
	}
}
