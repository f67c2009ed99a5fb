// Package streampool implements a pooled byte-buffer stream allocator: a
// Manager recycles fixed-size Blocks and quantized LargeBuffers behind a
// seekable Stream, eliminating the large-object-heap churn that otherwise
// comes from allocating many transient in-memory byte buffers.
package streampool

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// maxStreamSize is 2^31-1, the ceiling on Stream length, position, and
// capacity per spec §3 invariant 1.
const maxStreamSize = 1<<31 - 1

// Manager is the Pool Manager: it owns the small-block pool and the
// size-classed large-buffer pool, and is the only component in this
// package safe for concurrent use by multiple goroutines (spec §5).
type Manager struct {
	blockSize           int64
	largeBufferMultiple int64
	maximumBufferSize   int64
	numClasses          int64

	logger *slog.Logger
	sink   EventSink

	optsMu sync.RWMutex
	opts   Options

	smallMu        sync.Mutex
	smallFree      *deque.Deque[[]byte]
	smallFreeSize  atomic.Int64
	smallInUseSize atomic.Int64

	largeMu        sync.Mutex
	largeFree      []*deque.Deque[[]byte]
	largeFreeSize  atomic.Int64
	largeInUseSize atomic.Int64

	outstanding atomic.Int64
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithLogger overrides the Manager's diagnostic logger (default
// slog.Default()).
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSink overrides the Manager's EventSink (default NopSink).
func WithSink(s EventSink) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithOptions sets the Manager's initial mutable Options. The options are
// validated at construction time along with the fixed parameters.
func WithOptions(o Options) ManagerOption {
	return func(m *Manager) { m.opts = o }
}

// NewManager constructs a Pool Manager for Blocks of exactly blockSize
// bytes and LargeBuffers quantized to largeBufferMultiple, capped at
// maximumBufferSize. It fails with ErrInvalidConfiguration if blockSize <=
// 0, largeBufferMultiple <= 0, maximumBufferSize < blockSize, or
// maximumBufferSize is not a multiple of largeBufferMultiple (spec §4.1).
func NewManager(blockSize, largeBufferMultiple, maximumBufferSize int64, opts ...ManagerOption) (*Manager, error) {
	var errs []error
	if blockSize <= 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "NewManager", "BlockSize must be > 0"))
	}
	if largeBufferMultiple <= 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "NewManager", "LargeBufferMultiple must be > 0"))
	}
	if largeBufferMultiple > 0 && maximumBufferSize < blockSize {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "NewManager", "MaximumBufferSize must be >= BlockSize"))
	}
	if largeBufferMultiple > 0 && maximumBufferSize%largeBufferMultiple != 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "NewManager", "MaximumBufferSize must be a multiple of LargeBufferMultiple"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	numClasses := maximumBufferSize / largeBufferMultiple
	m := &Manager{
		blockSize:           blockSize,
		largeBufferMultiple: largeBufferMultiple,
		maximumBufferSize:   maximumBufferSize,
		numClasses:          numClasses,
		logger:              slog.Default(),
		sink:                NopSink,
		smallFree:           deque.New[[]byte](),
		largeFree:           make([]*deque.Deque[[]byte], numClasses),
	}
	for i := range m.largeFree {
		m.largeFree[i] = deque.New[[]byte]()
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.opts.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) emit(e Event) {
	if m.sink != nil {
		m.sink.Emit(e)
	}
}

// Options returns the Manager's current mutable runtime options.
func (m *Manager) Options() Options {
	m.optsMu.RLock()
	defer m.optsMu.RUnlock()
	return m.opts
}

// SetOptions validates and installs new runtime options.
func (m *Manager) SetOptions(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	m.optsMu.Lock()
	m.opts = o
	m.optsMu.Unlock()
	return nil
}

// BlockSize returns the fixed size of every Block this Manager hands out.
func (m *Manager) BlockSize() int64 { return m.blockSize }

// LargeBufferMultiple returns the quantization unit for LargeBuffers.
func (m *Manager) LargeBufferMultiple() int64 { return m.largeBufferMultiple }

// MaximumBufferSize returns the largest LargeBuffer size this Manager
// pools; requests above it are served as unpooled oversize buffers.
func (m *Manager) MaximumBufferSize() int64 { return m.maximumBufferSize }

// SmallPoolInUseSize returns the bytes currently checked out of the small
// pool.
func (m *Manager) SmallPoolInUseSize() int64 { return m.smallInUseSize.Load() }

// SmallPoolFreeSize returns the bytes currently retained in the small
// pool's free list.
func (m *Manager) SmallPoolFreeSize() int64 { return m.smallFreeSize.Load() }

// LargePoolInUseSize returns the bytes currently checked out of the large
// pool, across all size classes, including oversize buffers.
func (m *Manager) LargePoolInUseSize() int64 { return m.largeInUseSize.Load() }

// LargePoolFreeSize returns the bytes currently retained in the large
// pool's free lists, across all size classes.
func (m *Manager) LargePoolFreeSize() int64 { return m.largeFreeSize.Load() }

// SmallBlocksFree returns the count of Blocks currently sitting in the
// small pool's free list.
func (m *Manager) SmallBlocksFree() int64 {
	m.smallMu.Lock()
	defer m.smallMu.Unlock()
	return int64(m.smallFree.Len())
}

// LargeBuffersFree returns the count of LargeBuffers currently sitting in
// the large pool's free lists, summed across every size class.
func (m *Manager) LargeBuffersFree() int64 {
	m.largeMu.Lock()
	defer m.largeMu.Unlock()
	var n int64
	for _, dq := range m.largeFree {
		n += int64(dq.Len())
	}
	return n
}

// Outstanding returns the number of Streams allocated by this Manager that
// have not yet been disposed — the debug-build leak counter spec §9 asks
// for as the substitute for finalizer-driven diagnostics.
func (m *Manager) Outstanding() int64 { return m.outstanding.Load() }

// GetBlock returns a Block of exactly BlockSize bytes, popping the most
// recently returned one from the free list (for cache warmth) or
// allocating a fresh one. A block popped from the free list is zeroed
// before being handed out, since it may still carry content a previous,
// now-disposed Stream wrote into it. It never fails aside from host OOM.
func (m *Manager) GetBlock() []byte {
	m.smallMu.Lock()
	var b []byte
	if m.smallFree.Len() > 0 {
		b = m.smallFree.PopBack()
		m.smallFreeSize.Add(-m.blockSize)
	}
	m.smallMu.Unlock()

	if b == nil {
		b = mmapAlloc(int(m.blockSize))
		m.emit(Event{Kind: EventBlockCreated, ActualSize: int(m.blockSize)})
	} else {
		clear(b)
	}
	m.smallInUseSize.Add(m.blockSize)
	return b
}

// ReturnBlocks returns a sequence of Blocks to the small pool. It fails
// with ErrNullInput if blocks is nil, or ErrWrongSizedBuffer if any
// element's length is not exactly BlockSize. Blocks are pushed back in
// iteration order; once the free-size cap is reached, remaining blocks are
// discarded (unmapped) and an EventBlockDiscarded is emitted for each.
func (m *Manager) ReturnBlocks(blocks [][]byte, tag string) error {
	if blocks == nil {
		return newError(ErrKindNullInput, "ReturnBlocks", "blocks must not be nil")
	}
	for _, b := range blocks {
		if int64(len(b)) != m.blockSize {
			return newError(ErrKindWrongSizedBuffer, "ReturnBlocks", "block length does not match BlockSize")
		}
	}

	m.smallInUseSize.Add(-m.blockSize * int64(len(blocks)))
	maxFree := m.Options().MaximumFreeSmallPoolBytes
	for _, b := range blocks {
		m.smallMu.Lock()
		cur := m.smallFreeSize.Load()
		if maxFree == 0 || cur+m.blockSize <= maxFree {
			m.smallFree.PushBack(b)
			m.smallFreeSize.Add(m.blockSize)
			m.smallMu.Unlock()
			m.emit(Event{Kind: EventBlockReturned, Tag: tag, ActualSize: int(m.blockSize)})
		} else {
			m.smallMu.Unlock()
			mmapFree(m.logger, b)
			m.emit(Event{Kind: EventBlockDiscarded, Tag: tag, ActualSize: int(m.blockSize)})
		}
	}
	return nil
}

// GetLargeBuffer returns a LargeBuffer of length equal to the smallest
// positive multiple of LargeBufferMultiple that is >= minSize. Requests
// whose rounded size exceeds MaximumBufferSize are served as unpooled
// oversize buffers. A buffer popped from a size class's free list is
// zeroed before being handed out, since it may still carry content a
// previous, now-disposed Stream wrote into it. It never fails aside from
// host OOM.
func (m *Manager) GetLargeBuffer(minSize int64, tag string) []byte {
	requested := roundUpMultiple(minSize, m.largeBufferMultiple)

	if requested > m.maximumBufferSize {
		b := mmapAlloc(int(requested))
		m.largeInUseSize.Add(requested)
		m.emit(Event{Kind: EventLargeBufferCreatedOversize, Tag: tag, RequestedSize: int(minSize), ActualSize: int(requested)})
		return b
	}

	class := requested/m.largeBufferMultiple - 1
	m.largeMu.Lock()
	var b []byte
	if m.largeFree[class].Len() > 0 {
		b = m.largeFree[class].PopBack()
		m.largeFreeSize.Add(-requested)
	}
	m.largeMu.Unlock()

	if b == nil {
		b = mmapAlloc(int(requested))
		m.emit(Event{Kind: EventLargeBufferCreated, Tag: tag, RequestedSize: int(minSize), ActualSize: int(requested)})
	} else {
		clear(b)
	}
	m.largeInUseSize.Add(requested)
	return b
}

// ReturnLargeBuffer returns a LargeBuffer to the large pool. It fails with
// ErrNullInput if buffer is nil, or ErrWrongSizedBuffer if its length is
// zero or not a multiple of LargeBufferMultiple. Oversize buffers (length
// > MaximumBufferSize) are always discarded, never pooled. Returning a
// buffer whose length is a valid multiple but was never issued by this
// Manager is tolerated and simply added to its size class's free list —
// that is the caller's responsibility to avoid (spec §9).
func (m *Manager) ReturnLargeBuffer(buffer []byte, tag string) error {
	if buffer == nil {
		return newError(ErrKindNullInput, "ReturnLargeBuffer", "buffer must not be nil")
	}
	n := int64(len(buffer))
	if n == 0 || n%m.largeBufferMultiple != 0 {
		return newError(ErrKindWrongSizedBuffer, "ReturnLargeBuffer", "buffer length is not a positive multiple of LargeBufferMultiple")
	}

	m.largeInUseSize.Add(-n)

	if n > m.maximumBufferSize {
		mmapFree(m.logger, buffer)
		m.emit(Event{Kind: EventLargeBufferDiscarded, Tag: tag, ActualSize: int(n)})
		return nil
	}

	class := n/m.largeBufferMultiple - 1
	maxFree := m.Options().MaximumFreeLargePoolBytes
	m.largeMu.Lock()
	cur := m.largeFreeSize.Load()
	if maxFree == 0 || cur+n <= maxFree {
		m.largeFree[class].PushBack(buffer)
		m.largeFreeSize.Add(n)
		m.largeMu.Unlock()
		m.emit(Event{Kind: EventLargeBufferReturned, Tag: tag, ActualSize: int(n)})
	} else {
		m.largeMu.Unlock()
		mmapFree(m.logger, buffer)
		m.emit(Event{Kind: EventLargeBufferDiscarded, Tag: tag, ActualSize: int(n)})
	}
	return nil
}

// StreamOption configures a Stream at GetStream time.
type StreamOption func(*streamParams)

type streamParams struct {
	tag                     string
	requiredSize            int64
	asContiguousLargeBuffer bool
}

// WithTag attaches a diagnostic tag to the stream.
func WithTag(tag string) StreamOption {
	return func(p *streamParams) { p.tag = tag }
}

// WithRequiredSize seeds the stream with at least this much capacity.
func WithRequiredSize(n int64) StreamOption {
	return func(p *streamParams) { p.requiredSize = n }
}

// AsContiguousLargeBuffer requests that, when requiredSize exceeds
// BlockSize, the stream be seeded directly with a single LargeBuffer
// instead of a chain of Blocks.
func AsContiguousLargeBuffer() StreamOption {
	return func(p *streamParams) { p.asContiguousLargeBuffer = true }
}

// GetStream allocates a Stream with capacity >= max(BlockSize,
// requiredSize). By default it is seeded with the smallest number of
// Blocks that covers requiredSize (BlockSize if unspecified); with
// AsContiguousLargeBuffer and a requiredSize greater than BlockSize, it is
// seeded with a single LargeBuffer instead (spec §4.1).
func (m *Manager) GetStream(opts ...StreamOption) *Stream {
	var p streamParams
	for _, o := range opts {
		o(&p)
	}
	target := p.requiredSize
	if target < m.blockSize {
		target = m.blockSize
	}

	s := m.newStream(p.tag)
	if p.asContiguousLargeBuffer && p.requiredSize > m.blockSize {
		s.largeBuffer = m.GetLargeBuffer(target, p.tag)
	} else {
		s.growBlocks(target)
	}
	return s
}

// GetStreamFromBytes returns a Stream whose initial content is a copy of
// source[offset:offset+count]; position is 0, length is count. source is
// never retained.
func (m *Manager) GetStreamFromBytes(tag string, source []byte, offset, count int) (*Stream, error) {
	if offset < 0 || count < 0 {
		return nil, newError(ErrKindOutOfRange, "GetStreamFromBytes", "offset and count must be non-negative")
	}
	if offset+count > len(source) {
		return nil, newError(ErrKindArgumentBounds, "GetStreamFromBytes", "offset+count exceeds source length")
	}

	s := m.GetStream(WithTag(tag), WithRequiredSize(int64(count)))
	if count > 0 {
		if _, err := s.Write(source[offset:offset+count], 0, count); err != nil {
			s.Dispose()
			return nil, err
		}
	}
	s.position = 0
	return s, nil
}

func (m *Manager) newStream(tag string) *Stream {
	m.outstanding.Add(1)
	s := &Stream{
		id:      newStreamID(tag),
		tag:     tag,
		manager: m,
	}
	if m.Options().GenerateCallStacks {
		s.allocationStack = captureCallStack(1)
		runtime.SetFinalizer(s, finalizeStream)
	}
	m.emit(Event{Kind: EventStreamAllocated, Tag: tag})
	return s
}

// finalizeStream is attached as a GC finalizer only when GenerateCallStacks
// is enabled (spec §9's substitute for language-level finalizers): it never
// returns the stream's buffers — by the time it runs nothing could have
// disposed it anyway — it only reports the leak.
func finalizeStream(s *Stream) {
	if !s.disposed.Load() {
		s.manager.emit(Event{
			Kind:            EventStreamLeaked,
			Tag:             s.tag,
			AllocationStack: s.allocationStack,
		})
	}
}

// roundUpMultiple rounds n up to the next positive multiple of multiple.
// Non-positive n rounds up to multiple itself, the smallest positive
// multiple, matching spec §4.1's "round minSize up to the next positive
// multiple" wording.
func roundUpMultiple(n, multiple int64) int64 {
	if n <= 0 {
		return multiple
	}
	return ((n + multiple - 1) / multiple) * multiple
}
