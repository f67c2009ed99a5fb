package streampool_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	. "github.com/arkenfold/streampool"
	"github.com/arkenfold/streampool/internal/testutils"
)

// newTestManager builds a Manager with block size 64, large buffers
// quantized to 256, capped at 1024, logging discarded.
func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *testutils.RecordingSink) {
	t.Helper()
	sink := testutils.NewRecordingSink()
	discardLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	all := append([]ManagerOption{WithLogger(discardLogger), WithSink(sink)}, opts...)
	m, err := NewManager(64, 256, 1024, all...)
	if err != nil {
		t.Fatal(err)
	}
	return m, sink
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name                                         string
		blockSize, largeBufferMultiple, maximumSize int64
	}{
		{"zero block size", 0, 256, 1024},
		{"negative block size", -1, 256, 1024},
		{"zero large buffer multiple", 64, 0, 1024},
		{"maximum below block size", 64, 256, 32},
		{"maximum not a multiple", 64, 256, 1000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewManager(c.blockSize, c.largeBufferMultiple, c.maximumSize)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("got %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestManagerGetBlockReturnBlocks(t *testing.T) {
	m, sink := newTestManager(t)

	b := m.GetBlock()
	if int64(len(b)) != m.BlockSize() {
		t.Fatalf("got block of length %d, want %d", len(b), m.BlockSize())
	}
	if got := m.SmallPoolInUseSize(); got != 64 {
		t.Fatalf("SmallPoolInUseSize = %d, want 64", got)
	}
	if sink.CountOf(EventBlockCreated) != 1 {
		t.Fatalf("expected one EventBlockCreated")
	}

	if err := m.ReturnBlocks([][]byte{b}, "t"); err != nil {
		t.Fatal(err)
	}
	if got := m.SmallPoolInUseSize(); got != 0 {
		t.Fatalf("SmallPoolInUseSize after return = %d, want 0", got)
	}
	if got := m.SmallPoolFreeSize(); got != 64 {
		t.Fatalf("SmallPoolFreeSize = %d, want 64", got)
	}
	if sink.CountOf(EventBlockReturned) != 1 {
		t.Fatalf("expected one EventBlockReturned")
	}

	b2 := m.GetBlock()
	if sink.CountOf(EventBlockCreated) != 1 {
		t.Fatalf("second GetBlock should reuse the free list, not allocate")
	}
	m.ReturnBlocks([][]byte{b2}, "t")
}

// TestManagerGetBlockDecrementsFreeSize guards against SmallPoolFreeSize
// drifting from the free list's actual membership: popping a block for
// reuse must shrink the counter exactly as pushing one back grows it.
func TestManagerGetBlockDecrementsFreeSize(t *testing.T) {
	m, _ := newTestManager(t)

	a := m.GetBlock()
	if err := m.ReturnBlocks([][]byte{a}, "t"); err != nil {
		t.Fatal(err)
	}
	if got := m.SmallPoolFreeSize(); got != m.BlockSize() {
		t.Fatalf("SmallPoolFreeSize after return = %d, want %d", got, m.BlockSize())
	}

	b := m.GetBlock()
	if got := m.SmallPoolFreeSize(); got != 0 {
		t.Fatalf("SmallPoolFreeSize after reuse = %d, want 0 (GetBlock must decrement on pop)", got)
	}
	m.ReturnBlocks([][]byte{b}, "t")
}

func TestManagerReturnBlocksValidation(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.ReturnBlocks(nil, "t"); !errors.Is(err, ErrNullInput) {
		t.Fatalf("got %v, want ErrNullInput", err)
	}
	if err := m.ReturnBlocks([][]byte{make([]byte, 10)}, "t"); !errors.Is(err, ErrWrongSizedBuffer) {
		t.Fatalf("got %v, want ErrWrongSizedBuffer", err)
	}
}

func TestManagerSmallPoolFreeCap(t *testing.T) {
	m, sink := newTestManager(t, WithOptions(Options{MaximumFreeSmallPoolBytes: 64}))

	a := m.GetBlock()
	b := m.GetBlock()
	if err := m.ReturnBlocks([][]byte{a, b}, "t"); err != nil {
		t.Fatal(err)
	}
	if got := m.SmallPoolFreeSize(); got != 64 {
		t.Fatalf("SmallPoolFreeSize = %d, want 64 (cap enforced)", got)
	}
	if sink.CountOf(EventBlockDiscarded) != 1 {
		t.Fatalf("expected exactly one discarded block past the cap")
	}
}

func TestManagerGetLargeBufferQuantization(t *testing.T) {
	m, sink := newTestManager(t)

	b := m.GetLargeBuffer(100, "t")
	if len(b) != 256 {
		t.Fatalf("got large buffer of length %d, want 256 (rounded up)", len(b))
	}
	if sink.CountOf(EventLargeBufferCreated) != 1 {
		t.Fatalf("expected one EventLargeBufferCreated")
	}

	if err := m.ReturnLargeBuffer(b, "t"); err != nil {
		t.Fatal(err)
	}
	if got := m.LargePoolFreeSize(); got != 256 {
		t.Fatalf("LargePoolFreeSize = %d, want 256", got)
	}
}

func TestManagerGetLargeBufferOversize(t *testing.T) {
	m, sink := newTestManager(t)

	b := m.GetLargeBuffer(2000, "t")
	if len(b) != 2048 {
		t.Fatalf("got oversize buffer of length %d, want 2048", len(b))
	}
	if sink.CountOf(EventLargeBufferCreatedOversize) != 1 {
		t.Fatalf("expected one EventLargeBufferCreatedOversize")
	}

	if err := m.ReturnLargeBuffer(b, "t"); err != nil {
		t.Fatal(err)
	}
	if got := m.LargePoolFreeSize(); got != 0 {
		t.Fatalf("oversize buffers must never be pooled, got LargePoolFreeSize = %d", got)
	}
	if sink.CountOf(EventLargeBufferDiscarded) != 1 {
		t.Fatalf("expected one EventLargeBufferDiscarded for the oversize buffer")
	}
}

func TestManagerReturnLargeBufferValidation(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.ReturnLargeBuffer(nil, "t"); !errors.Is(err, ErrNullInput) {
		t.Fatalf("got %v, want ErrNullInput", err)
	}
	if err := m.ReturnLargeBuffer(make([]byte, 100), "t"); !errors.Is(err, ErrWrongSizedBuffer) {
		t.Fatalf("got %v, want ErrWrongSizedBuffer", err)
	}
}

func TestManagerGetStreamDefault(t *testing.T) {
	m, _ := newTestManager(t)

	s := m.GetStream(WithTag("x"))
	defer s.Dispose()

	if got := s.Capacity(); got != m.BlockSize() {
		t.Fatalf("Capacity = %d, want %d", got, m.BlockSize())
	}
	if m.Outstanding() != 1 {
		t.Fatalf("Outstanding = %d, want 1", m.Outstanding())
	}
}

func TestManagerGetStreamAsContiguousLargeBuffer(t *testing.T) {
	m, _ := newTestManager(t)

	s := m.GetStream(WithTag("x"), WithRequiredSize(500), AsContiguousLargeBuffer())
	defer s.Dispose()

	if got := s.Capacity(); got != 512 {
		t.Fatalf("Capacity = %d, want 512", got)
	}
}

func TestManagerGetStreamFromBytes(t *testing.T) {
	m, _ := newTestManager(t)
	data := []byte("hello, streampool")

	s, err := m.GetStreamFromBytes("x", data, 0, len(data))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Dispose()

	if got := s.Position(); got != 0 {
		t.Fatalf("Position after GetStreamFromBytes = %d, want 0", got)
	}
	if got := s.Length(); got != int64(len(data)) {
		t.Fatalf("Length = %d, want %d", got, len(data))
	}

	out, err := s.ToArray()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(data) {
		t.Fatalf("ToArray = %q, want %q", out, data)
	}
}

func TestManagerGetStreamFromBytesBounds(t *testing.T) {
	m, _ := newTestManager(t)
	data := []byte("abc")

	if _, err := m.GetStreamFromBytes("x", data, -1, 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
	if _, err := m.GetStreamFromBytes("x", data, 1, 10); !errors.Is(err, ErrArgumentBounds) {
		t.Fatalf("got %v, want ErrArgumentBounds", err)
	}
}

func TestManagerDisposeReturnsBuffers(t *testing.T) {
	m, sink := newTestManager(t)

	s := m.GetStream(WithTag("x"))
	if err := s.Dispose(); err != nil {
		t.Fatal(err)
	}
	if got := m.SmallPoolFreeSize(); got != m.BlockSize() {
		t.Fatalf("SmallPoolFreeSize after Dispose = %d, want %d", got, m.BlockSize())
	}
	if m.Outstanding() != 0 {
		t.Fatalf("Outstanding after Dispose = %d, want 0", m.Outstanding())
	}
	if sink.CountOf(EventStreamDisposed) != 1 {
		t.Fatalf("expected one EventStreamDisposed")
	}

	if err := s.Dispose(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("second Dispose: got %v, want ErrDisposed", err)
	}
	if sink.CountOf(EventDoubleDispose) != 1 {
		t.Fatalf("expected one EventDoubleDispose")
	}
}

// TestPassiveRetentionAcrossGrowths mirrors a successive three-growth large
// buffer scenario: passive release keeps every superseded buffer alive on
// the stream until Dispose, at which point every one of them returns to
// the pool at once.
func TestPassiveRetentionAcrossGrowths(t *testing.T) {
	m, err := NewManager(64, 256, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	// Seeded at 300 bytes (rounds up to 512), then grown twice more.
	s := m.GetStream(WithTag("x"), WithRequiredSize(300), AsContiguousLargeBuffer())
	if err := s.SetCapacity(600); err != nil { // rounds up to 768
		t.Fatal(err)
	}
	if err := s.SetCapacity(900); err != nil { // rounds up to 1024
		t.Fatal(err)
	}

	wantInUse := int64(512 + 768 + 1024)
	if got := m.LargePoolInUseSize(); got != wantInUse {
		t.Fatalf("LargePoolInUseSize before Dispose = %d, want %d", got, wantInUse)
	}

	if err := s.Dispose(); err != nil {
		t.Fatal(err)
	}
	if got := m.LargePoolInUseSize(); got != 0 {
		t.Fatalf("LargePoolInUseSize after Dispose = %d, want 0", got)
	}
	wantFree := int64(512 + 768 + 1024)
	if got := m.LargePoolFreeSize(); got != wantFree {
		t.Fatalf("LargePoolFreeSize after Dispose = %d, want %d", got, wantFree)
	}
}

func TestConcurrentGetBlockReturnBlocks(t *testing.T) {
	m, _ := newTestManager(t)

	const n = 64
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			b := m.GetBlock()
			m.ReturnBlocks([][]byte{b}, "worker")
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if got := m.SmallPoolInUseSize(); got != 0 {
		t.Fatalf("SmallPoolInUseSize after concurrent round trip = %d, want 0", got)
	}
}
