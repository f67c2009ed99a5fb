package streampool

import "fmt"

// ErrorKind identifies the category of a failure raised by this package.
type ErrorKind int

const (
	ErrKindInvalidConfiguration ErrorKind = iota
	ErrKindNullInput
	ErrKindOutOfRange
	ErrKindArgumentBounds
	ErrKindWrongSizedBuffer
	ErrKindInvalidOrigin
	ErrKindSeekBeforeBegin
	ErrKindStreamOverflow
	ErrKindCapacityExceeded
	ErrKindDisposed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindInvalidConfiguration:
		return "invalid configuration"
	case ErrKindNullInput:
		return "null input"
	case ErrKindOutOfRange:
		return "out of range"
	case ErrKindArgumentBounds:
		return "argument bounds"
	case ErrKindWrongSizedBuffer:
		return "wrong sized buffer"
	case ErrKindInvalidOrigin:
		return "invalid origin"
	case ErrKindSeekBeforeBegin:
		return "seek before begin"
	case ErrKindStreamOverflow:
		return "stream overflow"
	case ErrKindCapacityExceeded:
		return "capacity exceeded"
	case ErrKindDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("errorKind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every failing operation in
// this package. Op names the method that failed (e.g. "Write"), except on
// the bare ErrDisposed sentinel that operations on a disposed Stream return,
// whose Op is empty; Kind identifies the failure category so callers can
// branch on it with errors.Is against the package's exported sentinels.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
}

func newError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("streampool: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("streampool: %s: %s: %s", e.Op, e.Kind, e.Msg)
}

// Is reports whether target is a sentinel of the same Kind, so that
// errors.Is(err, ErrDisposed) works regardless of which operation raised it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors, one per ErrorKind, for use with errors.Is.
var (
	ErrInvalidConfiguration = &Error{Kind: ErrKindInvalidConfiguration}
	ErrNullInput            = &Error{Kind: ErrKindNullInput}
	ErrOutOfRange           = &Error{Kind: ErrKindOutOfRange}
	ErrArgumentBounds       = &Error{Kind: ErrKindArgumentBounds}
	ErrWrongSizedBuffer     = &Error{Kind: ErrKindWrongSizedBuffer}
	ErrInvalidOrigin        = &Error{Kind: ErrKindInvalidOrigin}
	ErrSeekBeforeBegin      = &Error{Kind: ErrKindSeekBeforeBegin}
	ErrStreamOverflow       = &Error{Kind: ErrKindStreamOverflow}
	ErrCapacityExceeded     = &Error{Kind: ErrKindCapacityExceeded}
	ErrDisposed             = &Error{Kind: ErrKindDisposed}
)
