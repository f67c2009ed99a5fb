package streampool

import "errors"

// Options holds the Manager's mutable runtime knobs (spec §4.1). All fields
// default to their zero value, which means "unbounded" for the two size
// caps and "passive release, no diagnostics" for the two booleans.
type Options struct {
	// MaximumFreeSmallPoolBytes caps the bytes retained in the small-block
	// free pool. Zero means unbounded.
	MaximumFreeSmallPoolBytes int64

	// MaximumFreeLargePoolBytes caps the bytes retained in the large-buffer
	// free pool, summed across every size class. Zero means unbounded.
	MaximumFreeLargePoolBytes int64

	// MaximumStreamCapacity caps the capacity any single Stream may grow
	// to. Zero means unbounded.
	MaximumStreamCapacity int64

	// AggressiveBufferReturn controls whether a superseded large buffer
	// (or a promoted stream's retired blocks) is returned to the pool
	// immediately, or retained on the stream until Dispose.
	AggressiveBufferReturn bool

	// GenerateCallStacks enables allocation/dispose call-site capture and
	// attaches a GC finalizer to every Stream to detect dispose leaks.
	GenerateCallStacks bool
}

// DefaultOptions returns the zero-value Options: unbounded pools, passive
// release, diagnostics disabled.
func DefaultOptions() Options {
	return Options{}
}

// Validate reports every violated precondition at once via errors.Join,
// rather than failing on the first one encountered.
func (o Options) Validate() error {
	var errs []error
	if o.MaximumFreeSmallPoolBytes < 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "Options.Validate", "MaximumFreeSmallPoolBytes must be >= 0"))
	}
	if o.MaximumFreeLargePoolBytes < 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "Options.Validate", "MaximumFreeLargePoolBytes must be >= 0"))
	}
	if o.MaximumStreamCapacity < 0 {
		errs = append(errs, newError(ErrKindInvalidConfiguration, "Options.Validate", "MaximumStreamCapacity must be >= 0"))
	}
	return errors.Join(errs...)
}
