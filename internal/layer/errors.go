package layer

import "errors"

// Precondition violations. Constructors and Forward wrap these with details.
var (
	ErrRank       = errors.New("layer: wrong input rank")
	ErrShape      = errors.New("layer: shape mismatch")
	ErrSources    = errors.New("layer: wrong number of sources")
	ErrDirections = errors.New("layer: directions must be 1, 2 or 4")
	ErrProjection = errors.New("layer: projection must be average or concat")
	ErrCollapse   = errors.New("layer: unknown collapse mode")
	ErrConfig     = errors.New("layer: invalid configuration")
	ErrNoForward  = errors.New("layer: backward called before forward")
)
