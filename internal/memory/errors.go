package memory

import "errors"

// Typed operation errors. The orchestrator surfaces these to the model as
// failed tool results, so messages must stay deterministic.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrAmbiguousMatch = errors.New("ambiguous match")
	ErrOutOfRange     = errors.New("out of range")
)
