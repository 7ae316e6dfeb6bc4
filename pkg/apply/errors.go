package apply

import "errors"

// Configuration errors. They are detected before any voxel is processed and
// are always wrapped with context, so compare with errors.Is.
var (
	ErrSizeMismatch = errors.New("combined input channels do not match algorithm data size")
	ErrZeroSize     = errors.New("total input size cannot be 0")
	ErrIndexRange   = errors.New("index out of algorithm range")
	ErrGridMismatch = errors.New("volume geometry does not match input 0")
	ErrMissingInput = errors.New("data input not attached")
	ErrChannels     = errors.New("volume must have a single channel")
	ErrNoAlgorithm  = errors.New("no algorithm set")
)
