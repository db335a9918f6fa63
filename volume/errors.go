// volume/errors.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import "errors"

var (
	// ErrNotOk is returned by every mutating call once a volume has
	// recorded an I/O failure; the volume must be reopened to clear it.
	ErrNotOk = errors.New("volume: not ok after previous I/O error")

	// ErrConfigMismatch is returned by open when an explicitly requested
	// blocksize differs from the one recorded in an existing volume's
	// configuration file.
	ErrConfigMismatch = errors.New("volume: blocksize does not match configuration")

	// ErrAlreadyOpen names a path that already has an open volume. Open
	// does not track which paths are open and never returns it; opening
	// the same path twice yields two independent Volumes.
	ErrAlreadyOpen = errors.New("volume: path is already open")

	ErrOutOfRange   = errors.New("volume: block index out of range")
	ErrBadBlockSize = errors.New("volume: blocksize must be a power of two")

	// ErrDoesNotExist is returned by open when mode is not CreateReadWrite
	// and no volume exists at the given path.
	ErrDoesNotExist = errors.New("volume: no volume at path")
)
