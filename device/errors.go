// device/errors.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package device

import "errors"

var (
	ErrAlreadyMounted = errors.New("device: already mounted")
	ErrNotMounted     = errors.New("device: not mounted")
	ErrAlreadyOpen    = errors.New("device: a volume is already open")
	ErrNotOpen        = errors.New("device: no volume is open")
	ErrBadMode        = errors.New("device: invalid open mode")
	ErrBadFd          = errors.New("device: file descriptor does not match the open session")
	ErrNotAppend      = errors.New("device: write rejected, cursor is not at end of volume")

	// ErrBadOptions is returned by Open when the options string names an
	// unparseable value, e.g. a malformed "blocksize=" size.
	ErrBadOptions = errors.New("device: malformed options string")
)
