// codec/errors.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package codec

import "errors"

var (
	// ErrBlockTooShort is returned when buf is shorter than the block
	// header itself, so BlockSize cannot even be read.
	ErrBlockTooShort = errors.New("codec: buffer shorter than a block header")

	// ErrIncompleteBlock is returned when buf is at least as long as a
	// block header but shorter than the BlockSize that header declares.
	ErrIncompleteBlock = errors.New("codec: incomplete block")

	// ErrBadRecord is returned when the bytes left before the end of the
	// block are too few to hold a record header. A record header whose
	// DataSize runs past the end of the block is not an error: its payload
	// is truncated at the block boundary.
	ErrBadRecord = errors.New("codec: bad record header")

	// ErrDestTooSmall is returned by Gather when the caller's destination
	// buffer is smaller than the stored block's BlockSize.
	ErrDestTooSmall = errors.New("codec: destination buffer too small")
)
