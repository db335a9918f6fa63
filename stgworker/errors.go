// stgworker/errors.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package stgworker

import "errors"

var (
	// ErrConnect is returned when the storage worker cannot be reached
	// within the configured timeout.
	ErrConnect = errors.New("stgworker: could not connect to storage worker")

	// ErrNoStorage is returned by StartJob when either storage list is
	// empty; a consolidation job needs somewhere to read from and
	// somewhere to write to.
	ErrNoStorage = errors.New("stgworker: read or write storage list is empty")
)
