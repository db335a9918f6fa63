// consolidate/errors.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

import "errors"

var (
	ErrNoFileSet          = errors.New("consolidate: no FileSet record for this job")
	ErrDuplicateForbidden = errors.New("consolidate: a job is already running for this client/fileset and duplicates are forbidden")
	ErrNoWritePool        = errors.New("consolidate: could not resolve a write pool")
	ErrNoStorage          = errors.New("consolidate: read or write storage list is empty")
	ErrNoPriorJobs        = errors.New("consolidate: no previous Jobs found")
	ErrJobsMissing        = errors.New("consolidate: one or more JobIds in the chain are missing from the catalog")
	ErrJobsPurged         = errors.New("consolidate: one or more JobIds in the chain have purged files")
	ErrEmptyBootstrap     = errors.New("consolidate: no files selected for consolidation")
)
