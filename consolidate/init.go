// consolidate/init.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Package consolidate drives a virtual backup from initialization
// through cleanup: resolving pools and storage, validating the
// consolidation chain against the catalog, building and sending the
// bootstrap, and running the synthetic job to completion.
package consolidate

import (
	"context"
	"time"

	"github.com/mmp/dedupvol/catalog"
)

// DuplicateJobPolicy governs whether a virtual backup may start while
// another job for the same client/fileset is already running, mirroring
// the three outcomes the original's AllowDuplicateJob reduces
// CancelQueuedDuplicates/CancelRunningDuplicates/AllowDuplicateJobs to.
type DuplicateJobPolicy int

const (
	PolicyAllow DuplicateJobPolicy = iota
	PolicyReject
	PolicyCancelExisting
)

// InitParams carries everything Init needs beyond the job's own catalog
// row: configuration the surrounding scheduler has already resolved
// (pool overrides, storage lists) and facts it must check (FileSet
// existence, whether another job is already running).
type InitParams struct {
	HasFileSet      bool
	DuplicatePolicy DuplicateJobPolicy
	IsDuplicate     bool

	ReadPoolId           int64
	RunOverrideNextPool  int64
	JobNextPool          int64
	PoolNextPool         int64
	ReadStorage          []string
	WriteStorageForPools func(readPoolId, writePoolId int64) []string
}

// Init runs the initialization phase: FileSet check, duplicate-job
// policy, write-pool resolution, storage-list computation, and the first
// job-start timestamp. It returns the resolved write pool so the caller
// can record it on the job.
func Init(ctx context.Context, cat *catalog.Catalog, job catalog.JobRecord, p InitParams) (PoolResolution, []string, error) {
	if !p.HasFileSet {
		return PoolResolution{}, nil, ErrNoFileSet
	}
	if p.IsDuplicate {
		if err := resolveDuplicate(ctx, cat, job, p.DuplicatePolicy); err != nil {
			return PoolResolution{}, nil, err
		}
	}

	res := ResolveWritePool(p.RunOverrideNextPool, p.JobNextPool, p.PoolNextPool, p.ReadPoolId)
	if res.WritePoolId == 0 {
		return PoolResolution{}, nil, ErrNoWritePool
	}

	writeStorage := p.WriteStorageForPools(p.ReadPoolId, res.WritePoolId)
	if len(p.ReadStorage) == 0 || len(writeStorage) == 0 {
		return PoolResolution{}, nil, ErrNoStorage
	}

	if err := cat.UpdateJobStartRecord(ctx, job.JobId, time.Now()); err != nil {
		return PoolResolution{}, nil, err
	}

	return res, writeStorage, nil
}

// resolveDuplicate applies policy against the client/fileset's already
// running job. PolicyAllow is a no-op; PolicyReject always fails;
// PolicyCancelExisting cancels the running duplicate if it is lower
// priority (a strictly larger Priority number) than job, and otherwise
// falls back to rejecting, since canceling a job of equal or higher
// priority to make room for a lower-priority one would invert the
// original's precedence.
func resolveDuplicate(ctx context.Context, cat *catalog.Catalog, job catalog.JobRecord, policy DuplicateJobPolicy) error {
	if policy == PolicyAllow {
		return nil
	}
	if policy == PolicyReject {
		return ErrDuplicateForbidden
	}

	running, ok, err := cat.FindRunningDuplicate(ctx, job)
	if err != nil {
		return err
	}
	if !ok || running.Priority <= job.Priority {
		return ErrDuplicateForbidden
	}
	return cat.CancelJob(ctx, running.JobId)
}
