// consolidate/run.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mmp/dedupvol/bootstrap"
	"github.com/mmp/dedupvol/catalog"
	"github.com/mmp/dedupvol/stgworker"
	u "github.com/mmp/dedupvol/util"
)

// RunParams carries everything the execution phase needs beyond the
// job's own catalog row.
type RunParams struct {
	// JobIds, if non-empty, is used (sorted into ascending JobId order)
	// instead of querying the catalog for the accurate-restore chain.
	JobIds []int64

	Accurate     bool
	ReadStorage  []string
	WriteStorage []string
	SendBSR      bool

	StorageWorkerAddr string
	ConnectTimeout    time.Duration
	PollInterval      time.Duration

	// VolumesForJob resolves which volume(s) hold a given JobId's data,
	// for the bootstrap file.
	VolumesForJob map[int64][]string

	// BootstrapPath, if non-empty, is where the bootstrap built for this
	// job is written before the worker runs. Cleanup re-reads it from
	// here to rewrite it against the synthetic JobId.
	BootstrapPath string

	AlwaysIncremental bool
	RetentionSet      bool
}

// Result is what Run hands to Cleanup: the facts cleanup needs about how
// the job actually went, without re-deriving them from the catalog.
type Result struct {
	JobIds        []int64
	FirstLevel    string
	PreviousJob   catalog.JobRecord
	Status        stgworker.TerminationStatus
	FileCount     int
	BootstrapPath string
	DeletedFiles  []catalog.DeletedSelection
}

// Run executes the consolidation: validates the JobId chain, builds the
// bootstrap, drives the storage worker, and (when the job's retention
// policy calls for it) purges the consolidated chain from the catalog.
func Run(ctx context.Context, cat *catalog.Catalog, job catalog.JobRecord, p RunParams, log *u.Logger) (Result, error) {
	jobids := p.JobIds
	if len(jobids) == 0 {
		ids, err := cat.AccurateGetJobids(ctx, job)
		if err != nil {
			return Result{}, err
		}
		jobids = ids
	}
	if len(jobids) == 0 {
		return Result{}, ErrNoPriorJobs
	}

	sorted := append([]int64(nil), jobids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if err := checkChainConsistency(ctx, cat, sorted, log); err != nil {
		return Result{}, err
	}

	firstJr, err := cat.GetJobRecord(ctx, sorted[0])
	if err != nil {
		return Result{}, err
	}
	previousJr, err := cat.GetJobRecord(ctx, sorted[len(sorted)-1])
	if err != nil {
		return Result{}, err
	}

	if !p.Accurate {
		log.Warning("consolidation of JobId %d is not equivalent to a Full backup", job.JobId)
	}

	bsr, fileCount, deleted, err := buildBootstrap(ctx, cat, sorted, p.VolumesForJob)
	if err != nil {
		return Result{}, err
	}
	if fileCount == 0 {
		return Result{}, ErrEmptyBootstrap
	}

	if p.BootstrapPath != "" {
		if err := os.WriteFile(p.BootstrapPath, bsr, 0600); err != nil {
			return Result{}, err
		}
	}

	client, err := stgworker.Connect(p.StorageWorkerAddr, p.ConnectTimeout)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	if err := client.StartJob(p.ReadStorage, p.WriteStorage, p.SendBSR, bsr); err != nil {
		return Result{}, err
	}

	// Re-stamp the start time right before running, so files touched by
	// pre-job hooks between Init and here are not double-counted.
	if err := cat.UpdateJobStartRecord(ctx, job.JobId, time.Now()); err != nil {
		return Result{}, err
	}

	if err := client.Run(); err != nil {
		return Result{}, err
	}

	status, err := client.WaitForTermination(ctx, p.PollInterval)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		JobIds:        sorted,
		FirstLevel:    firstJr.Level,
		PreviousJob:   previousJr,
		Status:        status,
		FileCount:     fileCount,
		BootstrapPath: p.BootstrapPath,
		DeletedFiles:  deleted,
	}

	if status.SDJobStatus == stgworker.StatusTerminated && p.AlwaysIncremental && p.RetentionSet {
		if err := cat.PurgeJobsFromCatalog(ctx, sorted); err != nil {
			log.Warning("could not purge consolidated JobIds %v: %v", sorted, err)
		}
	}

	return result, nil
}

// checkChainConsistency is the "every offending id reported before
// termination" check: every JobId must be present and none may have
// purged files, and both classes of failure are collected in full before
// returning.
func checkChainConsistency(ctx context.Context, cat *catalog.Catalog, jobids []int64, log *u.Logger) error {
	seen := make(map[int64]catalog.ConsistencyRow, len(jobids))
	if err := cat.SqlQuery(ctx, jobids, func(r catalog.ConsistencyRow) error {
		seen[r.JobId] = r
		return nil
	}); err != nil {
		return err
	}

	var missing *multierror.Error
	for _, id := range jobids {
		if _, ok := seen[id]; !ok {
			missing = multierror.Append(missing, fmt.Errorf("JobId %d not found in catalog", id))
		}
	}
	if missing != nil && missing.Len() > 0 {
		log.Error("%v", missing)
		return fmt.Errorf("%w: %v", ErrJobsMissing, missing)
	}

	var purged *multierror.Error
	for _, id := range jobids {
		if seen[id].PurgedFiles != 0 {
			purged = multierror.Append(purged, fmt.Errorf("Files for JobId %d have been purged", id))
		}
	}
	if purged != nil && purged.Len() > 0 {
		log.Error("%v", purged)
		return fmt.Errorf("%w: %v", ErrJobsPurged, purged)
	}

	return nil
}

// buildBootstrap runs the accurate-file-selection query for jobids,
// applies most-recent-(Path,Filename)-wins resolution, and encodes the
// surviving entries as bootstrap file bytes. It also returns the
// resolved deleted-file selections (the keys whose final FileIndex is
// zero), for Cleanup to replicate as FileIndex=0 markers under the
// synthetic job.
func buildBootstrap(ctx context.Context, cat *catalog.Catalog, jobids []int64, volumesForJob map[int64][]string) ([]byte, int, []catalog.DeletedSelection, error) {
	conn, err := cat.OpenBatchConnection(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	defer conn.Close()

	set := bootstrap.NewSet()
	if err := conn.GetFileList(ctx, jobids, func(r catalog.FileRow) error {
		set.Add(r.Path, r.Filename, r.JobId, r.FileIndex)
		return nil
	}); err != nil {
		return nil, 0, nil, err
	}

	deletedEntries := set.Deleted()
	deleted := make([]catalog.DeletedSelection, len(deletedEntries))
	for i, e := range deletedEntries {
		deleted[i] = catalog.DeletedSelection{Path: e.Path, Filename: e.Filename, JobId: e.JobId}
	}

	entries := set.Entries()
	if len(entries) == 0 {
		return nil, 0, deleted, nil
	}

	ranges := bootstrap.BuildRanges(entries, volumesForJob)
	var buf bytes.Buffer
	if err := bootstrap.Write(&buf, ranges); err != nil {
		return nil, 0, nil, err
	}
	return buf.Bytes(), len(entries), deleted, nil
}
