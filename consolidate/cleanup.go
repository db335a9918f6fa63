// consolidate/cleanup.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mmp/dedupvol/bootstrap"
	"github.com/mmp/dedupvol/catalog"
	"github.com/mmp/dedupvol/stgworker"
	u "github.com/mmp/dedupvol/util"
)

// CleanupParams configures the finalization phase.
type CleanupParams struct {
	DeletedFileReplication bool
}

// Cleanup finalizes the synthetic job: it copies the worker's counters
// onto the job row, downgrades status on partial failure, rewrites the
// job's StartTime/EndTime/JobTDate to match the chain's last job — the
// central correctness property of virtual backup, so later incrementals
// measure "changed since" against the right reference point — and
// optionally replicates deleted-file markers from the consolidated
// chain. It returns the final job row as the catalog now has it.
func Cleanup(ctx context.Context, cat *catalog.Catalog, job catalog.JobRecord, result Result, p CleanupParams, log *u.Logger) (catalog.JobRecord, error) {
	final := job
	if result.Status.SDJobStatus == stgworker.StatusTerminated || result.Status.SDJobStatus == stgworker.StatusTerminatedWarnings {
		final.Level = result.FirstLevel
	}

	final.JobFiles = result.Status.JobFiles
	final.JobBytes = result.Status.JobBytes
	final.JobErrors = result.Status.JobErrors

	status := result.Status.SDJobStatus
	if status == stgworker.StatusTerminated && result.Status.JobErrors > 0 {
		status = stgworker.StatusTerminatedWarnings
	}
	final.JobStatus = string(status)
	final.EndTime = time.Now()

	if err := cat.UpdateJobEndRecord(ctx, final); err != nil {
		return final, err
	}

	if err := cat.UpdateJobTimestamps(ctx, job.JobId, result.PreviousJob); err != nil {
		return final, err
	}

	refetched, err := cat.GetJobRecord(ctx, job.JobId)
	if err != nil {
		// The volume is already durable; a catalog read failure here
		// downgrades the job's status without rolling anything back.
		log.Warning("could not re-fetch JobId %d after finalize: %v", job.JobId, err)
		final.JobStatus = string(stgworker.StatusErrorTerminated)
		return final, nil
	}

	if p.DeletedFileReplication {
		n, err := cat.FillDeletedFiles(ctx, result.DeletedFiles, job.JobId)
		if err != nil {
			log.Warning("deleted-file replication for JobId %d failed: %v", job.JobId, err)
		} else {
			log.Verbose("replicated %d deleted-file marker(s) for JobId %d", n, job.JobId)
		}
	}

	if result.BootstrapPath != "" {
		if err := rewriteBootstrapJobId(result.BootstrapPath, job.JobId); err != nil {
			log.Warning("could not update bootstrap %s for JobId %d: %v", result.BootstrapPath, job.JobId, err)
		}
	}

	return refetched, nil
}

// rewriteBootstrapJobId re-loads the bootstrap Run wrote before starting
// the worker job and rewrites every range's JobId to the synthetic job's
// own id, so a future restore targets the new job rather than the
// consolidated chain it replaced (which AlwaysIncremental retention may
// go on to purge).
func rewriteBootstrapJobId(path string, newJobId int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	rr := &u.ReportingReader{R: f, Msg: fmt.Sprintf("re-reading bootstrap %s for finalize", path)}
	ranges, err := bootstrap.Read(rr)
	rr.Close()
	if err != nil {
		return err
	}

	for i := range ranges {
		ranges[i].JobId = newJobId
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return bootstrap.Write(out, ranges)
}

// Summary formats the one-line backup summary the job log emits on
// completion.
func Summary(jr catalog.JobRecord) string {
	return fmt.Sprintf("Virtual Full Backup JobId %d: %s, Level=%s, Files=%d, Bytes=%s, Errors=%d",
		jr.JobId, jr.JobStatus, jr.Level, jr.JobFiles, u.FmtBytes(jr.JobBytes), jr.JobErrors)
}
