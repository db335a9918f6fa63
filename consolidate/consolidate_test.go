// consolidate/consolidate_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmp/dedupvol/bootstrap"
	"github.com/mmp/dedupvol/catalog"
	"github.com/mmp/dedupvol/stgworker"
	u "github.com/mmp/dedupvol/util"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	c, err := catalog.OpenTestCatalog()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func insertJob(t *testing.T, c *catalog.Catalog, jobid int64, level string, purged int) {
	require.NoError(t, c.Exec(
		`INSERT INTO Job (JobId, Type, Level, ClientId, FilesetId, PurgedFiles, JobStatus, StartTime, EndTime, JobTDate)
		 VALUES (?, 'B', ?, 1, 1, ?, 'T', ?, ?, 0)`,
		jobid, level, purged,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)))
}

func insertFile(t *testing.T, c *catalog.Catalog, jobid int64, pathid int64, path, name string, fileIndex int32) {
	require.NoError(t, c.Exec(`INSERT OR IGNORE INTO Path (PathId, Path) VALUES (?, ?)`, pathid, path))
	require.NoError(t, c.Exec(`INSERT INTO File (FileIndex, JobId, PathId, Name) VALUES (?, ?, ?, ?)`, fileIndex, jobid, pathid, name))
}

// TestRunFailsOnPurgedJob is concrete scenario 5: a chain containing a
// job with PurgedFiles set must fail before any storage-worker connection
// is attempted, and the error must name the offending JobId.
func TestRunFailsOnPurgedJob(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 100, "F", 0)
	insertJob(t, c, 101, "I", 1)
	insertJob(t, c, 102, "I", 0)

	log := u.NewLogger(false, false)
	job := catalog.JobRecord{JobId: 200}

	_, err := Run(context.Background(), c, job, RunParams{
		JobIds:            []int64{100, 101, 102},
		ReadStorage:       []string{"Read-1"},
		WriteStorage:      []string{"Write-1"},
		StorageWorkerAddr: "inproc://unused",
		ConnectTimeout:    10 * time.Millisecond,
	}, log)

	require.ErrorIs(t, err, ErrJobsPurged)
	require.Contains(t, err.Error(), "JobId 101")
}

func TestRunFailsOnMissingJob(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 100, "F", 0)

	log := u.NewLogger(false, false)
	job := catalog.JobRecord{JobId: 200}

	_, err := Run(context.Background(), c, job, RunParams{
		JobIds:            []int64{100, 999},
		ReadStorage:       []string{"Read-1"},
		WriteStorage:      []string{"Write-1"},
		StorageWorkerAddr: "inproc://unused",
	}, log)

	require.ErrorIs(t, err, ErrJobsMissing)
	require.Contains(t, err.Error(), "JobId 999")
}

// TestSuccessfulConsolidation is the chain-resolution property: given
// [J1..Jk] all present and unpurged, the synthetic job's level equals
// level(J1), its timestamps after Cleanup equal those of Jk, and the
// bootstrap resolves each (Path,Filename) to its most recent JobId.
func TestSuccessfulConsolidation(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 100, "F", 0)
	insertJob(t, c, 101, "I", 0)
	insertJob(t, c, 102, "I", 0)
	require.NoError(t, c.Exec(
		`UPDATE Job SET StartTime = ?, EndTime = ?, JobTDate = ? WHERE JobId = 102`,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC),
		int64(1800000000)))

	insertFile(t, c, 100, 1, "/etc/", "passwd", 1)
	insertFile(t, c, 100, 1, "/etc/", "hosts", 2)
	insertFile(t, c, 101, 1, "/etc/", "passwd", 3)
	insertFile(t, c, 102, 1, "/etc/", "newfile", 1)

	// /a/d is live in job 100 and deleted by job 102, the last job of the
	// chain -- spec.md scenario 6's deleted file.
	insertFile(t, c, 100, 2, "/a/", "d", 5)
	require.NoError(t, c.Exec(
		`INSERT INTO File (FileIndex, JobId, PathId, Name, LStat, MD5) VALUES (0, 102, 2, 'd', 'stat-d', 'md5-d')`))
	// /a/e is deleted by job 100 but recreated live by job 102: it must
	// never surface as a deleted-file marker under the synthetic job.
	insertFile(t, c, 100, 2, "/a/", "e", 0)
	insertFile(t, c, 102, 2, "/a/", "e", 7)

	insertJob(t, c, 300, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	addr := fmt.Sprintf("inproc://consolidate-test-%d", time.Now().UnixNano())
	srv, err := stgworker.NewServer(addr)
	require.NoError(t, err)
	defer srv.Close()
	srv.SetTerminationStatus(stgworker.TerminationStatus{
		SDJobStatus: stgworker.StatusTerminated,
		JobFiles:    3,
		JobBytes:    4096,
	})

	bsrPath := filepath.Join(t.TempDir(), "300.bsr")

	log := u.NewLogger(false, false)
	result, err := Run(context.Background(), c, job, RunParams{
		JobIds:            []int64{100, 101, 102},
		Accurate:          true,
		ReadStorage:       []string{"Read-1"},
		WriteStorage:      []string{"Write-1"},
		SendBSR:           true,
		StorageWorkerAddr: addr,
		ConnectTimeout:    time.Second,
		PollInterval:      time.Millisecond,
		VolumesForJob: map[int64][]string{
			100: {"Vol-0001"}, 101: {"Vol-0001"}, 102: {"Vol-0002"},
		},
		BootstrapPath: bsrPath,
	}, log)
	require.NoError(t, err)
	require.Equal(t, "F", result.FirstLevel, "level must come from the first job in the chain")
	require.Equal(t, 4, result.FileCount, "passwd@101, hosts@100, newfile@102, e@102 — d is deleted and excluded")
	require.Len(t, result.DeletedFiles, 1, "d is the only key whose most recent row is a deletion; e was recreated")
	require.Equal(t, "d", result.DeletedFiles[0].Filename)
	require.Equal(t, int64(102), result.DeletedFiles[0].JobId)

	started := srv.StartedJobs()
	require.Len(t, started, 1)
	require.True(t, started[0].SendBSR)
	require.NotEmpty(t, started[0].BSR)

	preCleanup, err := os.ReadFile(bsrPath)
	require.NoError(t, err)
	preRanges, err := bootstrap.Read(bytes.NewReader(preCleanup))
	require.NoError(t, err)
	for _, r := range preRanges {
		require.NotEqual(t, job.JobId, r.JobId, "bootstrap written before the worker runs must still name the consolidated chain's JobIds")
	}

	final, err := Cleanup(context.Background(), c, job, result, CleanupParams{DeletedFileReplication: true}, log)
	require.NoError(t, err)
	require.Equal(t, "F", final.Level)
	require.True(t, final.StartTime.Equal(result.PreviousJob.StartTime))
	require.True(t, final.EndTime.Equal(result.PreviousJob.EndTime))
	require.Equal(t, result.PreviousJob.JobTDate, final.JobTDate)

	conn, err := c.OpenBatchConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	var newJobFiles []catalog.FileRow
	require.NoError(t, conn.GetFileList(context.Background(), []int64{job.JobId}, func(r catalog.FileRow) error {
		newJobFiles = append(newJobFiles, r)
		return nil
	}))
	require.Len(t, newJobFiles, 1, "only d's deletion marker is replicated under the synthetic job")
	require.Equal(t, "d", newJobFiles[0].Filename)
	require.Equal(t, int32(0), newJobFiles[0].FileIndex, "after finalize, File rows with FileIndex=0 exist under the new JobId for /a/d")
	for _, r := range newJobFiles {
		require.NotEqual(t, "e", r.Filename, "e was recreated by job 102 and must not get a deleted marker")
	}

	postCleanup, err := os.ReadFile(bsrPath)
	require.NoError(t, err)
	postRanges, err := bootstrap.Read(bytes.NewReader(postCleanup))
	require.NoError(t, err)
	require.NotEmpty(t, postRanges)
	for _, r := range postRanges {
		require.Equal(t, job.JobId, r.JobId, "Cleanup must rewrite every range's JobId to the synthetic job")
	}
}

func TestRunFailsWhenNoPriorJobs(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 200, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 200)
	require.NoError(t, err)

	log := u.NewLogger(false, false)
	_, err = Run(context.Background(), c, job, RunParams{}, log)
	require.ErrorIs(t, err, ErrNoPriorJobs)
}
