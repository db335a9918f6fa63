// consolidate/init_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package consolidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func basicInitParams() InitParams {
	return InitParams{
		HasFileSet:   true,
		ReadPoolId:   1,
		JobNextPool:  2,
		ReadStorage:  []string{"Read-1"},
		WriteStorageForPools: func(readPoolId, writePoolId int64) []string {
			return []string{"Write-1"}
		},
	}
}

func TestInitRejectsMissingFileSet(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 300, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.HasFileSet = false
	_, _, err = Init(context.Background(), c, job, p)
	require.ErrorIs(t, err, ErrNoFileSet)
}

func TestInitPolicyRejectAlwaysForbids(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 300, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.DuplicatePolicy = PolicyReject
	p.IsDuplicate = true
	_, _, err = Init(context.Background(), c, job, p)
	require.ErrorIs(t, err, ErrDuplicateForbidden)
}

func TestInitPolicyAllowIgnoresDuplicate(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 300, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.DuplicatePolicy = PolicyAllow
	p.IsDuplicate = true
	_, _, err = Init(context.Background(), c, job, p)
	require.NoError(t, err)
}

// TestInitPolicyCancelExistingCancelsLowerPriority exercises the cancel
// path: a running job for the same client/fileset with a strictly larger
// Priority number (lower priority) must be canceled so the new job can
// proceed.
func TestInitPolicyCancelExistingCancelsLowerPriority(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Exec(
		`INSERT INTO Job (JobId, Type, Level, ClientId, FilesetId, JobStatus, Priority, StartTime, EndTime, JobTDate) VALUES (100, 'B', 'I', 1, 1, 'R', 10, '2026-01-01 00:00:00', '2026-01-01 01:00:00', 0)`))
	require.NoError(t, c.Exec(
		`INSERT INTO Job (JobId, Type, Level, ClientId, FilesetId, JobStatus, Priority, StartTime, EndTime, JobTDate) VALUES (300, 'B', 'F', 1, 1, 'C', 5, '2026-01-01 00:00:00', '2026-01-01 01:00:00', 0)`))
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.DuplicatePolicy = PolicyCancelExisting
	p.IsDuplicate = true
	_, _, err = Init(context.Background(), c, job, p)
	require.NoError(t, err)

	running, err := c.GetJobRecord(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "A", running.JobStatus, "lower-priority duplicate must be canceled")
}

// TestInitPolicyCancelExistingRejectsHigherPriority is the inverse: a
// running job with equal or higher priority than the new one must not be
// canceled, so the new job is rejected instead.
func TestInitPolicyCancelExistingRejectsHigherPriority(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Exec(
		`INSERT INTO Job (JobId, Type, Level, ClientId, FilesetId, JobStatus, Priority, StartTime, EndTime, JobTDate) VALUES (100, 'B', 'I', 1, 1, 'R', 1, '2026-01-01 00:00:00', '2026-01-01 01:00:00', 0)`))
	require.NoError(t, c.Exec(
		`INSERT INTO Job (JobId, Type, Level, ClientId, FilesetId, JobStatus, Priority, StartTime, EndTime, JobTDate) VALUES (300, 'B', 'F', 1, 1, 'C', 5, '2026-01-01 00:00:00', '2026-01-01 01:00:00', 0)`))
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.DuplicatePolicy = PolicyCancelExisting
	p.IsDuplicate = true
	_, _, err = Init(context.Background(), c, job, p)
	require.ErrorIs(t, err, ErrDuplicateForbidden)

	running, err := c.GetJobRecord(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "R", running.JobStatus, "higher-priority duplicate must not be canceled")
}

func TestInitRejectsWhenWritePoolUnresolved(t *testing.T) {
	c := newTestCatalog(t)
	insertJob(t, c, 300, "F", 0)
	job, err := c.GetJobRecord(context.Background(), 300)
	require.NoError(t, err)

	p := basicInitParams()
	p.ReadPoolId = 0
	p.JobNextPool = 0
	_, _, err = Init(context.Background(), c, job, p)
	require.ErrorIs(t, err, ErrNoWritePool)
}
