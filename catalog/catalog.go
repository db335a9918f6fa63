// catalog/catalog.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Package catalog is the SQL-shaped, transport-agnostic adapter the
// consolidator uses to read and update job and file records. It is
// deliberately thin: every method maps to one or two statements, with no
// business logic of its own — that belongs in package consolidate.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// JobRecord mirrors the subset of a Job row the consolidator reads and
// writes.
type JobRecord struct {
	JobId       int64     `db:"jobid"`
	Type        string    `db:"type"`
	Level       string    `db:"level"`
	ClientId    int64     `db:"clientid"`
	FilesetId   int64     `db:"filesetid"`
	PoolId      int64     `db:"poolid"`
	PurgedFiles int       `db:"purgedfiles"`
	StartTime   time.Time `db:"starttime"`
	EndTime     time.Time `db:"endtime"`
	JobTDate    int64     `db:"jobtdate"`
	JobStatus   string    `db:"jobstatus"`
	JobFiles    int64     `db:"jobfiles"`
	JobBytes    int64     `db:"jobbytes"`
	JobErrors   int64     `db:"joberrors"`
	Priority    int       `db:"priority"`
}

// ClientRecord mirrors the subset of a Client row the consolidator needs
// for its backup summary.
type ClientRecord struct {
	ClientId int64  `db:"clientid"`
	Name     string `db:"name"`
}

// ConsistencyRow is one row of the chain consistency check: "SELECT
// JobId, Type, ClientId, FilesetId, PurgedFiles FROM Job WHERE JobId IN
// (...)".
type ConsistencyRow struct {
	JobId       int64  `db:"jobid"`
	Type        string `db:"type"`
	ClientId    int64  `db:"clientid"`
	FilesetId   int64  `db:"filesetid"`
	PurgedFiles int    `db:"purgedfiles"`
}

// FileRow is one row yielded by GetFileList, ordered by JobId ascending.
type FileRow struct {
	Path      string `db:"path"`
	Filename  string `db:"filename"`
	FileIndex int32  `db:"fileindex"`
	JobId     int64  `db:"jobid"`
	LStat     string `db:"lstat"`
}

// DeletedFileRow is the PathId/LStat/MD5/Name of the File row that
// recorded a (Path, Filename) as deleted, copied onto the synthetic
// job's own FileIndex=0 marker.
type DeletedFileRow struct {
	PathId int64  `db:"pathid"`
	LStat  string `db:"lstat"`
	MD5    string `db:"md5"`
	Name   string `db:"name"`
}

// DeletedSelection is one (Path, Filename) resolved as deleted as of
// JobId — the job whose FileIndex=0 row is the most recent one for that
// key across the whole consolidated chain. Callers derive this from
// most-recent-(Path,Filename)-wins resolution (bootstrap.Set) rather
// than handing FillDeletedFiles a raw FileIndex=0 scan, so a path
// deleted early in the chain and later recreated by a later job does not
// produce a spurious deleted marker.
type DeletedSelection struct {
	Path     string
	Filename string
	JobId    int64
}

// statusRunning and statusCanceled mirror stgworker.JobStatus's "R" and
// "A" codes. Catalog is kept independent of stgworker's wire types, so
// the codes are duplicated here rather than imported.
const (
	statusRunning  = "R"
	statusCanceled = "A"
)

// Catalog wraps a database handle with the operations the consolidator
// needs. It holds no consolidation state of its own.
type Catalog struct {
	db *sqlx.DB
}

// Open connects to a sqlite-backed catalog at dataSourceName. A real
// deployment would point this at the shared catalog database already in
// use by the rest of the backup system; sqlite is used here because the
// catalog is otherwise exercised only by this process and its tests.
func Open(dataSourceName string) (*Catalog, error) {
	db, err := sqlx.Connect("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// AccurateGetJobids returns the JobId chain for the client/fileset job
// describes: every backup or virtual job with a smaller JobId than job's
// that terminated normally or with warnings, in ascending JobId order.
// The chain is not cut at the most recent Full; every such earlier job is
// included.
func (c *Catalog) AccurateGetJobids(ctx context.Context, job JobRecord) ([]int64, error) {
	var ids []int64
	err := c.db.SelectContext(ctx, &ids, `
		SELECT JobId FROM Job
		WHERE ClientId = ? AND FilesetId = ? AND JobId < ?
		  AND JobStatus IN ('T', 'W') AND Type IN ('B', 'V')
		ORDER BY JobId ASC`,
		job.ClientId, job.FilesetId, job.JobId)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SqlQuery runs the chain consistency query for jobids and invokes handler
// once per row.
func (c *Catalog) SqlQuery(ctx context.Context, jobids []int64, handler func(ConsistencyRow) error) error {
	if len(jobids) == 0 {
		return nil
	}
	query, args := expandIn(`
		SELECT JobId AS jobid, Type AS type, ClientId AS clientid, FilesetId AS filesetid, PurgedFiles AS purgedfiles FROM Job
		WHERE JobId IN (%s)`, jobids)

	rows, err := c.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r ConsistencyRow
		if err := rows.StructScan(&r); err != nil {
			return err
		}
		if err := handler(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetJobRecord fetches the full job row for jobid.
func (c *Catalog) GetJobRecord(ctx context.Context, jobid int64) (JobRecord, error) {
	var jr JobRecord
	err := c.db.GetContext(ctx, &jr, `
		SELECT JobId AS jobid, Type AS type, Level AS level, ClientId AS clientid, FilesetId AS filesetid,
		       COALESCE(PoolId, 0) AS poolid, PurgedFiles AS purgedfiles, StartTime AS starttime, EndTime AS endtime,
		       JobTDate AS jobtdate, JobStatus AS jobstatus, JobFiles AS jobfiles, JobBytes AS jobbytes,
		       JobErrors AS joberrors, Priority AS priority
		FROM Job WHERE JobId = ?`, jobid)
	return jr, err
}

// FindRunningDuplicate looks for a Job with the same ClientId/FilesetId as
// job that is still running, excluding job itself. It mirrors the
// original's duplicate-job scan, narrowed to what AllowDuplicateJob's
// cancel path needs: the running job's JobId and Priority.
func (c *Catalog) FindRunningDuplicate(ctx context.Context, job JobRecord) (JobRecord, bool, error) {
	var rows []JobRecord
	err := c.db.SelectContext(ctx, &rows, `
		SELECT JobId AS jobid, Type AS type, Level AS level, ClientId AS clientid, FilesetId AS filesetid,
		       COALESCE(PoolId, 0) AS poolid, PurgedFiles AS purgedfiles, StartTime AS starttime, EndTime AS endtime,
		       JobTDate AS jobtdate, JobStatus AS jobstatus, JobFiles AS jobfiles, JobBytes AS jobbytes,
		       JobErrors AS joberrors, Priority AS priority
		FROM Job
		WHERE ClientId = ? AND FilesetId = ? AND JobId != ? AND JobStatus = ?
		ORDER BY JobId ASC LIMIT 1`,
		job.ClientId, job.FilesetId, job.JobId, statusRunning)
	if err != nil {
		return JobRecord{}, false, err
	}
	if len(rows) == 0 {
		return JobRecord{}, false, nil
	}
	return rows[0], true, nil
}

// CancelJob marks jobid canceled, the same status transition the original
// applies to a lower-priority duplicate it preempts.
func (c *Catalog) CancelJob(ctx context.Context, jobid int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE Job SET JobStatus = ? WHERE JobId = ?`, statusCanceled, jobid)
	return err
}

// GetClientRecord fetches the client row referenced by clientid.
func (c *Catalog) GetClientRecord(ctx context.Context, clientid int64) (ClientRecord, error) {
	var cr ClientRecord
	err := c.db.GetContext(ctx, &cr, `SELECT ClientId AS clientid, Name AS name FROM Client WHERE ClientId = ?`, clientid)
	return cr, err
}

// UpdateJobStartRecord stamps a job's StartTime. It is called twice: once
// at init, and again right before the storage worker job starts, so that
// files created by pre-job hooks between the two are not double-counted.
func (c *Catalog) UpdateJobStartRecord(ctx context.Context, jobid int64, startTime time.Time) error {
	_, err := c.db.ExecContext(ctx, `UPDATE Job SET StartTime = ? WHERE JobId = ?`, startTime, jobid)
	return err
}

// UpdateJobEndRecord writes the final level, counters and status for jobid.
func (c *Catalog) UpdateJobEndRecord(ctx context.Context, jr JobRecord) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE Job SET Level = ?, EndTime = ?, JobStatus = ?, JobFiles = ?, JobBytes = ?, JobErrors = ?
		WHERE JobId = ?`,
		jr.Level, jr.EndTime, jr.JobStatus, jr.JobFiles, jr.JobBytes, jr.JobErrors, jr.JobId)
	return err
}

// UpdateJobTimestamps rewrites a job's StartTime, EndTime and JobTDate to
// match previous_jr. This is the central correctness property of virtual
// backup: subsequent incremental backups must measure "changed since"
// relative to the consolidated chain's true end, not the synthetic job's
// own (much shorter) run time.
func (c *Catalog) UpdateJobTimestamps(ctx context.Context, jobid int64, previous JobRecord) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE Job SET StartTime = ?, EndTime = ?, JobTDate = ? WHERE JobId = ?`,
		previous.StartTime, previous.EndTime, previous.JobTDate, jobid)
	return err
}

// BatchConn is a dedicated connection used for the (potentially large)
// file-list query, kept separate from the primary connection so a long
// streaming read never blocks the job's other catalog traffic.
type BatchConn struct {
	conn *sqlx.Conn
}

// OpenBatchConnection acquires a dedicated connection for file-list reads.
func (c *Catalog) OpenBatchConnection(ctx context.Context) (*BatchConn, error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &BatchConn{conn: conn}, nil
}

func (b *BatchConn) Close() error { return b.conn.Close() }

// GetFileList streams every (Path, Filename, FileIndex, JobId, LStat) row
// for jobids, ordered by JobId ascending, invoking handler once per row.
func (b *BatchConn) GetFileList(ctx context.Context, jobids []int64, handler func(FileRow) error) error {
	if len(jobids) == 0 {
		return nil
	}
	query, args := expandIn(`
		SELECT p.Path AS path, f.Name AS filename, f.FileIndex AS fileindex, f.JobId AS jobid, COALESCE(f.LStat, '') AS lstat
		FROM File f JOIN Path p ON f.PathId = p.PathId
		WHERE f.JobId IN (%s)
		ORDER BY f.JobId ASC`, jobids)

	rows, err := b.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r FileRow
		if err := rows.StructScan(&r); err != nil {
			return err
		}
		if err := handler(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// FillDeletedFiles inserts one File row with FileIndex=0 under newJobId
// for each entry in deleted, copying PathId/LStat/MD5/Name from the File
// row that originally recorded the deletion. deleted must already be
// resolved to the most-recent-(Path,Filename)-wins view of the chain
// (see bootstrap.Set) — this method does no chain resolution of its own.
func (c *Catalog) FillDeletedFiles(ctx context.Context, deleted []DeletedSelection, newJobId int64) (int64, error) {
	var n int64
	for _, d := range deleted {
		var r DeletedFileRow
		err := c.db.GetContext(ctx, &r, `
			SELECT f.PathId AS pathid, f.LStat AS lstat, f.MD5 AS md5, f.Name AS name
			FROM File f JOIN Path p ON f.PathId = p.PathId
			WHERE p.Path = ? AND f.Name = ? AND f.JobId = ? AND f.FileIndex = 0`,
			d.Path, d.Filename, d.JobId)
		if err != nil {
			return n, err
		}
		if _, err := c.db.ExecContext(ctx, `
			INSERT INTO File (FileIndex, JobId, PathId, LStat, MD5, Name)
			VALUES (0, ?, ?, ?, ?, ?)`,
			newJobId, r.PathId, r.LStat, r.MD5, r.Name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PurgeJobsFromCatalog deletes jobids and their associated File rows, used
// when AlwaysIncremental retention consolidates a chain away after a
// successful run.
func (c *Catalog) PurgeJobsFromCatalog(ctx context.Context, jobids []int64) error {
	if len(jobids) == 0 {
		return nil
	}
	fileQuery, args := expandIn(`DELETE FROM File WHERE JobId IN (%s)`, jobids)
	if _, err := c.db.ExecContext(ctx, fileQuery, args...); err != nil {
		return err
	}
	jobQuery, args := expandIn(`DELETE FROM Job WHERE JobId IN (%s)`, jobids)
	_, err := c.db.ExecContext(ctx, jobQuery, args...)
	return err
}

// expandIn substitutes a "?, ?, ..." placeholder list for %s in query and
// returns the matching argument slice, since database/sql has no native
// slice-expansion for IN clauses.
func expandIn(query string, ids []int64) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	return fmt.Sprintf(query, placeholders), args
}
