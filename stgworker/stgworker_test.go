// stgworker/stgworker_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package stgworker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	addr := fmt.Sprintf("inproc://stgworker-test-%d", time.Now().UnixNano())
	srv, err := NewServer(addr)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, addr
}

func TestStartJobRunAndWait(t *testing.T) {
	srv, addr := newTestServer(t)
	srv.SetTerminationStatus(TerminationStatus{
		SDJobStatus: StatusTerminated,
		JobFiles:    42,
		JobBytes:    1 << 20,
	})

	c, err := Connect(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.StartJob([]string{"Read-1"}, []string{"Write-1"}, true, []byte("bootstrap-bytes")))
	require.NoError(t, c.Run())

	status, err := c.WaitForTermination(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusTerminated, status.SDJobStatus)
	require.Equal(t, int64(42), status.JobFiles)

	started := srv.StartedJobs()
	require.Len(t, started, 1)
	require.Equal(t, []string{"Read-1"}, started[0].ReadStorage)
	require.Equal(t, []byte("bootstrap-bytes"), started[0].BSR)
}

func TestStartJobRejectsEmptyStorageList(t *testing.T) {
	srv, addr := newTestServer(t)
	_ = srv

	c, err := Connect(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	err = c.StartJob(nil, []string{"Write-1"}, false, nil)
	require.ErrorIs(t, err, ErrNoStorage)
}

func TestWaitForTerminationRespectsCancellation(t *testing.T) {
	srv, addr := newTestServer(t)
	srv.SetTerminationStatus(TerminationStatus{SDJobStatus: StatusRunning})

	c, err := Connect(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.WaitForTermination(ctx, time.Millisecond)
	require.Error(t, err)
}
