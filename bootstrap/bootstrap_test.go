// bootstrap/bootstrap_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package bootstrap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMostRecentJobWins is the bootstrap-chain-resolution property from
// the design notes: the chosen JobId for a (Path, Filename) is the
// largest JobId in the chain holding a non-deleted entry for it.
func TestMostRecentJobWins(t *testing.T) {
	s := NewSet()
	s.Add("/etc/", "passwd", 100, 1)
	s.Add("/etc/", "passwd", 101, 5)
	s.Add("/etc/", "hosts", 100, 2)

	entries := s.Entries()
	require.Len(t, entries, 2)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Filename] = e
	}
	require.Equal(t, int64(101), byName["passwd"].JobId)
	require.Equal(t, int64(100), byName["hosts"].JobId)
}

func TestDeletedFileExcluded(t *testing.T) {
	s := NewSet()
	s.Add("/etc/", "passwd", 100, 1)
	s.Add("/etc/", "passwd", 101, 0)

	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Entries())
}

func TestDeletedThenRecreated(t *testing.T) {
	s := NewSet()
	s.Add("/etc/", "passwd", 100, 1)
	s.Add("/etc/", "passwd", 101, 0)
	s.Add("/etc/", "passwd", 102, 7)

	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int64(102), entries[0].JobId)
	require.Equal(t, int32(7), entries[0].FileIndex)
}

func TestDeletedExcludesRecreated(t *testing.T) {
	s := NewSet()
	// passwd: deleted by job 100, recreated by job 102 -- live, must not
	// appear in Deleted() even though an earlier job set FileIndex=0.
	s.Add("/etc/", "passwd", 100, 0)
	s.Add("/etc/", "passwd", 102, 7)
	// hosts: deleted by job 100 and never recreated -- must appear.
	s.Add("/etc/", "hosts", 100, 0)

	deleted := s.Deleted()
	require.Len(t, deleted, 1, "passwd was recreated by job 102 and must not appear")
	require.Equal(t, "hosts", deleted[0].Filename)
	require.Equal(t, int64(100), deleted[0].JobId)
}

func TestBuildRangesCompressesConsecutive(t *testing.T) {
	entries := []Entry{
		{Path: "/a", Filename: "1", JobId: 100, FileIndex: 1},
		{Path: "/a", Filename: "2", JobId: 100, FileIndex: 2},
		{Path: "/a", Filename: "3", JobId: 100, FileIndex: 3},
		{Path: "/a", Filename: "5", JobId: 100, FileIndex: 5},
	}
	ranges := BuildRanges(entries, map[int64][]string{100: {"Vol-0001"}})

	require.Len(t, ranges, 2)
	require.Equal(t, Range{Volume: "Vol-0001", JobId: 100, First: 1, Last: 3}, ranges[0])
	require.Equal(t, Range{Volume: "Vol-0001", JobId: 100, First: 5, Last: 5}, ranges[1])
}

func TestWriteReadRoundTrip(t *testing.T) {
	ranges := []Range{
		{Volume: "Vol-0001", JobId: 100, First: 1, Last: 3},
		{Volume: "Vol-0002", JobId: 101, First: 1, Last: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ranges))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, ranges, got)
}

func TestBuildRangesMultipleVolumesPerJob(t *testing.T) {
	entries := []Entry{{Path: "/a", Filename: "1", JobId: 100, FileIndex: 1}}
	ranges := BuildRanges(entries, map[int64][]string{100: {"Vol-0001", "Vol-0002"}})
	require.Len(t, ranges, 2)
}
