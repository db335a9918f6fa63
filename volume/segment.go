// volume/segment.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import "os"

// segmentFile is a single append-only backing file for one of the
// volume's three logical segment streams. It is adapted from the
// teacher's RobustWriteCloser idiom (storage/packidx.go): a small,
// single-purpose writer that always appends and tracks its own size.
// Unlike the teacher's version, errors are returned rather than treated
// as fatal, since the volume must mark itself not-ok and let the caller
// decide how to proceed (spec.md §7).
type segmentFile struct {
	f    *os.File
	size int64
}

func openSegmentFile(path string, perm os.FileMode) (*segmentFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segmentFile{f: f, size: fi.Size()}, nil
}

// append writes b at the current end of the file and returns the byte
// offset at which it was written.
func (s *segmentFile) append(b []byte) (int64, error) {
	off := s.size
	n, err := s.f.WriteAt(b, off)
	s.size += int64(n)
	if err != nil {
		return off, err
	}
	return off, nil
}

func (s *segmentFile) readAt(buf []byte, offset int64) error {
	_, err := s.f.ReadAt(buf, offset)
	return err
}

func (s *segmentFile) truncate() error {
	if err := s.f.Truncate(0); err != nil {
		return err
	}
	s.size = 0
	return nil
}

func (s *segmentFile) flush() error {
	return s.f.Sync()
}

func (s *segmentFile) close() error {
	return s.f.Close()
}
