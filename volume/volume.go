// volume/volume.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// MaxDataFileSize bounds how large a single data-segment file is allowed to
// grow before append_data rolls over to a new one. It plays the same role
// the teacher's MaxDiskPackFileSize plays for pack files in storage/disk.go;
// the exact value does not matter for correctness, only for keeping any one
// file from growing without bound.
const MaxDataFileSize = 1 << 31

// Mode mirrors the host's DeviceMode enum as it is threaded through
// Open: CreateReadWrite creates the volume if it is missing, the
// OPEN_* modes require one to already exist at path.
type Mode int

const (
	CreateReadWrite Mode = iota
	OpenReadWrite
	OpenReadOnly
	OpenWriteOnly
)

// Volume is the stateless, positional append-only store described by the
// volume format: three segment streams (data, records, blocks) plus an
// immutable configuration file. Volume has no notion of read/write cursor
// or mount state; that belongs to the device layer above it.
type Volume struct {
	path string
	cfg  config

	data    []*segmentFile
	records *segmentFile
	blocks  *segmentFile

	ok bool
}

func dataFilePath(path string, index uint32) string {
	return filepath.Join(path, "data", fmt.Sprintf("%010d", index))
}

// Open creates or opens the volume at path. mode follows the host's
// DeviceMode: CreateReadWrite creates the volume's segments and
// configuration (recording permissions and blockSize) if none exist yet
// at path, or opens them as-is if they do. The OPEN_* modes require a
// volume to already exist and fail with ErrDoesNotExist otherwise.
// permissions and blockSize are only consulted on creation; opening an
// existing volume validates blockSize against the recorded configuration
// when it is explicitly non-zero, failing with ErrConfigMismatch on a
// mismatch, and otherwise reads permissions back from that configuration.
func Open(path string, mode Mode, permissions os.FileMode, blockSize uint32) (*Volume, error) {
	configPath := filepath.Join(path, "config")

	_, err := os.Stat(configPath)
	switch {
	case os.IsNotExist(err):
		if mode != CreateReadWrite {
			return nil, ErrDoesNotExist
		}
		return create(path, permissions, blockSize)
	case err != nil:
		return nil, err
	}

	cfg, err := readConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Version != configFormatVersion {
		return nil, fmt.Errorf("volume: unsupported config version %d in %s", cfg.Version, path)
	}
	if blockSize != 0 && blockSize != cfg.BlockSize {
		return nil, ErrConfigMismatch
	}

	v := &Volume{path: path, cfg: cfg, ok: true}
	if err := v.openSegments(os.FileMode(cfg.Permissions)); err != nil {
		return nil, err
	}
	return v, nil
}

func create(path string, permissions os.FileMode, blockSize uint32) (*Volume, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if !isPowerOfTwo(blockSize) {
		return nil, ErrBadBlockSize
	}
	if permissions == 0 {
		permissions = DefaultPermissions
	}

	dirPerm := permissions | 0700
	for _, d := range []string{path, filepath.Join(path, "data")} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return nil, err
		}
	}

	cfg := config{Version: configFormatVersion, BlockSize: blockSize, Permissions: uint32(permissions)}
	if err := writeConfig(filepath.Join(path, "config"), cfg, permissions); err != nil {
		return nil, err
	}

	v := &Volume{path: path, cfg: cfg, ok: true}
	if err := v.openSegments(permissions); err != nil {
		return nil, err
	}
	return v, nil
}

// openSegments opens the records and blocks segment files and scans the
// data directory to resume appending at the most recently written data
// file, the way the teacher's disk.go resumes at the highest-numbered pack
// file on restart. perm governs any segment file created for the first
// time; it has no effect on files that already exist.
func (v *Volume) openSegments(perm os.FileMode) error {
	records, err := openSegmentFile(filepath.Join(v.path, "records"), perm)
	if err != nil {
		return err
	}
	blocks, err := openSegmentFile(filepath.Join(v.path, "blocks"), perm)
	if err != nil {
		records.close()
		return err
	}
	v.records = records
	v.blocks = blocks

	entries, err := os.ReadDir(filepath.Join(v.path, "data"))
	if err != nil {
		return err
	}
	var indices []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		indices = append(indices, uint32(n))
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	if len(indices) == 0 {
		sf, err := openSegmentFile(dataFilePath(v.path, 0), perm)
		if err != nil {
			return err
		}
		v.data = []*segmentFile{sf}
		return nil
	}

	v.data = make([]*segmentFile, len(indices))
	for i, idx := range indices {
		if int(idx) != i {
			return fmt.Errorf("volume: gap in data segment sequence at %s", dataFilePath(v.path, idx))
		}
		sf, err := openSegmentFile(dataFilePath(v.path, idx), perm)
		if err != nil {
			return err
		}
		v.data[i] = sf
	}
	return nil
}

// Name reports the volume's backing directory, mirroring the teacher's
// Backend.String.
func (v *Volume) Name() string { return v.path }

// BlockSize reports the blocksize recorded at creation time.
func (v *Volume) BlockSize() uint32 { return v.cfg.BlockSize }

// GetPermissions reports the file permissions recorded at creation time,
// so a caller that recreates the volume (the device layer's secure-erase
// truncate path) can preserve them.
func (v *Volume) GetPermissions() os.FileMode { return os.FileMode(v.cfg.Permissions) }

// IsOk reports whether the volume is still usable; once false, every
// mutating method returns ErrNotOk until the volume is reopened.
func (v *Volume) IsOk() bool { return v.ok }

func (v *Volume) fail(err error) error {
	if err != nil {
		v.ok = false
	}
	return err
}

// AppendData appends a record's payload to the currently active data
// segment, rolling over to a new one first if the payload would push the
// active segment past MaxDataFileSize. It returns the Location the payload
// was written at.
func (v *Volume) AppendData(b []byte) (Location, error) {
	if !v.ok {
		return Location{}, ErrNotOk
	}
	active := v.data[len(v.data)-1]
	if active.size > 0 && active.size+int64(len(b)) > MaxDataFileSize {
		idx := uint32(len(v.data))
		sf, err := openSegmentFile(dataFilePath(v.path, idx), os.FileMode(v.cfg.Permissions))
		if err != nil {
			return Location{}, v.fail(err)
		}
		v.data = append(v.data, sf)
		active = sf
	}

	idx := uint32(len(v.data) - 1)
	off, err := active.append(b)
	if err != nil {
		return Location{}, v.fail(err)
	}
	return Location{FileIndex: idx, Begin: uint64(off)}, nil
}

// ReadData reads the n bytes located at loc.
func (v *Volume) ReadData(loc Location, n uint32) ([]byte, error) {
	if int(loc.FileIndex) >= len(v.data) {
		return nil, ErrOutOfRange
	}
	buf := make([]byte, n)
	if err := v.data[loc.FileIndex].readAt(buf, int64(loc.Begin)); err != nil {
		return nil, err
	}
	return buf, nil
}

// AppendRecords appends one or more record descriptors to the records
// segment and returns the index of the first one written.
func (v *Volume) AppendRecords(ds []RecordDescriptor) (uint64, error) {
	if !v.ok {
		return 0, ErrNotOk
	}
	start := uint64(v.records.size) / uint64(recordDescSize)
	for _, d := range ds {
		if _, err := v.records.append(encodeRecordDescriptor(d)); err != nil {
			return 0, v.fail(err)
		}
	}
	return start, nil
}

// ReadRecords reads count consecutive record descriptors starting at
// index start.
func (v *Volume) ReadRecords(start uint64, count uint32) ([]RecordDescriptor, error) {
	n := v.records.size / int64(recordDescSize)
	if int64(start)+int64(count) > n {
		return nil, ErrOutOfRange
	}
	out := make([]RecordDescriptor, count)
	buf := make([]byte, recordDescSize)
	for i := uint32(0); i < count; i++ {
		if err := v.records.readAt(buf, int64(start+uint64(i))*int64(recordDescSize)); err != nil {
			return nil, err
		}
		out[i] = decodeRecordDescriptor(buf)
	}
	return out, nil
}

// AppendBlock appends one block descriptor to the blocks segment and
// returns the index it was written at. Invariant: callers must have
// already called AppendData and AppendRecords for this block's contents;
// see codec.Scatter.
func (v *Volume) AppendBlock(d BlockDescriptor) (uint64, error) {
	if !v.ok {
		return 0, ErrNotOk
	}
	idx := uint64(v.blocks.size) / uint64(blockDescSize)
	if _, err := v.blocks.append(encodeBlockDescriptor(d)); err != nil {
		return 0, v.fail(err)
	}
	return idx, nil
}

// ReadBlock reads the block descriptor at index i.
func (v *Volume) ReadBlock(i uint64) (BlockDescriptor, error) {
	if int64(i) >= v.Size() {
		return BlockDescriptor{}, ErrOutOfRange
	}
	buf := make([]byte, blockDescSize)
	if err := v.blocks.readAt(buf, int64(i)*int64(blockDescSize)); err != nil {
		return BlockDescriptor{}, err
	}
	return decodeBlockDescriptor(buf), nil
}

// Size reports the number of blocks appended to the volume so far.
func (v *Volume) Size() int64 {
	return v.blocks.size / int64(blockDescSize)
}

// Reset truncates every segment stream back to empty, used by the device
// layer's relabel-on-empty-volume special case (dedup_file_device.cc's
// d_write: current_block == 0 && vol.size() == 1).
func (v *Volume) Reset() error {
	if !v.ok {
		return ErrNotOk
	}
	if err := v.blocks.truncate(); err != nil {
		return v.fail(err)
	}
	if err := v.records.truncate(); err != nil {
		return v.fail(err)
	}
	for _, d := range v.data[1:] {
		if err := d.close(); err != nil {
			return v.fail(err)
		}
		if err := os.Remove(d.f.Name()); err != nil {
			return v.fail(err)
		}
	}
	v.data = v.data[:1]
	if err := v.data[0].truncate(); err != nil {
		return v.fail(err)
	}
	return nil
}

// Flush syncs every segment stream to stable storage, matching the
// append-before-index ordering invariant: data and records must be durable
// before the block descriptor that references them is trusted.
func (v *Volume) Flush() error {
	if !v.ok {
		return ErrNotOk
	}
	for _, d := range v.data {
		if err := d.flush(); err != nil {
			return v.fail(err)
		}
	}
	if err := v.records.flush(); err != nil {
		return v.fail(err)
	}
	if err := v.blocks.flush(); err != nil {
		return v.fail(err)
	}
	return nil
}

// Close releases the volume's open file descriptors without deleting any
// data.
func (v *Volume) Close() error {
	var first error
	for _, d := range v.data {
		if err := d.close(); err != nil && first == nil {
			first = err
		}
	}
	if err := v.records.close(); err != nil && first == nil {
		first = err
	}
	if err := v.blocks.close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Delete removes a volume's entire backing directory. Used by the device
// layer's secure-erase truncate path (dedup_file_device.cc's delete_volume).
func Delete(path string) error {
	return os.RemoveAll(path)
}
