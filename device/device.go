// device/device.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package device

import (
	"fmt"
	"os"

	"github.com/mmp/dedupvol/codec"
	u "github.com/mmp/dedupvol/util"
	"github.com/mmp/dedupvol/volume"
)

// OpenMode mirrors the host's DeviceMode enum: it governs whether a volume
// is created if missing and whether writes are permitted.
type OpenMode int

const (
	CreateReadWrite OpenMode = iota
	OpenReadWrite
	OpenReadOnly
	OpenWriteOnly
)

func (m OpenMode) writable() bool {
	return m == CreateReadWrite || m == OpenReadWrite || m == OpenWriteOnly
}

// toVolumeMode translates the device layer's OpenMode into the volume
// layer's Mode. The two enums are kept distinct because OpenMode also
// carries the device's read/write restriction (writable()), which has no
// meaning at the volume layer.
func (m OpenMode) toVolumeMode() volume.Mode {
	switch m {
	case CreateReadWrite:
		return volume.CreateReadWrite
	case OpenReadWrite:
		return volume.OpenReadWrite
	case OpenReadOnly:
		return volume.OpenReadOnly
	default:
		return volume.OpenWriteOnly
	}
}

type state int

const (
	stateClosed state = iota
	stateMounted
	stateOpen
)

// cursor is the device's positional read/write pointer. FileAddr is
// carried for parity with the host's tape-device cursor but is not
// consulted by this backend: the volume is addressed purely by the
// (File, Block) pair taken as one 64-bit blocks-segment index.
type cursor struct {
	File     uint32
	Block    uint32
	FileAddr uint64
}

// blockIndex returns the logical blocks-segment index this cursor names:
// (file << 32) | block_num.
func (c cursor) blockIndex() uint64 {
	return uint64(c.File)<<32 | uint64(c.Block)
}

func blockIndexToCursor(i uint64) cursor {
	return cursor{File: uint32(i >> 32), Block: uint32(i & 0xFFFFFFFF)}
}

// SecureEraser, when non-nil, is invoked by Truncate instead of the
// default in-place volume reset. It must remove path recursively and
// return once the removal is durable.
type SecureEraser func(path string) error

// Device is the stateful facade over a stateless Volume: it owns the
// mount/open state machine, the positional cursor, and the synthetic
// file-descriptor counter that callers use to guard Close calls against
// stale handles.
type Device struct {
	log *u.Logger

	state state
	vol   *volume.Volume

	path      string
	mode      OpenMode
	blockSize uint32
	secErase  SecureEraser

	cur cursor
	eot bool

	fdCtr int
	curFd int
}

// New constructs a Device in the Closed state. secErase may be nil, in
// which case Truncate always falls back to an in-place volume reset.
func New(log *u.Logger, secErase SecureEraser) *Device {
	return &Device{log: log, secErase: secErase}
}

// Mount transitions Closed -> Mounted.
func (d *Device) Mount() error {
	if d.state != stateClosed {
		return ErrAlreadyMounted
	}
	d.state = stateMounted
	return nil
}

// Unmount transitions Mounted -> Closed. It is a no-op error if a volume
// is still open.
func (d *Device) Unmount() error {
	if d.state == stateOpen {
		return ErrAlreadyOpen
	}
	if d.state != stateMounted {
		return ErrNotMounted
	}
	d.state = stateClosed
	return nil
}

// Open transitions Mounted -> Open, parsing options and opening (or
// creating) the volume at path with the given file permissions. It
// returns the synthetic file descriptor that must be presented to Close.
func (d *Device) Open(path string, mode OpenMode, permissions os.FileMode, options string) (int, error) {
	if d.state == stateClosed {
		return 0, ErrNotMounted
	}
	if d.state == stateOpen {
		return 0, ErrAlreadyOpen
	}
	if mode < CreateReadWrite || mode > OpenWriteOnly {
		return 0, ErrBadMode
	}

	blockSize, err := parseOptions(d.log, options)
	if err != nil {
		return 0, err
	}

	var vol *volume.Volume
	if mode == CreateReadWrite {
		vol, err = volume.Open(path, mode.toVolumeMode(), permissions, blockSize)
	} else {
		vol, err = volume.Open(path, mode.toVolumeMode(), 0, 0)
	}
	if err != nil {
		return 0, err
	}

	d.vol = vol
	d.path = path
	d.mode = mode
	d.blockSize = blockSize
	d.state = stateOpen
	d.cur = cursor{}
	d.eot = false

	d.fdCtr++
	d.curFd = d.fdCtr
	return d.curFd, nil
}

// Close transitions Open -> Mounted, rejecting a stale fd.
func (d *Device) Close(fd int) error {
	if d.state != stateOpen {
		return ErrNotOpen
	}
	if fd != d.curFd {
		return ErrBadFd
	}
	if err := d.vol.Close(); err != nil {
		return err
	}
	d.vol = nil
	d.state = stateMounted
	return nil
}

func (d *Device) requireOpen() error {
	if d.state != stateOpen {
		return ErrNotOpen
	}
	return nil
}

// Write scatters buf[:size] as the next block. It is rejected unless the
// cursor is positioned exactly at the end of the volume, with one
// exception: writing at (0,0) to a volume that already holds exactly one
// block relabels it, resetting the volume first. This is the host's way
// of handling a label rewrite on what it believes is an empty tape.
func (d *Device) Write(buf []byte, size int) (int, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	if !d.mode.writable() {
		return 0, ErrBadMode
	}

	if d.cur == (cursor{}) && d.vol.Size() == 1 {
		if err := d.vol.Reset(); err != nil {
			return 0, err
		}
	} else if d.cur.blockIndex() != uint64(d.vol.Size()) {
		return 0, ErrNotAppend
	}

	n, err := codec.Scatter(d.vol, buf, size)
	if err != nil {
		return 0, err
	}

	d.cur = blockIndexToCursor(uint64(d.vol.Size()))
	return n, nil
}

// Read gathers the block at the current cursor into dest. The
// end-of-tape flag is set once the block just read is the volume's last.
func (d *Device) Read(dest []byte) (int, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}

	idx := d.cur.blockIndex()
	n, err := codec.Gather(d.vol, idx, dest)
	if err != nil {
		return 0, err
	}

	d.eot = idx+1 == uint64(d.vol.Size())
	return n, nil
}

// Reposition moves the cursor without touching the volume; EOT is
// recomputed from the new position.
func (d *Device) Reposition(file, block uint32) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	d.cur = cursor{File: file, Block: block}
	d.eot = d.cur.blockIndex() >= uint64(d.vol.Size())
	return nil
}

// EOD positions the cursor just past the last block and marks EOT.
func (d *Device) EOD() error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	d.cur = blockIndexToCursor(uint64(d.vol.Size()))
	d.eot = true
	return nil
}

// Rewind positions the cursor at the start of the volume. EOT is cleared,
// unless the volume holds no blocks, in which case it is set.
func (d *Device) Rewind() error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	d.cur = cursor{}
	d.eot = d.vol.Size() == 0
	return nil
}

// AtEOT reports whether the device believes it is at end-of-tape.
func (d *Device) AtEOT() bool { return d.eot }

// Flush establishes a durability barrier over the open volume.
func (d *Device) Flush() error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.vol.Flush()
}

// Truncate empties the volume. If a SecureEraser is configured, the
// volume's directory is deleted and recreated with the same path,
// permissions and block size; otherwise the volume is reset in place.
func (d *Device) Truncate() error {
	if err := d.requireOpen(); err != nil {
		return err
	}

	if d.secErase == nil {
		if err := d.vol.Reset(); err != nil {
			return err
		}
		d.cur = cursor{}
		d.eot = false
		return nil
	}

	path, blockSize := d.path, d.vol.BlockSize()
	permissions := d.vol.GetPermissions()
	if err := d.vol.Close(); err != nil {
		return err
	}
	if err := d.secErase(path); err != nil {
		return err
	}
	vol, err := volume.Open(path, volume.CreateReadWrite, permissions, blockSize)
	if err != nil {
		return err
	}
	d.vol = vol
	d.cur = cursor{}
	d.eot = false
	return nil
}

// Ioctl and Lseek are unsupported by this backend, matching the host's
// dedup_file_device: there is no underlying descriptor to manipulate.
func (d *Device) Ioctl(int, interface{}) error { return fmt.Errorf("device: ioctl not supported") }
func (d *Device) Lseek(int64, int) (int64, error) {
	return -1, fmt.Errorf("device: lseek not supported")
}
