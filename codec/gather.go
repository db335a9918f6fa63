// codec/gather.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/mmp/dedupvol/volume"
)

func encodeBlockHeader(h volume.BlockHeader) []byte {
	var buf bytes.Buffer
	buf.Grow(blockHeaderSize)
	_ = binary.Write(&buf, binary.LittleEndian, &h)
	return buf.Bytes()
}

func encodeRecordHeader(h volume.RecordHeader) []byte {
	var buf bytes.Buffer
	buf.Grow(recordHeaderSize)
	_ = binary.Write(&buf, binary.LittleEndian, &h)
	return buf.Bytes()
}

// Gather reconstructs the upstream block stored at blockIndex into
// dest[:dest_size], the inverse of Scatter. Any segment read failure
// returns an error with dest left in a partially written, unusable state.
func Gather(vol *volume.Volume, blockIndex uint64, dest []byte) (int, error) {
	block, err := vol.ReadBlock(blockIndex)
	if err != nil {
		return 0, err
	}
	if int(block.Header.BlockSize) > len(dest) {
		return 0, ErrDestTooSmall
	}

	pos := copy(dest, encodeBlockHeader(block.Header))

	records, err := vol.ReadRecords(block.StartRecord, block.RecordCount)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		pos += copy(dest[pos:], encodeRecordHeader(rec.Header))
		data, err := vol.ReadData(volume.Location{FileIndex: rec.FileIndex, Begin: rec.Begin}, rec.Size)
		if err != nil {
			return 0, err
		}
		pos += copy(dest[pos:], data)
	}

	return pos, nil
}
