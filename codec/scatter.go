// codec/scatter.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/mmp/dedupvol/volume"
)

var (
	blockHeaderSize  = binary.Size(volume.BlockHeader{})
	recordHeaderSize = binary.Size(volume.RecordHeader{})
)

func decodeBlockHeader(b []byte) volume.BlockHeader {
	var h volume.BlockHeader
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &h)
	return h
}

func decodeRecordHeader(b []byte) volume.RecordHeader {
	var h volume.RecordHeader
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &h)
	return h
}

// Scatter translates one upstream block in buf[:size] into the volume's
// segmented layout: each record's payload lands in a data segment, the
// record descriptors land in the records segment, and finally one block
// descriptor ties them together. It returns the number of bytes of buf
// that made up the block (the declared BlockSize), so the caller can
// advance past it for the next block in a larger buffer.
//
// Records are appended before the block descriptor so a partial failure
// never leaves a block descriptor referencing records that don't exist.
func Scatter(vol *volume.Volume, buf []byte, size int) (int, error) {
	if size < blockHeaderSize {
		return 0, ErrBlockTooShort
	}
	blockHdr := decodeBlockHeader(buf[:blockHeaderSize])
	blockSize := int(blockHdr.BlockSize)
	if size < blockSize {
		return 0, ErrIncompleteBlock
	}

	var descriptors []volume.RecordDescriptor
	pos := blockHeaderSize
	for pos < blockSize {
		if blockSize-pos < recordHeaderSize {
			return 0, ErrBadRecord
		}
		recHdr := decodeRecordHeader(buf[pos : pos+recordHeaderSize])
		payloadStart := pos + recordHeaderSize
		payloadEnd := payloadStart + int(recHdr.DataSize)
		if payloadEnd > blockSize {
			payloadEnd = blockSize
		}
		payload := buf[payloadStart:payloadEnd]

		loc, err := vol.AppendData(payload)
		if err != nil {
			return 0, err
		}
		descriptors = append(descriptors, volume.RecordDescriptor{
			Header:    recHdr,
			FileIndex: loc.FileIndex,
			Begin:     loc.Begin,
			Size:      uint32(len(payload)),
		})
		pos = payloadEnd
	}

	start, err := vol.AppendRecords(descriptors)
	if err != nil {
		return 0, err
	}
	if _, err := vol.AppendBlock(volume.BlockDescriptor{
		Header:      blockHdr,
		StartRecord: start,
		RecordCount: uint32(len(descriptors)),
	}); err != nil {
		return 0, err
	}

	return blockSize, nil
}
