// volume/encode.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import (
	"bytes"
	"encoding/binary"
)

var (
	recordDescSize = binary.Size(RecordDescriptor{})
	blockDescSize  = binary.Size(BlockDescriptor{})
)

func encodeRecordDescriptor(d RecordDescriptor) []byte {
	var buf bytes.Buffer
	buf.Grow(recordDescSize)
	// Errors are impossible: every field is a fixed-size integer or byte
	// array, so binary.Write against a bytes.Buffer never fails.
	_ = binary.Write(&buf, binary.LittleEndian, &d)
	return buf.Bytes()
}

func decodeRecordDescriptor(b []byte) RecordDescriptor {
	var d RecordDescriptor
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &d)
	return d
}

func encodeBlockDescriptor(d BlockDescriptor) []byte {
	var buf bytes.Buffer
	buf.Grow(blockDescSize)
	_ = binary.Write(&buf, binary.LittleEndian, &d)
	return buf.Bytes()
}

func decodeBlockDescriptor(b []byte) BlockDescriptor {
	var d BlockDescriptor
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &d)
	return d
}
