// volume/header.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

// BlockHeader is the wire-format header that precedes a sequence of
// records in an upstream block buffer. BlockSize covers the header and
// every record that follows it and is authoritative for where the block
// ends; see codec.Scatter.
type BlockHeader struct {
	CheckSum    uint32
	BlockSize   uint32
	BlockNumber uint32
	ID          [4]byte
}

// RecordHeader is the wire-format header that precedes one record's
// payload inside a block buffer. DataSize is the payload length as
// declared by the sender; the payload actually stored on disk may be
// shorter if the declared size runs past the end of the block.
type RecordHeader struct {
	FileIndex int32
	Stream    int32
	DataSize  uint32
}

// Location identifies where append_data placed a record's payload: which
// data-segment file, and the byte offset within it.
type Location struct {
	FileIndex uint32
	Begin     uint64
}

// RecordDescriptor is one fixed-size entry in the records segment. It
// captures the original record header plus where its payload landed in
// the data segments.
type RecordDescriptor struct {
	Header    RecordHeader
	FileIndex uint32
	Begin     uint64
	Size      uint32
}

// BlockDescriptor is one fixed-size entry in the blocks segment. It
// captures the original block header plus the contiguous run of record
// descriptors that belong to it.
type BlockDescriptor struct {
	Header      BlockHeader
	StartRecord uint64
	RecordCount uint32
}
