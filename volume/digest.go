// volume/digest.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DigestSize is the number of bytes in a Digest.
const DigestSize = 32

// Digest is a fixed-size secure digest of a block's record payloads,
// analogous to the teacher's content-addressed storage.Hash but computed
// over a block's data after the fact rather than used to address it.
type Digest [DigestSize]byte

// computeDigest returns the SHAKE256 digest of b, mirroring
// storage.HashBytes.
func computeDigest(b []byte) Digest {
	var d Digest
	sha3.ShakeSum256(d[:], b)
	return d
}

// String returns the hexadecimal encoding of the digest.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// VerifyBlock recomputes the digest of block i's record payloads by
// re-reading them from the data segments, the same way fsckHash re-reads
// a blob from its backend and recomputes its hash. It returns an error if
// any referenced record payload can no longer be read; a caller that
// wants to detect silent corruption should keep the returned Digest from
// a prior Verify pass and compare.
func (v *Volume) VerifyBlock(i uint64) (Digest, error) {
	blk, err := v.ReadBlock(i)
	if err != nil {
		return Digest{}, err
	}
	recs, err := v.ReadRecords(blk.StartRecord, blk.RecordCount)
	if err != nil {
		return Digest{}, err
	}

	var buf []byte
	for _, r := range recs {
		loc := Location{FileIndex: r.FileIndex, Begin: r.Begin}
		data, err := v.ReadData(loc, r.Size)
		if err != nil {
			return Digest{}, fmt.Errorf("volume: verify block %d: %w", i, err)
		}
		buf = append(buf, data...)
	}
	return computeDigest(buf), nil
}

// Verify walks every block in the volume and returns its recomputed
// digest, the volume-scoped equivalent of the teacher's Backend.Fsck
// sweep over every stored hash. It stops at the first unreadable block.
func (v *Volume) Verify() ([]Digest, error) {
	n := v.Size()
	digests := make([]Digest, n)
	for i := int64(0); i < n; i++ {
		d, err := v.VerifyBlock(uint64(i))
		if err != nil {
			return nil, err
		}
		digests[i] = d
	}
	return digests, nil
}
