// device/options.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package device

import (
	"fmt"
	"strconv"
	"strings"

	u "github.com/mmp/dedupvol/util"
	"github.com/mmp/dedupvol/volume"
)

// parseOptions parses a comma-separated key=value options string, as
// given to Open. The only recognized key today is "blocksize"; unknown
// keys produce a warning but do not fail the parse. A malformed
// blocksize value returns ErrBadOptions rather than killing the process,
// since a bad option string must not take down the job that reported it.
func parseOptions(log *u.Logger, options string) (uint32, error) {
	blockSize := uint32(0)

	if options != "" {
		for _, kv := range strings.Split(options, ",") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			key := parts[0]
			val := ""
			if len(parts) == 2 {
				val = parts[1]
			}

			switch key {
			case "blocksize":
				n, err := parseByteSize(val)
				if err != nil {
					return 0, fmt.Errorf("%w: bad block size %q: %v", ErrBadOptions, val, err)
				}
				blockSize = n
			default:
				log.Warning("unknown device option %q", key)
			}
		}
	}

	if blockSize == 0 {
		log.Warning("Blocksize was not set explicitly; set to default 4k")
		blockSize = volume.DefaultBlockSize
	}
	return blockSize, nil
}

// parseByteSize parses a size with an optional k/K/m/M/g/G suffix.
func parseByteSize(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	size := n * mult
	if size == 0 || size > 1<<32-1 {
		return 0, fmt.Errorf("size out of range")
	}
	return uint32(size), nil
}
