// volume/config.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package volume

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DefaultBlockSize is used when a caller opens a volume without
// specifying a blocksize explicitly.
const DefaultBlockSize = 4096

// DefaultPermissions is used when a caller creates a volume without
// specifying permissions explicitly.
const DefaultPermissions os.FileMode = 0600

var configMagic = [4]byte{'D', 'v', 'C', '1'}

const configFormatVersion = 1

// config is the persisted, immutable-after-creation state for a volume:
// the format version (so a future reader can detect an incompatible
// on-disk layout before trusting the segment files), the blocksize and
// the file permissions chosen at creation time.
type config struct {
	Version     uint32
	BlockSize   uint32
	Permissions uint32
}

func writeConfig(path string, c config, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(configMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, &c); err != nil {
		return err
	}
	return f.Sync()
}

func readConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return config{}, err
	}
	if magic != configMagic {
		return config{}, fmt.Errorf("volume: bad config magic in %s", path)
	}

	var c config
	if err := binary.Read(f, binary.LittleEndian, &c); err != nil {
		return config{}, err
	}
	return c, nil
}

// isPowerOfTwo reports whether n is a positive power of two, as required
// for the configured block size.
func isPowerOfTwo(n uint32) bool {
	return n > 0 && n&(n-1) == 0
}
