package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cookfarm/cookfarm/pkg/utils"
)

const (
	fileMagic     = "cookfarm-meta"
	formatVersion = uint32(1)
)

// container wraps the table with a header so a truncated or foreign file is
// detected instead of decoding into an empty table
type container struct {
	Magic   string `msgpack:"magic"`
	Version uint32 `msgpack:"version"`
	Table   *Table `msgpack:"table"`
}

// Encode serializes the table
func Encode(t *Table) ([]byte, error) {
	data, err := msgpack.Marshal(&container{Magic: fileMagic, Version: formatVersion, Table: t})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata table: %w", err)
	}
	return data, nil
}

// Decode parses a serialized table
func Decode(data []byte) (*Table, error) {
	var c container
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	if c.Magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptTable, c.Magic)
	}
	if c.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptTable, c.Version)
	}
	if c.Table == nil {
		c.Table = New()
	}
	c.Table.init()
	return c.Table, nil
}

// Save writes the table to path atomically
func Save(fsu *utils.FileSystemUtils, path string, t *Table) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := fsu.WriteFile(path, data); err != nil {
		return fmt.Errorf("save metadata table %s: %w", path, err)
	}
	return nil
}

// Load reads the table stored at path
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load metadata table: %w", err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load metadata table %s: %w", path, err)
	}
	return t, nil
}

// LoadOrNew reads the table at path, returning an empty table when the file
// does not exist yet
func LoadOrNew(path string) (*Table, error) {
	t, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	return t, err
}
