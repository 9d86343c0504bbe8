package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/desertwitch/imgfs/internal/pathing"
	"github.com/desertwitch/imgfs/internal/schema"
)

// EntrySize is the size of one encoded directory entry record.
const EntrySize = 64

const nameOffset = 8

// Entry is a single name to inode binding inside a directory.
type Entry struct {
	Name  string
	Inode uint32
	Type  schema.FileType
}

// IsDir returns whether the entry refers to a directory.
func (e Entry) IsDir() bool {
	return e.Type == schema.TypeDirectory
}

func (e Entry) encode() []byte {
	buf := make([]byte, EntrySize)

	binary.LittleEndian.PutUint32(buf[0:], e.Inode)
	buf[4] = byte(e.Type)
	buf[5] = byte(len(e.Name))
	copy(buf[nameOffset:], e.Name)

	return buf
}

func decodeEntry(buf []byte) (Entry, error) {
	e := Entry{
		Inode: binary.LittleEndian.Uint32(buf[0:]),
		Type:  schema.FileType(buf[4]),
	}

	nameLen := int(buf[5])

	switch {
	case e.Inode == 0:
		return Entry{}, fmt.Errorf("(dir-decode) %w: entry without inode", schema.ErrCorruptFilesystem)

	case e.Type != schema.TypeFile && e.Type != schema.TypeDirectory:
		return Entry{}, fmt.Errorf("(dir-decode) %w: entry type %d", schema.ErrCorruptFilesystem, buf[4])

	case nameLen == 0 || nameLen > pathing.MaxNameLen:
		return Entry{}, fmt.Errorf("(dir-decode) %w: name length %d", schema.ErrCorruptFilesystem, nameLen)
	}

	e.Name = string(buf[nameOffset : nameOffset+nameLen])

	if err := pathing.ValidateName(e.Name); err != nil {
		return Entry{}, fmt.Errorf("(dir-decode) %w: %w", schema.ErrCorruptFilesystem, err)
	}

	return e, nil
}
