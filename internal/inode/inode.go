// Package inode implements inode records, the inode table persisted in
// reserved image blocks, and the mapping from an inode's logical content to
// the data blocks holding it.
package inode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/desertwitch/imgfs/internal/schema"
)

const (
	// Size is the size of one encoded inode record.
	Size = 128

	// DirectBlocks is the number of direct block pointers per inode.
	DirectBlocks = 12
)

// Inode is the decoded metadata record of a file or directory. A block
// pointer of zero means no block.
type Inode struct {
	Type       schema.FileType
	BlockCount uint32
	Size       uint64
	Direct     [DirectBlocks]uint32
	Indirect   uint32
	Created    time.Time
	Modified   time.Time
	Accessed   time.Time
}

// IsDir returns whether the inode is a directory.
func (ino *Inode) IsDir() bool {
	return ino.Type == schema.TypeDirectory
}

// Encode serializes the inode into a record of [Size] bytes.
func (ino *Inode) Encode() []byte {
	buf := make([]byte, Size)
	le := binary.LittleEndian

	buf[0] = byte(ino.Type)
	le.PutUint32(buf[4:], ino.BlockCount)
	le.PutUint64(buf[8:], ino.Size)

	for i, ptr := range ino.Direct {
		le.PutUint32(buf[16+i*4:], ptr)
	}

	le.PutUint32(buf[64:], ino.Indirect)
	le.PutUint64(buf[72:], unixNano(ino.Created))
	le.PutUint64(buf[80:], unixNano(ino.Modified))
	le.PutUint64(buf[88:], unixNano(ino.Accessed))

	return buf
}

// Decode parses an inode record.
func Decode(buf []byte) (*Inode, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("(inode-decode) %w: short record", schema.ErrCorruptFilesystem)
	}

	le := binary.LittleEndian

	ino := &Inode{
		Type:       schema.FileType(buf[0]),
		BlockCount: le.Uint32(buf[4:]),
		Size:       le.Uint64(buf[8:]),
		Indirect:   le.Uint32(buf[64:]),
		Created:    fromUnixNano(le.Uint64(buf[72:])),
		Modified:   fromUnixNano(le.Uint64(buf[80:])),
		Accessed:   fromUnixNano(le.Uint64(buf[88:])),
	}

	if !ino.Type.IsValid() {
		return nil, fmt.Errorf("(inode-decode) %w: unknown type %d", schema.ErrCorruptFilesystem, buf[0])
	}

	for i := range ino.Direct {
		ino.Direct[i] = le.Uint32(buf[16+i*4:])
	}

	return ino, nil
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.UnixNano())
}

func fromUnixNano(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(ns))
}
