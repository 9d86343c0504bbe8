// Package superblock implements the self-describing image header stored in
// block zero, and the computation of an image's on-disk layout.
//
// The layout is, in block order: the superblock, the block bitmap, the inode
// bitmap, the inode table and finally the data region. All integers are
// little-endian and the header carries a BLAKE3 checksum over its fields.
package superblock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/zeebo/blake3"
)

const (
	// Magic identifies an image created by this package.
	Magic uint32 = 0xDEADBEEF

	// Version is the on-disk format version.
	Version uint32 = 1

	// Size is the number of meaningful bytes at the start of block zero.
	Size = checksumOffset + checksumSize

	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 512

	// MaxBlockSize is the largest supported block size.
	MaxBlockSize = 65536

	// DefaultBlockSize is the block size used when none is configured.
	DefaultBlockSize = 4096

	// InodeSize is the size of one inode record in the inode table.
	InodeSize = 128

	// DefaultBytesPerInode is the image bytes per inode ratio used when none
	// is configured.
	DefaultBytesPerInode = 16384

	// MinInodes is the lower bound of the inode count of any image.
	MinInodes = 16

	// MaxInodes is the upper bound of the inode count of any image.
	MaxInodes = 65536

	// RootInode is the inode number of the root directory.
	RootInode uint32 = 1

	checksumOffset = 72
	checksumSize   = 16
)

// Superblock is the decoded image header.
type Superblock struct {
	BlockSize   uint32
	TotalBlocks uint32
	InodeCount  uint32

	BlockBitmapStart  uint32
	BlockBitmapBlocks uint32
	InodeBitmapStart  uint32
	InodeBitmapBlocks uint32
	InodeTableStart   uint32
	InodeTableBlocks  uint32

	DataStart  uint32
	DataBlocks uint32

	RootInode uint32
	CreatedAt time.Time
}

// ValidBlockSize returns whether blockSize is a power of two within
// [MinBlockSize, MaxBlockSize].
func ValidBlockSize(blockSize int) bool {
	return blockSize >= MinBlockSize &&
		blockSize <= MaxBlockSize &&
		bits.OnesCount(uint(blockSize)) == 1
}

// Layout computes the geometry of a new image of sizeBytes. The size is
// floored to a whole number of blocks. An error wrapping
// [schema.ErrInvalidSize] is returned when the geometry cannot hold the
// reserved structures and at least one data block.
func Layout(sizeBytes int64, blockSize int, bytesPerInode int) (*Superblock, error) {
	if !ValidBlockSize(blockSize) {
		return nil, fmt.Errorf("(superblock-layout) %w: block size %d", schema.ErrInvalidSize, blockSize)
	}

	if bytesPerInode <= 0 {
		bytesPerInode = DefaultBytesPerInode
	}

	if sizeBytes <= 0 {
		return nil, fmt.Errorf("(superblock-layout) %w: %d bytes", schema.ErrInvalidSize, sizeBytes)
	}

	totalBlocks := sizeBytes / int64(blockSize)
	if totalBlocks > int64(^uint32(0)) {
		return nil, fmt.Errorf("(superblock-layout) %w: %d blocks", schema.ErrInvalidSize, totalBlocks)
	}

	bs := uint32(blockSize)
	bitsPerBlock := bs * 8 //nolint:mnd

	inodeCount := uint32(max(MinInodes, min(MaxInodes, sizeBytes/int64(bytesPerInode))))
	inodeBitmapBlocks := ceilDiv(inodeCount, bitsPerBlock)
	inodeTableBlocks := ceilDiv(inodeCount*InodeSize, bs)

	sb := &Superblock{
		BlockSize:         bs,
		TotalBlocks:       uint32(totalBlocks),
		InodeCount:        inodeCount,
		BlockBitmapStart:  1,
		InodeBitmapBlocks: inodeBitmapBlocks,
		RootInode:         RootInode,
		CreatedAt:         time.Now(),
	}

	// The block bitmap only covers the data region, so its own length
	// depends on what remains after it. Grow it until it fits.
	bbBlocks := uint32(1)
	for {
		fixed := int64(1) + int64(bbBlocks) + int64(inodeBitmapBlocks) + int64(inodeTableBlocks)
		if totalBlocks-fixed < 1 {
			return nil, fmt.Errorf("(superblock-layout) %w: %d blocks cannot hold %d reserved blocks and data",
				schema.ErrInvalidSize, totalBlocks, fixed)
		}

		need := ceilDiv(uint32(totalBlocks-fixed), bitsPerBlock)
		if need <= bbBlocks {
			break
		}

		bbBlocks = need
	}

	sb.BlockBitmapBlocks = bbBlocks
	sb.InodeBitmapStart = sb.BlockBitmapStart + bbBlocks
	sb.InodeTableStart = sb.InodeBitmapStart + inodeBitmapBlocks
	sb.InodeTableBlocks = inodeTableBlocks
	sb.DataStart = sb.InodeTableStart + inodeTableBlocks
	sb.DataBlocks = sb.TotalBlocks - sb.DataStart

	return sb, nil
}

// Encode serializes the superblock into a zero-padded block of blockSize
// bytes, including its checksum.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, sb.BlockSize)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], Magic)
	le.PutUint32(buf[8:], Version)
	le.PutUint32(buf[12:], sb.BlockSize)
	le.PutUint32(buf[16:], sb.TotalBlocks)
	le.PutUint32(buf[20:], sb.InodeCount)
	le.PutUint32(buf[24:], sb.BlockBitmapStart)
	le.PutUint32(buf[28:], sb.BlockBitmapBlocks)
	le.PutUint32(buf[32:], sb.InodeBitmapStart)
	le.PutUint32(buf[36:], sb.InodeBitmapBlocks)
	le.PutUint32(buf[40:], sb.InodeTableStart)
	le.PutUint32(buf[44:], sb.InodeTableBlocks)
	le.PutUint32(buf[48:], sb.DataStart)
	le.PutUint32(buf[52:], sb.DataBlocks)
	le.PutUint32(buf[56:], sb.RootInode)
	if !sb.CreatedAt.IsZero() {
		le.PutUint64(buf[64:], uint64(sb.CreatedAt.UnixNano()))
	}

	copy(buf[checksumOffset:Size], checksum(buf[:checksumOffset]))

	return buf
}

// Decode parses and validates a superblock from the start of buf. Any
// mismatch is reported as an error wrapping [schema.ErrCorruptFilesystem].
func Decode(buf []byte) (*Superblock, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("(superblock-decode) %w: short header", schema.ErrCorruptFilesystem)
	}

	le := binary.LittleEndian

	if magic := le.Uint32(buf[0:]); magic != Magic {
		return nil, fmt.Errorf("(superblock-decode) %w: bad magic %#x", schema.ErrCorruptFilesystem, magic)
	}

	if version := le.Uint32(buf[8:]); version != Version {
		return nil, fmt.Errorf("(superblock-decode) %w: unsupported version %d", schema.ErrCorruptFilesystem, version)
	}

	if !bytes.Equal(buf[checksumOffset:Size], checksum(buf[:checksumOffset])) {
		return nil, fmt.Errorf("(superblock-decode) %w: checksum mismatch", schema.ErrCorruptFilesystem)
	}

	sb := &Superblock{
		BlockSize:         le.Uint32(buf[12:]),
		TotalBlocks:       le.Uint32(buf[16:]),
		InodeCount:        le.Uint32(buf[20:]),
		BlockBitmapStart:  le.Uint32(buf[24:]),
		BlockBitmapBlocks: le.Uint32(buf[28:]),
		InodeBitmapStart:  le.Uint32(buf[32:]),
		InodeBitmapBlocks: le.Uint32(buf[36:]),
		InodeTableStart:   le.Uint32(buf[40:]),
		InodeTableBlocks:  le.Uint32(buf[44:]),
		DataStart:         le.Uint32(buf[48:]),
		DataBlocks:        le.Uint32(buf[52:]),
		RootInode:         le.Uint32(buf[56:]),
	}

	if ns := int64(le.Uint64(buf[64:])); ns != 0 {
		sb.CreatedAt = time.Unix(0, ns)
	}

	if err := sb.Validate(); err != nil {
		return nil, fmt.Errorf("(superblock-decode) %w", err)
	}

	return sb, nil
}

// Validate checks that the geometry is self-consistent.
func (sb *Superblock) Validate() error {
	bs := sb.BlockSize

	switch {
	case !ValidBlockSize(int(bs)):
		return fmt.Errorf("%w: block size %d", schema.ErrCorruptFilesystem, bs)

	case sb.RootInode != RootInode:
		return fmt.Errorf("%w: root inode %d", schema.ErrCorruptFilesystem, sb.RootInode)

	case sb.InodeCount < 1:
		return fmt.Errorf("%w: no inodes", schema.ErrCorruptFilesystem)

	case sb.BlockBitmapStart != 1,
		sb.InodeBitmapStart != sb.BlockBitmapStart+sb.BlockBitmapBlocks,
		sb.InodeTableStart != sb.InodeBitmapStart+sb.InodeBitmapBlocks,
		sb.DataStart != sb.InodeTableStart+sb.InodeTableBlocks,
		uint64(sb.DataStart)+uint64(sb.DataBlocks) != uint64(sb.TotalBlocks),
		sb.DataBlocks < 1:
		return fmt.Errorf("%w: inconsistent region layout", schema.ErrCorruptFilesystem)

	case uint64(sb.BlockBitmapBlocks)*uint64(bs)*8 < uint64(sb.DataBlocks),
		uint64(sb.InodeBitmapBlocks)*uint64(bs)*8 < uint64(sb.InodeCount),
		uint64(sb.InodeTableBlocks)*uint64(bs) < uint64(sb.InodeCount)*InodeSize:
		return fmt.Errorf("%w: region too small for its contents", schema.ErrCorruptFilesystem)
	}

	return nil
}

func checksum(b []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(b)

	return h.Sum(nil)[:checksumSize]
}

func ceilDiv(a, b uint32) uint32 {
	return uint32((uint64(a) + uint64(b) - 1) / uint64(b))
}
