// Package allocation implements free-space management for data blocks and
// inodes. Both are tracked in bitmaps stored in reserved image blocks, and
// every change is written back to the image before an operation returns.
package allocation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/desertwitch/imgfs/internal/superblock"
)

type blockDevice interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
	BlockSize() int
}

// region is a bitmap persisted in a contiguous run of blocks. Bit i of the
// bitmap maps to the managed index base+i.
type region struct {
	name   string
	bits   *Bitmap
	start  uint32
	blocks uint32
	base   uint32
}

// Handler is the principal implementation of the block and inode allocator.
// Allocation is first-fit from the lowest index.
type Handler struct {
	sync.Mutex
	dev    blockDevice
	blocks *region
	inodes *region
}

// Format writes empty block and inode bitmaps for a fresh image and returns
// a [Handler] for them.
func Format(dev blockDevice, sb *superblock.Superblock) (*Handler, error) {
	bs := dev.BlockSize()

	h := &Handler{
		dev: dev,
		blocks: &region{
			name:   "block",
			bits:   NewBitmap(sb.DataBlocks, int(sb.BlockBitmapBlocks)*bs),
			start:  sb.BlockBitmapStart,
			blocks: sb.BlockBitmapBlocks,
			base:   sb.DataStart,
		},
		inodes: &region{
			name:   "inode",
			bits:   NewBitmap(sb.InodeCount, int(sb.InodeBitmapBlocks)*bs),
			start:  sb.InodeBitmapStart,
			blocks: sb.InodeBitmapBlocks,
			base:   1,
		},
	}

	for _, r := range []*region{h.blocks, h.inodes} {
		for i := range r.blocks {
			if err := h.flush(r, i*uint32(bs)*8); err != nil { //nolint:mnd
				return nil, fmt.Errorf("(alloc-format) %w", err)
			}
		}
	}

	return h, nil
}

// Load reads the block and inode bitmaps of an existing image.
func Load(dev blockDevice, sb *superblock.Superblock) (*Handler, error) {
	blocks, err := loadRegion(dev, "block", sb.BlockBitmapStart, sb.BlockBitmapBlocks, sb.DataBlocks, sb.DataStart)
	if err != nil {
		return nil, fmt.Errorf("(alloc-load) %w", err)
	}

	inodes, err := loadRegion(dev, "inode", sb.InodeBitmapStart, sb.InodeBitmapBlocks, sb.InodeCount, 1)
	if err != nil {
		return nil, fmt.Errorf("(alloc-load) %w", err)
	}

	return &Handler{
		dev:    dev,
		blocks: blocks,
		inodes: inodes,
	}, nil
}

func loadRegion(dev blockDevice, name string, start, blocks, size, base uint32) (*region, error) {
	data := make([]byte, 0, int(blocks)*dev.BlockSize())

	for i := range blocks {
		buf, err := dev.ReadBlock(start + i)
		if err != nil {
			return nil, err
		}
		data = append(data, buf...)
	}

	bits, err := LoadBitmap(data, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrCorruptFilesystem, err)
	}

	return &region{
		name:   name,
		bits:   bits,
		start:  start,
		blocks: blocks,
		base:   base,
	}, nil
}

// AllocateBlock marks the lowest free data block as used and returns its
// absolute block index. An error wrapping [schema.ErrNoSpace] is returned
// when the data region is full.
func (h *Handler) AllocateBlock() (uint32, error) {
	h.Lock()
	defer h.Unlock()

	idx, err := h.allocate(h.blocks)
	if err != nil {
		return 0, fmt.Errorf("(alloc-block) %w", err)
	}

	return idx, nil
}

// FreeBlock marks the absolute block index as free. Freeing a free block is a
// no-op. An error wrapping [schema.ErrOutOfRange] is returned for indices
// outside of the data region.
func (h *Handler) FreeBlock(index uint32) error {
	h.Lock()
	defer h.Unlock()

	if err := h.release(h.blocks, index); err != nil {
		return fmt.Errorf("(alloc-freeblock) %w", err)
	}

	return nil
}

// IsBlockAllocated returns whether the absolute block index is in use.
func (h *Handler) IsBlockAllocated(index uint32) bool {
	h.Lock()
	defer h.Unlock()

	return h.isSet(h.blocks, index)
}

// AllocateInode marks the lowest free inode as used and returns its number.
// An error wrapping [schema.ErrNoSpace] is returned when no inode is free.
func (h *Handler) AllocateInode() (uint32, error) {
	h.Lock()
	defer h.Unlock()

	num, err := h.allocate(h.inodes)
	if err != nil {
		return 0, fmt.Errorf("(alloc-inode) %w", err)
	}

	return num, nil
}

// FreeInode marks the inode number as free. Freeing a free inode is a no-op.
func (h *Handler) FreeInode(num uint32) error {
	h.Lock()
	defer h.Unlock()

	if err := h.release(h.inodes, num); err != nil {
		return fmt.Errorf("(alloc-freeinode) %w", err)
	}

	return nil
}

// IsInodeAllocated returns whether the inode number is in use.
func (h *Handler) IsInodeAllocated(num uint32) bool {
	h.Lock()
	defer h.Unlock()

	return h.isSet(h.inodes, num)
}

// FreeBlocks returns the number of free data blocks.
func (h *Handler) FreeBlocks() uint32 {
	h.Lock()
	defer h.Unlock()

	return h.blocks.bits.Len() - h.blocks.bits.Count()
}

// FreeInodes returns the number of free inodes.
func (h *Handler) FreeInodes() uint32 {
	h.Lock()
	defer h.Unlock()

	return h.inodes.bits.Len() - h.inodes.bits.Count()
}

// AllocatedBlocks returns the absolute indices of all allocated data blocks,
// in ascending order.
func (h *Handler) AllocatedBlocks() []uint32 {
	h.Lock()
	defer h.Unlock()

	return h.setIndices(h.blocks)
}

// AllocatedInodes returns the numbers of all allocated inodes, in ascending
// order.
func (h *Handler) AllocatedInodes() []uint32 {
	h.Lock()
	defer h.Unlock()

	return h.setIndices(h.inodes)
}

func (h *Handler) allocate(r *region) (uint32, error) {
	bit, ok := r.bits.FirstClear()
	if !ok {
		return 0, fmt.Errorf("%w: no free %s", schema.ErrNoSpace, r.name)
	}

	_ = r.bits.Set(bit, true)

	if err := h.flush(r, bit); err != nil {
		_ = r.bits.Set(bit, false)

		return 0, err
	}

	return r.base + bit, nil
}

func (h *Handler) release(r *region, index uint32) error {
	if index < r.base || index-r.base >= r.bits.Len() {
		return fmt.Errorf("%w: %s %d", schema.ErrOutOfRange, r.name, index)
	}

	bit := index - r.base

	if set, _ := r.bits.Get(bit); !set {
		slog.Debug("Ignored free of unallocated index.", "kind", r.name, "index", index)

		return nil
	}

	_ = r.bits.Set(bit, false)

	if err := h.flush(r, bit); err != nil {
		_ = r.bits.Set(bit, true)

		return err
	}

	return nil
}

func (h *Handler) isSet(r *region, index uint32) bool {
	if index < r.base {
		return false
	}

	set, err := r.bits.Get(index - r.base)

	return err == nil && set
}

func (h *Handler) setIndices(r *region) []uint32 {
	var out []uint32

	for i := range r.bits.Len() {
		if set, _ := r.bits.Get(i); set {
			out = append(out, r.base+i)
		}
	}

	return out
}

// flush writes the single bitmap block holding bit back to the image.
func (h *Handler) flush(r *region, bit uint32) error {
	bs := uint32(h.dev.BlockSize())
	blk := bit / (bs * 8) //nolint:mnd

	data := r.bits.Bytes()[blk*bs : (blk+1)*bs]

	if err := h.dev.WriteBlock(r.start+blk, data); err != nil {
		return fmt.Errorf("(alloc-flush) %w", err)
	}

	return nil
}
