package inode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/desertwitch/imgfs/internal/superblock"
)

type blockDevice interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
	BlockSize() int
}

type allocator interface {
	AllocateBlock() (uint32, error)
	FreeBlock(index uint32) error
	AllocateInode() (uint32, error)
	FreeInode(num uint32) error
	IsInodeAllocated(num uint32) bool
}

// Table is the inode table of a mounted image. Callers hold decoded copies
// of inodes and pass them back for every change, the table persists each
// change before returning.
type Table struct {
	mu    sync.Mutex
	dev   blockDevice
	alloc allocator
	start uint32
	count uint32
	now   func() time.Time
}

// reservation is a copy of an inode extended with freshly allocated blocks,
// not yet persisted.
type reservation struct {
	next  Inode
	data  []uint32
	taken []uint32
}

// NewTable returns a pointer to a new [Table] for the geometry in sb.
func NewTable(dev blockDevice, alloc allocator, sb *superblock.Superblock) *Table {
	return &Table{
		dev:   dev,
		alloc: alloc,
		start: sb.InodeTableStart,
		count: sb.InodeCount,
		now:   time.Now,
	}
}

// Count returns the number of inode records in the table.
func (t *Table) Count() uint32 {
	return t.count
}

// MaxBlocks returns the number of data blocks a single inode can address.
func (t *Table) MaxBlocks() uint32 {
	return DirectBlocks + t.ptrsPerBlock()
}

// MaxFileSize returns the largest content size a single inode can hold.
func (t *Table) MaxFileSize() uint64 {
	return uint64(t.MaxBlocks()) * uint64(t.dev.BlockSize())
}

func (t *Table) ptrsPerBlock() uint32 {
	return uint32(t.dev.BlockSize() / 4) //nolint:mnd
}

func (t *Table) blocksFor(size uint64) (uint32, error) {
	bs := uint64(t.dev.BlockSize())

	n := (size + bs - 1) / bs
	if n > uint64(t.MaxBlocks()) {
		return 0, fmt.Errorf("%w: %d bytes exceed %d", schema.ErrFileTooLarge, size, t.MaxFileSize())
	}

	return uint32(n), nil
}

func (t *Table) locate(num uint32) (uint32, int, error) {
	if num == 0 || num > t.count {
		return 0, 0, fmt.Errorf("%w: %d not in [1, %d]", schema.ErrInvalidInode, num, t.count)
	}

	bs := uint64(t.dev.BlockSize())
	off := uint64(num-1) * Size

	return t.start + uint32(off/bs), int(off % bs), nil
}

// Read returns the inode with the given number. An error wrapping
// [schema.ErrInvalidInode] is returned for numbers outside of the table or
// inodes that are not allocated.
func (t *Table) Read(num uint32) (*Inode, error) {
	blk, off, err := t.locate(num)
	if err != nil {
		return nil, fmt.Errorf("(inode-read) %w", err)
	}

	if !t.alloc.IsInodeAllocated(num) {
		return nil, fmt.Errorf("(inode-read) %w: %d is free", schema.ErrInvalidInode, num)
	}

	buf, err := t.dev.ReadBlock(blk)
	if err != nil {
		return nil, fmt.Errorf("(inode-read) %w", err)
	}

	ino, err := Decode(buf[off : off+Size])
	if err != nil {
		return nil, fmt.Errorf("(inode-read) %w", err)
	}

	if ino.Type == schema.TypeFree {
		return nil, fmt.Errorf("(inode-read) %w: allocated inode %d has a free record", schema.ErrCorruptFilesystem, num)
	}

	return ino, nil
}

// Write persists the inode under the given number.
func (t *Table) Write(num uint32, ino *Inode) error {
	if err := t.writeRecord(num, ino.Encode()); err != nil {
		return fmt.Errorf("(inode-write) %w", err)
	}

	return nil
}

func (t *Table) writeRecord(num uint32, rec []byte) error {
	blk, off, err := t.locate(num)
	if err != nil {
		return err
	}

	// Records share table blocks, the read-modify-write must not interleave.
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, err := t.dev.ReadBlock(blk)
	if err != nil {
		return err
	}

	copy(buf[off:off+Size], rec)

	return t.dev.WriteBlock(blk, buf)
}

// Allocate claims the lowest free inode and initializes it as an empty inode
// of the given type.
func (t *Table) Allocate(typ schema.FileType) (uint32, *Inode, error) {
	num, err := t.alloc.AllocateInode()
	if err != nil {
		return 0, nil, fmt.Errorf("(inode-alloc) %w", err)
	}

	now := t.now()
	ino := &Inode{
		Type:     typ,
		Created:  now,
		Modified: now,
		Accessed: now,
	}

	if err := t.Write(num, ino); err != nil {
		if ferr := t.alloc.FreeInode(num); ferr != nil {
			slog.Warn("Failed to roll back inode allocation.", "inode", num, "err", ferr)
		}

		return 0, nil, fmt.Errorf("(inode-alloc) %w", err)
	}

	return num, ino, nil
}

// Release frees all blocks of the inode, clears its record and returns it to
// the allocator.
func (t *Table) Release(num uint32, ino *Inode) error {
	if err := t.ShrinkTo(num, ino, 0); err != nil {
		return fmt.Errorf("(inode-release) %w", err)
	}

	if err := t.writeRecord(num, make([]byte, Size)); err != nil {
		return fmt.Errorf("(inode-release) %w", err)
	}

	if err := t.alloc.FreeInode(num); err != nil {
		return fmt.Errorf("(inode-release) %w", err)
	}

	*ino = Inode{}

	return nil
}

// Blocks returns the data blocks of the inode in content order. The indirect
// block itself is not included.
func (t *Table) Blocks(ino *Inode) ([]uint32, error) {
	n := ino.BlockCount
	if n > t.MaxBlocks() {
		return nil, fmt.Errorf("(inode-blocks) %w: block count %d", schema.ErrCorruptFilesystem, n)
	}

	out := make([]uint32, 0, n)
	out = append(out, ino.Direct[:min(n, DirectBlocks)]...)

	if n > DirectBlocks {
		if ino.Indirect == 0 {
			return nil, fmt.Errorf("(inode-blocks) %w: missing indirect block", schema.ErrCorruptFilesystem)
		}

		ptrs, err := t.readIndirect(ino.Indirect)
		if err != nil {
			return nil, fmt.Errorf("(inode-blocks) %w", err)
		}

		out = append(out, ptrs[:n-DirectBlocks]...)
	}

	for i, blk := range out {
		if blk == 0 {
			return nil, fmt.Errorf("(inode-blocks) %w: hole at block %d", schema.ErrCorruptFilesystem, i)
		}
	}

	return out, nil
}

func (t *Table) readIndirect(blk uint32) ([]uint32, error) {
	buf, err := t.dev.ReadBlock(blk)
	if err != nil {
		return nil, err
	}

	ptrs := make([]uint32, t.ptrsPerBlock())
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	return ptrs, nil
}

func (t *Table) writeIndirect(blk uint32, ptrs []uint32) error {
	buf := make([]byte, t.dev.BlockSize())
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], p)
	}

	return t.dev.WriteBlock(blk, buf)
}

// reserve allocates the blocks needed to extend a copy of ino to the given
// block count. The original inode is left untouched, and on failure every
// block taken so far is returned to the allocator.
func (t *Table) reserve(ino *Inode, needed uint32) (*reservation, error) {
	res := &reservation{next: *ino}
	if needed <= ino.BlockCount {
		return res, nil
	}

	fail := func(err error) (*reservation, error) {
		t.freeAll(res.taken)

		return nil, err
	}

	var ptrs []uint32
	if needed > DirectBlocks {
		if res.next.Indirect == 0 {
			blk, err := t.alloc.AllocateBlock()
			if err != nil {
				return fail(err)
			}

			res.taken = append(res.taken, blk)
			res.next.Indirect = blk
			ptrs = make([]uint32, t.ptrsPerBlock())
		} else {
			var err error
			if ptrs, err = t.readIndirect(res.next.Indirect); err != nil {
				return fail(err)
			}
		}
	}

	for i := ino.BlockCount; i < needed; i++ {
		blk, err := t.alloc.AllocateBlock()
		if err != nil {
			return fail(err)
		}

		res.taken = append(res.taken, blk)
		res.data = append(res.data, blk)

		if i < DirectBlocks {
			res.next.Direct[i] = blk
		} else {
			ptrs[i-DirectBlocks] = blk
		}
	}

	if ptrs != nil {
		if err := t.writeIndirect(res.next.Indirect, ptrs); err != nil {
			return fail(err)
		}
	}

	res.next.BlockCount = needed

	return res, nil
}

// commit truncates next to needed blocks and size bytes, persists it, and
// only then frees blocks of ino that next no longer references.
func (t *Table) commit(num uint32, ino *Inode, next Inode, needed uint32, size uint64) error {
	old, err := t.Blocks(ino)
	if err != nil {
		return err
	}

	for i := needed; i < DirectBlocks; i++ {
		next.Direct[i] = 0
	}

	dropIndirect := needed <= DirectBlocks && next.Indirect != 0
	if dropIndirect {
		next.Indirect = 0
	}

	next.BlockCount = needed
	next.Size = size
	next.Modified = t.now()

	if err := t.Write(num, &next); err != nil {
		return err
	}

	oldIndirect := ino.Indirect
	*ino = next

	var errs []error

	if needed < uint32(len(old)) {
		for _, blk := range old[needed:] {
			errs = append(errs, t.alloc.FreeBlock(blk))
		}
	}

	if dropIndirect && oldIndirect != 0 {
		errs = append(errs, t.alloc.FreeBlock(oldIndirect))
	}

	return errors.Join(errs...)
}

func (t *Table) freeAll(blocks []uint32) {
	for _, blk := range blocks {
		if err := t.alloc.FreeBlock(blk); err != nil {
			slog.Warn("Failed to roll back block allocation.", "block", blk, "err", err)
		}
	}
}

// GrowTo extends the inode to size bytes, zero-filling new blocks. All
// needed blocks are allocated before anything is persisted, so on failure
// (including [schema.ErrNoSpace]) the inode and allocator are unchanged.
func (t *Table) GrowTo(num uint32, ino *Inode, size uint64) error {
	if size < ino.Size {
		return fmt.Errorf("(inode-grow) %w: %d < %d", ErrInvalidResize, size, ino.Size)
	}

	needed, err := t.blocksFor(size)
	if err != nil {
		return fmt.Errorf("(inode-grow) %w", err)
	}

	res, err := t.reserve(ino, needed)
	if err != nil {
		return fmt.Errorf("(inode-grow) %w", err)
	}

	if err := t.zeroTail(ino); err != nil {
		t.freeAll(res.taken)

		return fmt.Errorf("(inode-grow) %w", err)
	}

	zero := make([]byte, t.dev.BlockSize())
	for _, blk := range res.data {
		if err := t.dev.WriteBlock(blk, zero); err != nil {
			t.freeAll(res.taken)

			return fmt.Errorf("(inode-grow) %w", err)
		}
	}

	if err := t.commit(num, ino, res.next, needed, size); err != nil {
		if ino.BlockCount != needed {
			t.freeAll(res.taken)
		}

		return fmt.Errorf("(inode-grow) %w", err)
	}

	return nil
}

// zeroTail clears the bytes past the content in the last partially used
// block, which may still hold data of a previous shrink.
func (t *Table) zeroTail(ino *Inode) error {
	bs := uint64(t.dev.BlockSize())

	off := ino.Size % bs
	if off == 0 || ino.BlockCount == 0 {
		return nil
	}

	blocks, err := t.Blocks(ino)
	if err != nil {
		return err
	}

	last := blocks[len(blocks)-1]

	buf, err := t.dev.ReadBlock(last)
	if err != nil {
		return err
	}

	clear(buf[off:])

	return t.dev.WriteBlock(last, buf)
}

// ShrinkTo truncates the inode to size bytes and frees trailing blocks,
// including the indirect block once it is no longer needed.
func (t *Table) ShrinkTo(num uint32, ino *Inode, size uint64) error {
	if size > ino.Size {
		return fmt.Errorf("(inode-shrink) %w: %d > %d", ErrInvalidResize, size, ino.Size)
	}

	needed, err := t.blocksFor(size)
	if err != nil {
		return fmt.Errorf("(inode-shrink) %w", err)
	}

	if err := t.commit(num, ino, *ino, needed, size); err != nil {
		return fmt.Errorf("(inode-shrink) %w", err)
	}

	return nil
}

// Content returns the full content of the inode without touching its access
// time.
func (t *Table) Content(ino *Inode) ([]byte, error) {
	blocks, err := t.Blocks(ino)
	if err != nil {
		return nil, fmt.Errorf("(inode-content) %w", err)
	}

	data := make([]byte, 0, len(blocks)*t.dev.BlockSize())

	for _, blk := range blocks {
		buf, err := t.dev.ReadBlock(blk)
		if err != nil {
			return nil, fmt.Errorf("(inode-content) %w", err)
		}
		data = append(data, buf...)
	}

	if uint64(len(data)) < ino.Size {
		return nil, fmt.Errorf("(inode-content) %w: size %d exceeds %d blocks", schema.ErrCorruptFilesystem, ino.Size, len(blocks))
	}

	return data[:ino.Size], nil
}

// ReadContent returns the full content of the inode and records the access.
func (t *Table) ReadContent(num uint32, ino *Inode) ([]byte, error) {
	data, err := t.Content(ino)
	if err != nil {
		return nil, err
	}

	ino.Accessed = t.now()

	if err := t.Write(num, ino); err != nil {
		return nil, fmt.Errorf("(inode-readcontent) %w", err)
	}

	return data, nil
}

// WriteContent replaces the inode's content with data. Additional blocks are
// reserved before any data is written, so a [schema.ErrNoSpace] or
// [schema.ErrFileTooLarge] failure leaves the previous content and size in
// place. A block write error may leave existing blocks partly overwritten.
func (t *Table) WriteContent(num uint32, ino *Inode, data []byte) error {
	size := uint64(len(data))

	needed, err := t.blocksFor(size)
	if err != nil {
		return fmt.Errorf("(inode-writecontent) %w", err)
	}

	res, err := t.reserve(ino, needed)
	if err != nil {
		return fmt.Errorf("(inode-writecontent) %w", err)
	}

	blocks, err := t.Blocks(&res.next)
	if err != nil {
		t.freeAll(res.taken)

		return fmt.Errorf("(inode-writecontent) %w", err)
	}

	bs := t.dev.BlockSize()
	for i, blk := range blocks[:needed] {
		buf := make([]byte, bs)
		copy(buf, data[i*bs:])

		if err := t.dev.WriteBlock(blk, buf); err != nil {
			t.freeAll(res.taken)

			return fmt.Errorf("(inode-writecontent) %w", err)
		}
	}

	if err := t.commit(num, ino, res.next, needed, size); err != nil {
		if ino.BlockCount != needed {
			t.freeAll(res.taken)
		}

		return fmt.Errorf("(inode-writecontent) %w", err)
	}

	return nil
}
