package filesystem

import (
	"errors"
	"fmt"

	"github.com/desertwitch/imgfs/internal/schema"
)

// Check verifies the allocation invariants of the image: every allocated
// block is referenced by exactly one live inode, every inode's block count
// agrees with its size, and every directory entry points at an allocated
// inode of the matching type. All violations are returned joined, each
// wrapping [ErrCorruptFilesystem].
func (h *Handler) Check() error {
	h.RLock()
	defer h.RUnlock()

	var errs []error
	violation := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{schema.ErrCorruptFilesystem}, args...)...))
	}

	bs := uint64(h.sb.BlockSize)
	owners := make(map[uint32]uint32)
	linked := map[uint32]int{h.sb.RootInode: 1}

	claim := func(num, blk uint32) {
		switch {
		case blk < h.sb.DataStart || blk >= h.sb.DataStart+h.sb.DataBlocks:
			violation("inode %d references block %d outside of the data region", num, blk)
		case !h.alloc.IsBlockAllocated(blk):
			violation("inode %d references free block %d", num, blk)
		}

		if prev, ok := owners[blk]; ok {
			violation("block %d referenced by inodes %d and %d", blk, prev, num)
		}
		owners[blk] = num
	}

	for _, num := range h.alloc.AllocatedInodes() {
		ino, err := h.table.Read(num)
		if err != nil {
			violation("inode %d: %w", num, err)

			continue
		}

		if want := (ino.Size + bs - 1) / bs; uint64(ino.BlockCount) != want {
			violation("inode %d holds %d blocks for %d bytes", num, ino.BlockCount, ino.Size)
		}

		if hasIndirect := ino.Indirect != 0; hasIndirect != (ino.BlockCount > uint32(len(ino.Direct))) {
			violation("inode %d has indirect pointer %d with %d blocks", num, ino.Indirect, ino.BlockCount)
		}

		blocks, err := h.table.Blocks(ino)
		if err != nil {
			violation("inode %d: %w", num, err)

			continue
		}

		for _, blk := range blocks {
			claim(num, blk)
		}

		if ino.Indirect != 0 {
			claim(num, ino.Indirect)
		}

		if !ino.IsDir() {
			continue
		}

		for e, err := range h.dirs.Entries(num) {
			if err != nil {
				violation("directory %d: %w", num, err)

				break
			}

			linked[e.Inode]++

			target, err := h.table.Read(e.Inode)
			if err != nil {
				violation("entry %q of directory %d: %w", e.Name, num, err)

				continue
			}

			if target.Type != e.Type {
				violation("entry %q of directory %d is %s but inode %d is %s", e.Name, num, e.Type, e.Inode, target.Type)
			}
		}
	}

	if got, want := uint32(len(owners)), h.sb.DataBlocks-h.alloc.FreeBlocks(); got != want {
		violation("%d blocks referenced but %d marked allocated", got, want)
	}

	for _, num := range h.alloc.AllocatedInodes() {
		switch linked[num] {
		case 0:
			violation("inode %d is allocated but not linked", num)
		case 1:
		default:
			violation("inode %d is linked %d times", num, linked[num])
		}
	}

	if err := errors.Join(errs...); err != nil {
		return pathError("check", h.dev.Path(), err)
	}

	return nil
}
