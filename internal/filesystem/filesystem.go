// Package filesystem implements the engine facade over a single mounted image.
// It composes the block store, allocator, inode table and directory layer,
// and exposes Unix-like operations (ls, read, write, mkdir, touch, rm, tree,
// stats) guarded by a reader-writer lock: mutations are exclusive, reads are
// shared.
package filesystem

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/desertwitch/imgfs/internal/allocation"
	"github.com/desertwitch/imgfs/internal/blockstore"
	"github.com/desertwitch/imgfs/internal/directory"
	"github.com/desertwitch/imgfs/internal/inode"
	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/desertwitch/imgfs/internal/superblock"
	"github.com/dustin/go-humanize"
)

type osProvider interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
}

type unixProvider interface {
	Fdatasync(fd int) error
	Flock(fd int, how int) error
}

// Options configure image creation and mounting.
type Options struct {
	// BlockSize is the block size of a new image. It is ignored on mount,
	// where the superblock is authoritative.
	BlockSize int

	// BytesPerInode is the image bytes per inode ratio of a new image.
	BytesPerInode int

	// SyncWrites flushes every block write to stable storage.
	SyncWrites bool
}

// DefaultOptions returns the [Options] used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BlockSize:     superblock.DefaultBlockSize,
		BytesPerInode: superblock.DefaultBytesPerInode,
		SyncWrites:    true,
	}
}

// Handler is a mounted image. It is safe for concurrent use.
type Handler struct {
	sync.RWMutex
	dev   *blockstore.Device
	sb    *superblock.Superblock
	alloc *allocation.Handler
	table *inode.Table
	dirs  *directory.Handler
}

// Create creates a new image file of sizeBytes at path, formats it and
// returns it mounted. The file must not exist yet.
func Create(osOps osProvider, unixOps unixProvider, path string, sizeBytes int64, opts Options) (*Handler, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = superblock.DefaultBlockSize
	}

	sb, err := superblock.Layout(sizeBytes, opts.BlockSize, opts.BytesPerInode)
	if err != nil {
		return nil, pathError("create", path, err)
	}

	dev, err := blockstore.Create(osOps, unixOps, path, sb.TotalBlocks, blockstore.Options{
		BlockSize:  opts.BlockSize,
		SyncWrites: opts.SyncWrites,
	})
	if err != nil {
		return nil, pathError("create", path, err)
	}

	h, err := format(dev, sb)
	if err != nil {
		_ = dev.Close()

		if rerr := osOps.Remove(path); rerr != nil {
			slog.Warn("Failed to remove partially created image.", "path", path, "err", rerr)
		}

		return nil, pathError("create", path, err)
	}

	slog.Info("Created image.",
		"path", path,
		"size", humanize.IBytes(uint64(sb.TotalBlocks)*uint64(sb.BlockSize)),
		"blockSize", sb.BlockSize,
		"dataBlocks", sb.DataBlocks,
		"inodes", sb.InodeCount,
	)

	return h, nil
}

func format(dev *blockstore.Device, sb *superblock.Superblock) (*Handler, error) {
	if err := dev.WriteBlock(0, sb.Encode()); err != nil {
		return nil, err
	}

	alloc, err := allocation.Format(dev, sb)
	if err != nil {
		return nil, err
	}

	table := inode.NewTable(dev, alloc, sb)

	root, _, err := table.Allocate(schema.TypeDirectory)
	if err != nil {
		return nil, err
	}

	if root != sb.RootInode {
		return nil, fmt.Errorf("%w: root allocated as inode %d", schema.ErrCorruptFilesystem, root)
	}

	return &Handler{
		dev:   dev,
		sb:    sb,
		alloc: alloc,
		table: table,
		dirs:  directory.NewHandler(table, dev, sb.RootInode),
	}, nil
}

// Mount opens an existing image at path. An error wrapping
// [ErrCorruptFilesystem] is returned when the image fails validation.
func Mount(osOps osProvider, unixOps unixProvider, path string, opts Options) (*Handler, error) {
	dev, err := blockstore.Open(osOps, unixOps, path, blockstore.Options{
		BlockSize:  superblock.MinBlockSize,
		SyncWrites: opts.SyncWrites,
	})
	if err != nil {
		if errors.Is(err, blockstore.ErrShortImage) {
			err = fmt.Errorf("%w: %w", schema.ErrCorruptFilesystem, err)
		}

		return nil, pathError("mount", path, err)
	}

	h, err := load(dev)
	if err != nil {
		_ = dev.Close()

		return nil, pathError("mount", path, err)
	}

	slog.Debug("Mounted image.",
		"path", path,
		"blockSize", h.sb.BlockSize,
		"freeBlocks", h.alloc.FreeBlocks(),
		"freeInodes", h.alloc.FreeInodes(),
	)

	return h, nil
}

func load(dev *blockstore.Device) (*Handler, error) {
	buf, err := dev.ReadBlock(0)
	if err != nil {
		return nil, err
	}

	sb, err := superblock.Decode(buf)
	if err != nil {
		return nil, err
	}

	if int(sb.BlockSize) != dev.BlockSize() {
		if err := dev.SetBlockSize(int(sb.BlockSize)); err != nil {
			return nil, fmt.Errorf("%w: %w", schema.ErrCorruptFilesystem, err)
		}
	}

	if dev.BlockCount() < sb.TotalBlocks {
		return nil, fmt.Errorf("%w: image holds %d of %d blocks", schema.ErrCorruptFilesystem, dev.BlockCount(), sb.TotalBlocks)
	}

	alloc, err := allocation.Load(dev, sb)
	if err != nil {
		return nil, err
	}

	table := inode.NewTable(dev, alloc, sb)

	root, err := table.Read(sb.RootInode)
	if err != nil {
		return nil, fmt.Errorf("%w: root inode: %w", schema.ErrCorruptFilesystem, err)
	}

	if !root.IsDir() {
		return nil, fmt.Errorf("%w: root inode is not a directory", schema.ErrCorruptFilesystem)
	}

	return &Handler{
		dev:   dev,
		sb:    sb,
		alloc: alloc,
		table: table,
		dirs:  directory.NewHandler(table, dev, sb.RootInode),
	}, nil
}

// Path returns the host path of the image file.
func (h *Handler) Path() string {
	return h.dev.Path()
}

// Superblock returns a copy of the image's superblock.
func (h *Handler) Superblock() superblock.Superblock {
	return *h.sb
}

// Close releases the image. Subsequent operations fail with [ErrClosed].
func (h *Handler) Close() error {
	h.Lock()
	defer h.Unlock()

	if err := h.dev.Close(); err != nil {
		return pathError("close", h.dev.Path(), err)
	}

	return nil
}
