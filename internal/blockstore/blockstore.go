// Package blockstore implements the block device abstraction backed by a
// single host image file. It is the only package that touches the image file
// directly, reading and writing whole blocks at index times block size.
package blockstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/desertwitch/imgfs/internal/schema"
	"golang.org/x/sys/unix"
)

type osProvider interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
}

type unixProvider interface {
	Fdatasync(fd int) error
	Flock(fd int, how int) error
}

// Options configure how a [Device] accesses its image file.
type Options struct {
	// BlockSize is the size of a single block in bytes.
	BlockSize int

	// SyncWrites flushes every block write to stable storage before
	// returning.
	SyncWrites bool
}

// Device is a fixed-size array of blocks persisted in a host image file.
// Reads and writes are positional and safe for concurrent use, callers are
// responsible for not writing the same block concurrently.
type Device struct {
	file       *os.File
	path       string
	blockSize  atomic.Int64
	blockCount atomic.Uint32
	syncWrites bool
	unixOps    unixProvider
	closed     atomic.Bool
}

// Create creates a new zero-filled image file holding blockCount blocks. It
// fails if the file already exists.
func Create(osOps osProvider, unixOps unixProvider, path string, blockCount uint32, opts Options) (*Device, error) {
	if opts.BlockSize <= 0 || blockCount == 0 {
		return nil, fmt.Errorf("(blockstore-create) %w", schema.ErrInvalidSize)
	}

	f, err := osOps.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("(blockstore-create) %w", err)
	}

	if err := lock(unixOps, f); err != nil {
		f.Close()

		return nil, fmt.Errorf("(blockstore-create) %w", err)
	}

	if err := f.Truncate(int64(blockCount) * int64(opts.BlockSize)); err != nil {
		f.Close()

		return nil, fmt.Errorf("(blockstore-create) %w", err)
	}

	dev := newDevice(f, path, unixOps, opts)
	dev.blockCount.Store(blockCount)

	slog.Debug("Created image file.",
		"path", path,
		"blocks", blockCount,
		"blockSize", opts.BlockSize,
	)

	return dev, nil
}

// Open opens an existing image file. The block count is derived from the file
// size and the given block size, any trailing partial block is ignored.
func Open(osOps osProvider, unixOps unixProvider, path string, opts Options) (*Device, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("(blockstore-open) %w", schema.ErrInvalidSize)
	}

	info, err := osOps.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("(blockstore-open) %w", err)
	}

	if info.Size() < int64(opts.BlockSize) {
		return nil, fmt.Errorf("(blockstore-open) %w", ErrShortImage)
	}

	f, err := osOps.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("(blockstore-open) %w", err)
	}

	if err := lock(unixOps, f); err != nil {
		f.Close()

		return nil, fmt.Errorf("(blockstore-open) %w", err)
	}

	dev := newDevice(f, path, unixOps, opts)
	dev.blockCount.Store(blockCount(info.Size(), opts.BlockSize))

	return dev, nil
}

func newDevice(f *os.File, path string, unixOps unixProvider, opts Options) *Device {
	dev := &Device{
		file:       f,
		path:       path,
		syncWrites: opts.SyncWrites,
		unixOps:    unixOps,
	}
	dev.blockSize.Store(int64(opts.BlockSize))

	return dev
}

func lock(unixOps unixProvider, f *os.File) error {
	if err := unixOps.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}

		return err
	}

	return nil
}

func blockCount(size int64, blockSize int) uint32 {
	n := size / int64(blockSize)
	if n > int64(^uint32(0)) {
		n = int64(^uint32(0))
	}

	return uint32(n)
}

// Path returns the host path of the image file.
func (d *Device) Path() string {
	return d.path
}

// BlockSize returns the block size in bytes.
func (d *Device) BlockSize() int {
	return int(d.blockSize.Load())
}

// BlockCount returns the number of whole blocks in the image.
func (d *Device) BlockCount() uint32 {
	return d.blockCount.Load()
}

// SetBlockSize switches the device to a different block size and recomputes
// the block count from the current file size. It is used once at mount time,
// after the superblock was read with the minimum block size.
func (d *Device) SetBlockSize(blockSize int) error {
	if d.closed.Load() {
		return fmt.Errorf("(blockstore-setbs) %w", schema.ErrClosed)
	}

	if blockSize <= 0 {
		return fmt.Errorf("(blockstore-setbs) %w", schema.ErrInvalidSize)
	}

	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("(blockstore-setbs) %w", err)
	}

	if info.Size() < int64(blockSize) {
		return fmt.Errorf("(blockstore-setbs) %w", ErrShortImage)
	}

	d.blockSize.Store(int64(blockSize))
	d.blockCount.Store(blockCount(info.Size(), blockSize))

	return nil
}

// ReadBlock returns a copy of the block at index.
func (d *Device) ReadBlock(index uint32) ([]byte, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("(blockstore-read) %w", schema.ErrClosed)
	}

	if index >= d.BlockCount() {
		return nil, fmt.Errorf("(blockstore-read) %w: block %d of %d", schema.ErrOutOfRange, index, d.BlockCount())
	}

	bs := d.BlockSize()
	buf := make([]byte, bs)

	if _, err := d.file.ReadAt(buf, int64(index)*int64(bs)); err != nil {
		return nil, fmt.Errorf("(blockstore-read) %w", err)
	}

	return buf, nil
}

// WriteBlock replaces the block at index with data, which must be exactly one
// block long. With sync enabled the data is flushed before returning.
func (d *Device) WriteBlock(index uint32, data []byte) error {
	if d.closed.Load() {
		return fmt.Errorf("(blockstore-write) %w", schema.ErrClosed)
	}

	if index >= d.BlockCount() {
		return fmt.Errorf("(blockstore-write) %w: block %d of %d", schema.ErrOutOfRange, index, d.BlockCount())
	}

	bs := d.BlockSize()
	if len(data) != bs {
		return fmt.Errorf("(blockstore-write) %w: got %d, want %d", ErrBlockSize, len(data), bs)
	}

	if _, err := d.file.WriteAt(data, int64(index)*int64(bs)); err != nil {
		return fmt.Errorf("(blockstore-write) %w", err)
	}

	if d.syncWrites {
		if err := d.unixOps.Fdatasync(int(d.file.Fd())); err != nil {
			return fmt.Errorf("(blockstore-sync) %w", err)
		}
	}

	return nil
}

// WriteRaw streams the whole image (all blocks) into w.
func (d *Device) WriteRaw(w io.Writer) (int64, error) {
	if d.closed.Load() {
		return 0, fmt.Errorf("(blockstore-raw) %w", schema.ErrClosed)
	}

	size := int64(d.BlockCount()) * int64(d.BlockSize())

	n, err := io.Copy(w, io.NewSectionReader(d.file, 0, size))
	if err != nil {
		return n, fmt.Errorf("(blockstore-raw) %w", err)
	}

	return n, nil
}

// Close releases the image file and its lock. Closing twice is a no-op.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := d.file.Close(); err != nil {
		return fmt.Errorf("(blockstore-close) %w", err)
	}

	return nil
}
