// Package images implements a registry of named images kept in a single host
// directory. It creates, mounts, lists and deletes images, and hands out the
// mounted [filesystem.Handler] of an image to its callers.
package images

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/validation"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// MiB is the unit of requested image sizes.
const MiB = 1 << 20

type osProvider interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
	ReadDir(name string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
}

type unixProvider interface {
	Fdatasync(fd int) error
	Flock(fd int, how int) error
	Statfs(path string, buf *unix.Statfs_t) error
}

// Options configure a [Registry].
type Options struct {
	// Dir is the host directory holding the image files.
	Dir string

	// MaxImageBytes is the largest image that may be created. Zero disables
	// the limit.
	MaxImageBytes uint64

	// Filesystem configures created and mounted images.
	Filesystem filesystem.Options
}

// Info describes an image file of the registry.
type Info struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Mounted  bool      `json:"mounted"`
}

// HostStats holds the usage of the host filesystem holding the images. It is
// meant to be passed by value.
type HostStats struct {
	TotalSize uint64
	FreeSpace uint64
}

// Registry manages the images of a directory. It is safe for concurrent use.
type Registry struct {
	sync.RWMutex
	osHandler   osProvider
	unixHandler unixProvider
	opts        Options
	mounted     map[string]*filesystem.Handler
	closed      bool
}

// NewRegistry returns a pointer to a new [Registry], creating the image
// directory when it does not exist.
func NewRegistry(osHandler osProvider, unixHandler unixProvider, opts Options) (*Registry, error) {
	if err := validation.ImageDir(opts.Dir); err != nil {
		return nil, fmt.Errorf("(images-new) %w", err)
	}

	if err := osHandler.MkdirAll(opts.Dir, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("(images-new) %w", err)
	}

	return &Registry{
		osHandler:   osHandler,
		unixHandler: unixHandler,
		opts:        opts,
		mounted:     make(map[string]*filesystem.Handler),
	}, nil
}

// Dir returns the image directory.
func (r *Registry) Dir() string {
	return r.opts.Dir
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.opts.Dir, name)
}

func normalize(name string) (string, error) {
	n, err := validation.ImageName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	return n, nil
}

// HostStats returns the usage of the host filesystem holding the images.
func (r *Registry) HostStats() (HostStats, error) {
	var stat unix.Statfs_t
	if err := r.unixHandler.Statfs(r.opts.Dir, &stat); err != nil {
		return HostStats{}, fmt.Errorf("(images-hoststats) failed to statfs: %w", err)
	}

	bsize := uint64(stat.Bsize) //nolint:gosec

	return HostStats{
		TotalSize: stat.Blocks * bsize,
		FreeSpace: stat.Bavail * bsize,
	}, nil
}

// Create creates a new image of sizeMB mebibytes and returns it mounted.
func (r *Registry) Create(name string, sizeMB int64) (*filesystem.Handler, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, fmt.Errorf("(images-create) %w", err)
	}

	sizeBytes := sizeMB * MiB
	if sizeMB > (1<<63-1)/MiB {
		sizeBytes = -1
	}

	if err := validation.ImageSize(sizeBytes, r.opts.MaxImageBytes); err != nil {
		return nil, fmt.Errorf("(images-create) %w: %w", filesystem.ErrInvalidSize, err)
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil, fmt.Errorf("(images-create) %w", ErrRegistryClosed)
	}

	host, err := r.HostStats()
	if err != nil {
		return nil, fmt.Errorf("(images-create) %w", err)
	}

	if host.FreeSpace < uint64(sizeBytes) {
		return nil, fmt.Errorf("(images-create) %w: need %s, have %s", ErrInsufficientHostSpace,
			humanize.IBytes(uint64(sizeBytes)), humanize.IBytes(host.FreeSpace))
	}

	h, err := filesystem.Create(r.osHandler, r.unixHandler, r.path(name), sizeBytes, r.opts.Filesystem)
	if err != nil {
		return nil, fmt.Errorf("(images-create) %w", err)
	}

	r.mounted[name] = h

	slog.Info("Image created and mounted.", "image", name, "size", humanize.IBytes(uint64(sizeBytes)))

	return h, nil
}

// Import stores the image read from src under name and returns it mounted.
// The name must not be taken. The content must mount as a valid image,
// otherwise the file is removed again and an error wrapping
// [filesystem.ErrCorruptFilesystem] is returned.
func (r *Registry) Import(name string, src io.Reader) (*filesystem.Handler, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, fmt.Errorf("(images-import) %w", err)
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil, fmt.Errorf("(images-import) %w", ErrRegistryClosed)
	}

	path := r.path(name)

	f, err := r.osHandler.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("(images-import) failed to create: %w", err)
	}

	n, err := r.receive(f, src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close: %w", cerr)
	}

	if err != nil {
		_ = r.osHandler.Remove(path)

		return nil, fmt.Errorf("(images-import) %w", err)
	}

	h, err := filesystem.Mount(r.osHandler, r.unixHandler, path, r.opts.Filesystem)
	if err != nil {
		_ = r.osHandler.Remove(path)

		return nil, fmt.Errorf("(images-import) %w", err)
	}

	r.mounted[name] = h

	slog.Info("Image imported and mounted.", "image", name, "size", humanize.IBytes(uint64(n))) //nolint:gosec

	return h, nil
}

func (r *Registry) receive(f *os.File, src io.Reader) (int64, error) {
	if r.opts.MaxImageBytes > 0 {
		src = io.LimitReader(src, int64(r.opts.MaxImageBytes)+1) //nolint:gosec
	}

	n, err := io.Copy(f, src)
	if err != nil {
		return n, fmt.Errorf("failed to copy: %w", err)
	}

	if err := validation.ImageSize(n, r.opts.MaxImageBytes); err != nil {
		return n, fmt.Errorf("%w: %w", filesystem.ErrInvalidSize, err)
	}

	if r.opts.Filesystem.SyncWrites {
		if err := r.unixHandler.Fdatasync(int(f.Fd())); err != nil { //nolint:gosec
			return n, fmt.Errorf("failed to sync: %w", err)
		}
	}

	return n, nil
}

// Locate returns the host path of the named image file, whether it is
// mounted or not.
func (r *Registry) Locate(name string) (string, error) {
	name, err := normalize(name)
	if err != nil {
		return "", fmt.Errorf("(images-locate) %w", err)
	}

	r.RLock()
	defer r.RUnlock()

	if err := r.exists(name); err != nil {
		return "", fmt.Errorf("(images-locate) %w", err)
	}

	return r.path(name), nil
}

// Mount mounts the named image. An image that is already mounted is returned
// as is.
func (r *Registry) Mount(name string) (*filesystem.Handler, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, fmt.Errorf("(images-mount) %w", err)
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil, fmt.Errorf("(images-mount) %w", ErrRegistryClosed)
	}

	if h, ok := r.mounted[name]; ok {
		return h, nil
	}

	if err := r.exists(name); err != nil {
		return nil, fmt.Errorf("(images-mount) %w", err)
	}

	h, err := filesystem.Mount(r.osHandler, r.unixHandler, r.path(name), r.opts.Filesystem)
	if err != nil {
		return nil, fmt.Errorf("(images-mount) %w", err)
	}

	r.mounted[name] = h

	slog.Info("Image mounted.", "image", name)

	return h, nil
}

func (r *Registry) exists(name string) error {
	if _, err := r.osHandler.Stat(r.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: image %q", filesystem.ErrNotFound, name)
		}

		return err
	}

	return nil
}

// Unmount closes the named image.
func (r *Registry) Unmount(name string) error {
	name, err := normalize(name)
	if err != nil {
		return fmt.Errorf("(images-unmount) %w", err)
	}

	r.Lock()
	defer r.Unlock()

	if err := r.unmount(name); err != nil {
		return fmt.Errorf("(images-unmount) %w", err)
	}

	return nil
}

func (r *Registry) unmount(name string) error {
	h, ok := r.mounted[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotMounted, name)
	}

	delete(r.mounted, name)

	if err := h.Close(); err != nil {
		return err
	}

	slog.Info("Image unmounted.", "image", name)

	return nil
}

// Get returns the handle of a mounted image.
func (r *Registry) Get(name string) (*filesystem.Handler, error) {
	name, err := normalize(name)
	if err != nil {
		return nil, fmt.Errorf("(images-get) %w", err)
	}

	r.RLock()
	defer r.RUnlock()

	h, ok := r.mounted[name]
	if !ok {
		return nil, fmt.Errorf("(images-get) %w: %q", ErrNotMounted, name)
	}

	return h, nil
}

// List returns all image files of the directory, sorted by name.
func (r *Registry) List() ([]Info, error) {
	entries, err := r.osHandler.ReadDir(r.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("(images-list) %w", err)
	}

	r.RLock()
	defer r.RUnlock()

	candidates := make(map[string]os.DirEntry, len(entries))
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), validation.ImageSuffix) {
			continue
		}
		candidates[e.Name()] = e
		names = append(names, e.Name())
	}

	infos := make([]Info, 0, len(names))

	for _, name := range validation.FilterImageNames(names) {
		e, ok := candidates[name]
		if !ok {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			slog.Warn("Skipped image: failed to stat", "image", name, "err", err)

			continue
		}

		_, mounted := r.mounted[name]

		infos = append(infos, Info{
			Name:     name,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
			Mounted:  mounted,
		})
	}

	slices.SortFunc(infos, func(a, b Info) int {
		return strings.Compare(a.Name, b.Name)
	})

	return infos, nil
}

// Mounted returns the names of all mounted images, sorted.
func (r *Registry) Mounted() []string {
	r.RLock()
	defer r.RUnlock()

	names := make([]string, 0, len(r.mounted))
	for name := range r.mounted {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Stats returns the usage statistics of all mounted images.
func (r *Registry) Stats() map[string]filesystem.Stats {
	r.RLock()
	defer r.RUnlock()

	stats := make(map[string]filesystem.Stats, len(r.mounted))
	for name, h := range r.mounted {
		stats[name] = h.Stats()
	}

	return stats
}

// Delete unmounts the named image when mounted and removes its file.
func (r *Registry) Delete(name string) error {
	name, err := normalize(name)
	if err != nil {
		return fmt.Errorf("(images-delete) %w", err)
	}

	r.Lock()
	defer r.Unlock()

	if err := r.exists(name); err != nil {
		return fmt.Errorf("(images-delete) %w", err)
	}

	if _, ok := r.mounted[name]; ok {
		if err := r.unmount(name); err != nil {
			return fmt.Errorf("(images-delete) %w", err)
		}
	}

	if err := r.osHandler.Remove(r.path(name)); err != nil {
		return fmt.Errorf("(images-delete) %w", err)
	}

	slog.Info("Image deleted.", "image", name)

	return nil
}

// Close unmounts all images. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.Lock()
	defer r.Unlock()

	r.closed = true

	var errs []error
	for name := range r.mounted {
		if err := r.unmount(name); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("(images-close) %w", err)
	}

	return nil
}
