package filesystem

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/desertwitch/imgfs/internal/directory"
	"github.com/desertwitch/imgfs/internal/inode"
	"github.com/desertwitch/imgfs/internal/pathing"
	"github.com/desertwitch/imgfs/internal/schema"
)

// FileInfo describes a single file or directory of the image.
type FileInfo struct {
	Path       string
	Name       string
	Inode      uint32
	Type       schema.FileType
	Size       uint64
	BlockCount uint32
	Created    time.Time
	Modified   time.Time
	Accessed   time.Time
}

// IsDir reports whether the described inode is a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Type == schema.TypeDirectory
}

// List returns the entries of the directory at p in insertion order. A file
// at p is described by a single entry of its own.
func (h *Handler) List(p string) ([]directory.Entry, error) {
	h.RLock()
	defer h.RUnlock()

	num, ino, err := h.resolveInode(p)
	if err != nil {
		return nil, pathError("ls", p, err)
	}

	if !ino.IsDir() {
		_, name, err := pathing.SplitParent(p)
		if err != nil {
			return nil, pathError("ls", p, err)
		}

		return []directory.Entry{{Name: name, Inode: num, Type: ino.Type}}, nil
	}

	entries, err := h.dirs.List(num)
	if err != nil {
		return nil, pathError("ls", p, err)
	}

	return entries, nil
}

// Read returns the full content of the file at p and records the access.
func (h *Handler) Read(p string) ([]byte, error) {
	h.RLock()
	defer h.RUnlock()

	num, ino, err := h.resolveInode(p)
	if err != nil {
		return nil, pathError("read", p, err)
	}

	if ino.IsDir() {
		return nil, pathError("read", p, schema.ErrIsADirectory)
	}

	data, err := h.table.ReadContent(num, ino)
	if err != nil {
		return nil, pathError("read", p, err)
	}

	return data, nil
}

// Write replaces the content of the file at p, creating the file when it
// does not exist. On failure an existing file keeps its previous content and
// a file created by this call is removed again.
func (h *Handler) Write(p string, content []byte) error {
	h.Lock()
	defer h.Unlock()

	parent, name, err := h.dirs.ResolveParent(p)
	if err != nil {
		return pathError("write", p, err)
	}

	created := false

	e, err := h.dirs.Lookup(parent, name)
	if err != nil && !isNotFound(err) {
		return pathError("write", p, err)
	}

	if err != nil {
		if e, err = h.createEntry(parent, name, schema.TypeFile); err != nil {
			return pathError("write", p, err)
		}
		created = true
	} else if e.IsDir() {
		return pathError("write", p, schema.ErrIsADirectory)
	}

	ino, err := h.table.Read(e.Inode)
	if err != nil {
		return pathError("write", p, err)
	}

	if err := h.table.WriteContent(e.Inode, ino, content); err != nil {
		if created {
			h.rollbackEntry(parent, name, e.Inode, ino)
		}

		return pathError("write", p, err)
	}

	slog.Debug("Wrote file.", "path", p, "inode", e.Inode, "size", len(content), "blocks", ino.BlockCount)

	return nil
}

// Truncate sets the size of the file at p. Growing zero-fills the new bytes,
// shrinking frees the trailing blocks. On failure the file is unchanged.
func (h *Handler) Truncate(p string, size uint64) error {
	h.Lock()
	defer h.Unlock()

	num, ino, err := h.resolveInode(p)
	if err != nil {
		return pathError("truncate", p, err)
	}

	if ino.IsDir() {
		return pathError("truncate", p, schema.ErrIsADirectory)
	}

	if size >= ino.Size {
		err = h.table.GrowTo(num, ino, size)
	} else {
		err = h.table.ShrinkTo(num, ino, size)
	}

	if err != nil {
		return pathError("truncate", p, err)
	}

	slog.Debug("Truncated file.", "path", p, "inode", num, "size", size, "blocks", ino.BlockCount)

	return nil
}

// Mkdir creates an empty directory at p. The parent must exist.
func (h *Handler) Mkdir(p string) error {
	h.Lock()
	defer h.Unlock()

	if err := h.create(p, schema.TypeDirectory); err != nil {
		return pathError("mkdir", p, err)
	}

	return nil
}

// Touch creates an empty file at p. The parent must exist.
func (h *Handler) Touch(p string) error {
	h.Lock()
	defer h.Unlock()

	if err := h.create(p, schema.TypeFile); err != nil {
		return pathError("touch", p, err)
	}

	return nil
}

// Remove deletes the file or empty directory at p. The root directory can
// never be removed.
func (h *Handler) Remove(p string) error {
	h.Lock()
	defer h.Unlock()

	clean, err := pathing.Clean(p)
	if err != nil {
		return pathError("rm", p, err)
	}

	if pathing.IsRoot(clean) {
		return pathError("rm", p, fmt.Errorf("%w: cannot remove the root directory", schema.ErrInvalidPath))
	}

	parent, name, err := h.dirs.ResolveParent(clean)
	if err != nil {
		return pathError("rm", p, err)
	}

	e, err := h.dirs.Lookup(parent, name)
	if err != nil {
		return pathError("rm", p, err)
	}

	ino, err := h.table.Read(e.Inode)
	if err != nil {
		return pathError("rm", p, err)
	}

	if ino.IsDir() && ino.Size > 0 {
		return pathError("rm", p, schema.ErrNotEmpty)
	}

	if err := h.table.Release(e.Inode, ino); err != nil {
		return pathError("rm", p, err)
	}

	if err := h.dirs.RemoveEntry(parent, name); err != nil {
		return pathError("rm", p, err)
	}

	slog.Debug("Removed entry.", "path", p, "inode", e.Inode)

	return nil
}

// Tree returns the hierarchy below the directory at p.
func (h *Handler) Tree(p string) (*directory.Node, error) {
	h.RLock()
	defer h.RUnlock()

	node, err := h.dirs.BuildTree(p)
	if err != nil {
		return nil, pathError("tree", p, err)
	}

	return node, nil
}

// Info returns the metadata of the file or directory at p without recording
// an access.
func (h *Handler) Info(p string) (FileInfo, error) {
	h.RLock()
	defer h.RUnlock()

	clean, err := pathing.Clean(p)
	if err != nil {
		return FileInfo{}, pathError("info", p, err)
	}

	num, ino, err := h.resolveInode(clean)
	if err != nil {
		return FileInfo{}, pathError("info", p, err)
	}

	name := "/"
	if parts, _ := pathing.Split(clean); len(parts) > 0 {
		name = parts[len(parts)-1]
	}

	return FileInfo{
		Path:       clean,
		Name:       name,
		Inode:      num,
		Type:       ino.Type,
		Size:       ino.Size,
		BlockCount: ino.BlockCount,
		Created:    ino.Created,
		Modified:   ino.Modified,
		Accessed:   ino.Accessed,
	}, nil
}

func (h *Handler) resolveInode(p string) (uint32, *inode.Inode, error) {
	num, err := h.dirs.Resolve(p)
	if err != nil {
		return 0, nil, err
	}

	ino, err := h.table.Read(num)
	if err != nil {
		return 0, nil, err
	}

	return num, ino, nil
}

func (h *Handler) create(p string, typ schema.FileType) error {
	parent, name, err := h.dirs.ResolveParent(p)
	if err != nil {
		return err
	}

	if _, err := h.createEntry(parent, name, typ); err != nil {
		return err
	}

	slog.Debug("Created entry.", "path", p, "type", typ)

	return nil
}

// createEntry allocates an inode of typ and links it into parent under name.
// The inode is released again when linking fails.
func (h *Handler) createEntry(parent uint32, name string, typ schema.FileType) (directory.Entry, error) {
	if err := pathing.ValidateName(name); err != nil {
		return directory.Entry{}, err
	}

	if _, err := h.dirs.Lookup(parent, name); err == nil {
		return directory.Entry{}, fmt.Errorf("%w: %q", schema.ErrAlreadyExists, name)
	} else if !isNotFound(err) {
		return directory.Entry{}, err
	}

	num, ino, err := h.table.Allocate(typ)
	if err != nil {
		return directory.Entry{}, err
	}

	if err := h.dirs.AddEntry(parent, name, num, typ); err != nil {
		if rerr := h.table.Release(num, ino); rerr != nil {
			slog.Warn("Failed to release inode after failed link.", "inode", num, "err", rerr)
		}

		return directory.Entry{}, err
	}

	return directory.Entry{Name: name, Inode: num, Type: typ}, nil
}

func (h *Handler) rollbackEntry(parent uint32, name string, num uint32, ino *inode.Inode) {
	if err := h.table.Release(num, ino); err != nil {
		slog.Warn("Failed to release inode during rollback.", "inode", num, "err", err)
	}

	if err := h.dirs.RemoveEntry(parent, name); err != nil {
		slog.Warn("Failed to unlink entry during rollback.", "name", name, "err", err)
	}
}
