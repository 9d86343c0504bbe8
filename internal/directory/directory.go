// Package directory implements the hierarchical namespace on top of the inode
// table. A directory's content is a packed array of fixed-size entry records
// kept in insertion order, and paths are resolved component by component
// starting from the root inode.
package directory

import (
	"bytes"
	"fmt"
	"iter"
	"slices"

	"github.com/desertwitch/imgfs/internal/inode"
	"github.com/desertwitch/imgfs/internal/pathing"
	"github.com/desertwitch/imgfs/internal/schema"
)

type tableProvider interface {
	Read(num uint32) (*inode.Inode, error)
	Blocks(ino *inode.Inode) ([]uint32, error)
	Content(ino *inode.Inode) ([]byte, error)
	WriteContent(num uint32, ino *inode.Inode, data []byte) error
}

type blockReader interface {
	ReadBlock(index uint32) ([]byte, error)
	BlockSize() int
}

// Handler is the principal implementation of the directory layer.
type Handler struct {
	table tableProvider
	dev   blockReader
	root  uint32
}

// NewHandler returns a pointer to a new directory [Handler] rooted at the
// given inode number.
func NewHandler(table tableProvider, dev blockReader, root uint32) *Handler {
	return &Handler{
		table: table,
		dev:   dev,
		root:  root,
	}
}

// Root returns the inode number of the root directory.
func (h *Handler) Root() uint32 {
	return h.root
}

func (h *Handler) dir(num uint32) (*inode.Inode, error) {
	ino, err := h.table.Read(num)
	if err != nil {
		return nil, err
	}

	if !ino.IsDir() {
		return nil, fmt.Errorf("%w: inode %d", schema.ErrNotADirectory, num)
	}

	if ino.Size%EntrySize != 0 {
		return nil, fmt.Errorf("%w: directory %d has size %d", schema.ErrCorruptFilesystem, num, ino.Size)
	}

	return ino, nil
}

// Entries returns a lazy sequence over the entries of a directory in
// insertion order. Every iteration re-reads the directory. On failure the
// error is yielded once and the sequence ends.
func (h *Handler) Entries(num uint32) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		dir, err := h.dir(num)
		if err != nil {
			yield(Entry{}, fmt.Errorf("(dir-entries) %w", err))

			return
		}

		blocks, err := h.table.Blocks(dir)
		if err != nil {
			yield(Entry{}, fmt.Errorf("(dir-entries) %w", err))

			return
		}

		perBlock := uint64(h.dev.BlockSize() / EntrySize)
		count := dir.Size / EntrySize

		if uint64(len(blocks))*perBlock < count {
			yield(Entry{}, fmt.Errorf("(dir-entries) %w: directory %d has %d entries in %d blocks",
				schema.ErrCorruptFilesystem, num, count, len(blocks)))

			return
		}

		var buf []byte
		for i := range count {
			if i%perBlock == 0 {
				if buf, err = h.dev.ReadBlock(blocks[i/perBlock]); err != nil {
					yield(Entry{}, fmt.Errorf("(dir-entries) %w", err))

					return
				}
			}

			off := (i % perBlock) * EntrySize

			e, err := decodeEntry(buf[off : off+EntrySize])
			if err != nil {
				yield(Entry{}, fmt.Errorf("(dir-entries) inode %d: %w", num, err))

				return
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// List returns all entries of a directory in insertion order.
func (h *Handler) List(num uint32) ([]Entry, error) {
	var entries []Entry

	for e, err := range h.Entries(num) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Lookup returns the entry with the given name in a directory.
func (h *Handler) Lookup(num uint32, name string) (Entry, error) {
	for e, err := range h.Entries(num) {
		if err != nil {
			return Entry{}, fmt.Errorf("(dir-lookup) %w", err)
		}

		if e.Name == name {
			return e, nil
		}
	}

	return Entry{}, fmt.Errorf("(dir-lookup) %w: %q", schema.ErrNotFound, name)
}

// Resolve walks p from the root and returns the inode number it names. An
// error wrapping [schema.ErrNotADirectory] is returned when a non-terminal
// component is a file, one wrapping [schema.ErrNotFound] when a component is
// missing.
func (h *Handler) Resolve(p string) (uint32, error) {
	parts, err := pathing.Split(p)
	if err != nil {
		return 0, fmt.Errorf("(dir-resolve) %w", err)
	}

	cur := h.root
	for _, name := range parts {
		e, err := h.Lookup(cur, name)
		if err != nil {
			return 0, fmt.Errorf("(dir-resolve) %w", err)
		}
		cur = e.Inode
	}

	return cur, nil
}

// ResolveParent returns the inode number of the directory that holds the
// final component of p, together with that component.
func (h *Handler) ResolveParent(p string) (uint32, string, error) {
	parentPath, name, err := pathing.SplitParent(p)
	if err != nil {
		return 0, "", fmt.Errorf("(dir-parent) %w", err)
	}

	parent, err := h.Resolve(parentPath)
	if err != nil {
		return 0, "", fmt.Errorf("(dir-parent) %w", err)
	}

	if _, err := h.dir(parent); err != nil {
		return 0, "", fmt.Errorf("(dir-parent) %w", err)
	}

	return parent, name, nil
}

// AddEntry appends an entry to a directory. An error wrapping
// [schema.ErrAlreadyExists] is returned when the name is taken. The
// directory grows by one record, allocating a block when the last is full.
func (h *Handler) AddEntry(num uint32, name string, target uint32, typ schema.FileType) error {
	if err := pathing.ValidateName(name); err != nil {
		return fmt.Errorf("(dir-add) %w", err)
	}

	dir, content, err := h.load(num)
	if err != nil {
		return fmt.Errorf("(dir-add) %w", err)
	}

	if idx, err := indexOf(content, name); err != nil {
		return fmt.Errorf("(dir-add) %w", err)
	} else if idx >= 0 {
		return fmt.Errorf("(dir-add) %w: %q", schema.ErrAlreadyExists, name)
	}

	content = append(content, Entry{Name: name, Inode: target, Type: typ}.encode()...)

	if err := h.table.WriteContent(num, dir, content); err != nil {
		return fmt.Errorf("(dir-add) %w", err)
	}

	return nil
}

// RemoveEntry removes the named entry from a directory. Later entries shift
// down one slot so insertion order is kept, and a trailing block that becomes
// empty is freed.
func (h *Handler) RemoveEntry(num uint32, name string) error {
	dir, content, err := h.load(num)
	if err != nil {
		return fmt.Errorf("(dir-remove) %w", err)
	}

	idx, err := indexOf(content, name)
	if err != nil {
		return fmt.Errorf("(dir-remove) %w", err)
	}

	if idx < 0 {
		return fmt.Errorf("(dir-remove) %w: %q", schema.ErrNotFound, name)
	}

	content = slices.Delete(content, idx*EntrySize, (idx+1)*EntrySize)

	if err := h.table.WriteContent(num, dir, content); err != nil {
		return fmt.Errorf("(dir-remove) %w", err)
	}

	return nil
}

// IsEmpty returns whether a directory holds no entries.
func (h *Handler) IsEmpty(num uint32) (bool, error) {
	dir, err := h.dir(num)
	if err != nil {
		return false, fmt.Errorf("(dir-isempty) %w", err)
	}

	return dir.Size == 0, nil
}

func (h *Handler) load(num uint32) (*inode.Inode, []byte, error) {
	dir, err := h.dir(num)
	if err != nil {
		return nil, nil, err
	}

	content, err := h.table.Content(dir)
	if err != nil {
		return nil, nil, err
	}

	return dir, content, nil
}

// indexOf returns the slot of the named entry in packed directory content,
// or -1 when it is absent.
func indexOf(content []byte, name string) (int, error) {
	if len(name) > pathing.MaxNameLen {
		return -1, nil
	}

	for i := 0; i*EntrySize < len(content); i++ {
		rec := content[i*EntrySize : (i+1)*EntrySize]

		if int(rec[5]) != len(name) || !bytes.Equal(rec[nameOffset:nameOffset+len(name)], []byte(name)) {
			continue
		}

		if _, err := decodeEntry(rec); err != nil {
			return -1, err
		}

		return i, nil
	}

	return -1, nil
}
