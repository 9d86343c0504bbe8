package schema

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidSize is an error that occurs when an image is requested with a
	// size or block size that cannot hold the reserved structures plus at
	// least one data block.
	ErrInvalidSize = errors.New("invalid image size")

	// ErrCorruptFilesystem is an error that occurs when an image's superblock
	// or metadata fails validation (magic, version, checksum or geometry).
	ErrCorruptFilesystem = errors.New("corrupt filesystem")

	// ErrNotFound is an error that occurs when a path component does not
	// exist. It matches [fs.ErrNotExist].
	ErrNotFound = fmt.Errorf("not found: %w", fs.ErrNotExist)

	// ErrNotADirectory is an error that occurs when a non-terminal path
	// component or a directory operation target is a regular file.
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsADirectory is an error that occurs when a file operation is
	// attempted on a directory.
	ErrIsADirectory = errors.New("is a directory")

	// ErrAlreadyExists is an error that occurs when an entry with the same
	// name already exists in the target directory. It matches [fs.ErrExist].
	ErrAlreadyExists = fmt.Errorf("already exists: %w", fs.ErrExist)

	// ErrNotEmpty is an error that occurs when removal of a directory that
	// still holds entries is attempted.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrNoSpace is an error that occurs when no free data block or no free
	// inode remains.
	ErrNoSpace = errors.New("no space left on image")

	// ErrInvalidInode is an error that occurs when an inode number is outside
	// of the inode table or refers to a free inode.
	ErrInvalidInode = errors.New("invalid inode")

	// ErrOutOfRange is an error that occurs when a block index lies outside
	// of the image or the managed region.
	ErrOutOfRange = errors.New("block index out of range")

	// ErrNameTooLong is an error that occurs when a path component exceeds
	// the maximum directory entry name length.
	ErrNameTooLong = errors.New("name too long")

	// ErrInvalidPath is an error that occurs when a path is syntactically
	// unusable (empty components, reserved names, forbidden characters) or
	// targets the root where that is not allowed. It matches [fs.ErrInvalid].
	ErrInvalidPath = fmt.Errorf("invalid path: %w", fs.ErrInvalid)

	// ErrFileTooLarge is an error that occurs when content would need more
	// blocks than the direct and single indirect pointers can address.
	ErrFileTooLarge = errors.New("file too large")

	// ErrClosed is an error that occurs when an operation is attempted on a
	// released image. It matches [fs.ErrClosed].
	ErrClosed = fmt.Errorf("image closed: %w", fs.ErrClosed)
)
