package schema

// FileType is the on-disk type tag of an inode or directory entry.
type FileType uint8

const (
	// TypeFree marks an unused inode record.
	TypeFree FileType = 0

	// TypeFile marks a regular file.
	TypeFile FileType = 1

	// TypeDirectory marks a directory.
	TypeDirectory FileType = 2
)

// IsValid returns whether the [FileType] is one of the known tags.
func (t FileType) IsValid() bool {
	return t == TypeFree || t == TypeFile || t == TypeDirectory
}

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeFree:
		return "free"
	default:
		return "unknown"
	}
}
