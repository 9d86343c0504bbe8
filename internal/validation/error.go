package validation

import "errors"

var (
	// ErrEmptyImageName occurs when an image name is empty or consists of the
	// image suffix only.
	ErrEmptyImageName = errors.New("empty image name")

	// ErrImageNameSeparator occurs when an image name contains a path
	// separator, which would escape the image directory.
	ErrImageNameSeparator = errors.New("image name contains a path separator")

	// ErrImageNameReserved occurs when an image name is a relative path
	// element such as "." or "..".
	ErrImageNameReserved = errors.New("image name is reserved")

	// ErrImageNameControl occurs when an image name contains a NUL or other
	// control character.
	ErrImageNameControl = errors.New("image name contains a control character")

	// ErrImageSizeNotPositive occurs when a requested image size is zero or
	// negative.
	ErrImageSizeNotPositive = errors.New("image size is not positive")

	// ErrImageSizeExceeded occurs when a requested image size is above the
	// configured maximum.
	ErrImageSizeExceeded = errors.New("image size exceeds the configured maximum")

	// ErrBlockSizeInvalid occurs when a block size is not a power of two
	// within the supported range.
	ErrBlockSizeInvalid = errors.New("block size is not a supported power of two")

	// ErrBytesPerInodeInvalid occurs when the bytes per inode ratio is smaller
	// than one inode record.
	ErrBytesPerInodeInvalid = errors.New("bytes per inode ratio too small")

	// ErrNoImageDir occurs when no image directory is configured.
	ErrNoImageDir = errors.New("no image directory")

	// ErrUnknownLogLevel occurs when a log level name is not recognized.
	ErrUnknownLogLevel = errors.New("unknown log level")
)
