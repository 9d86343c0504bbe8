// Package validation implements the checks applied to user-supplied image
// names and configuration values before they reach the engine.
package validation

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/desertwitch/imgfs/internal/superblock"
)

// ImageSuffix is the file extension of image files.
const ImageSuffix = ".img"

// ImageName validates an image name and returns it with the [ImageSuffix]
// appended when missing.
func ImageName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("(validation) %w: %q", ErrImageNameSeparator, name)
	}

	if strings.ContainsFunc(name, unicode.IsControl) {
		return "", fmt.Errorf("(validation) %w: %q", ErrImageNameControl, name)
	}

	base := strings.TrimSuffix(name, ImageSuffix)
	switch base {
	case "":
		return "", fmt.Errorf("(validation) %w", ErrEmptyImageName)
	case ".", "..":
		return "", fmt.Errorf("(validation) %w: %q", ErrImageNameReserved, name)
	}

	return base + ImageSuffix, nil
}

// ImageSize validates a requested image size in bytes against maxBytes. A
// maxBytes of zero disables the upper bound.
func ImageSize(sizeBytes int64, maxBytes uint64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("(validation) %w: %d bytes", ErrImageSizeNotPositive, sizeBytes)
	}

	if maxBytes > 0 && uint64(sizeBytes) > maxBytes {
		return fmt.Errorf("(validation) %w: %d > %d bytes", ErrImageSizeExceeded, sizeBytes, maxBytes)
	}

	return nil
}

// BlockSize validates the block size of new images.
func BlockSize(blockSize int) error {
	if !superblock.ValidBlockSize(blockSize) {
		return fmt.Errorf("(validation) %w: %d not in [%d, %d]",
			ErrBlockSizeInvalid, blockSize, superblock.MinBlockSize, superblock.MaxBlockSize)
	}

	return nil
}

// BytesPerInode validates the image bytes per inode ratio of new images.
func BytesPerInode(ratio int) error {
	if ratio < superblock.InodeSize {
		return fmt.Errorf("(validation) %w: %d < %d", ErrBytesPerInodeInvalid, ratio, superblock.InodeSize)
	}

	return nil
}

// ImageDir validates the directory holding the images.
func ImageDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("(validation) %w", ErrNoImageDir)
	}

	return nil
}

// LogLevel parses a log level name (debug, info, warn, error).
func LogLevel(name string) (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("(validation) %w: %q", ErrUnknownLogLevel, name)
	}

	return level, nil
}

// FilterImageNames returns the valid image names of names, normalized with
// [ImageName]. Invalid names are logged and skipped.
func FilterImageNames(names []string) []string {
	var filtered []string

	for _, n := range names {
		name, err := ImageName(n)
		if err != nil {
			slog.Warn("Skipped image: failed name validation", "name", n, "err", err)

			continue
		}

		filtered = append(filtered, name)
	}

	return filtered
}
