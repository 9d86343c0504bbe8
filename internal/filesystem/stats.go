package filesystem

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Stats is a snapshot of the image's space and inode usage.
type Stats struct {
	BlockSize   uint32 `json:"blockSize"`
	TotalBlocks uint32 `json:"totalBlocks"`
	DataBlocks  uint32 `json:"dataBlocks"`
	FreeBlocks  uint32 `json:"freeBlocks"`
	UsedBlocks  uint32 `json:"usedBlocks"`
	TotalInodes uint32 `json:"totalInodes"`
	FreeInodes  uint32 `json:"freeInodes"`
	UsedInodes  uint32 `json:"usedInodes"`
	TotalBytes  uint64 `json:"totalBytes"`
	UsedBytes   uint64 `json:"usedBytes"`
	FreeBytes   uint64 `json:"freeBytes"`
}

// Stats returns the current usage of the image. Used and free bytes cover
// the data region only.
func (h *Handler) Stats() Stats {
	h.RLock()
	defer h.RUnlock()

	freeBlocks := h.alloc.FreeBlocks()
	freeInodes := h.alloc.FreeInodes()
	bs := uint64(h.sb.BlockSize)

	return Stats{
		BlockSize:   h.sb.BlockSize,
		TotalBlocks: h.sb.TotalBlocks,
		DataBlocks:  h.sb.DataBlocks,
		FreeBlocks:  freeBlocks,
		UsedBlocks:  h.sb.DataBlocks - freeBlocks,
		TotalInodes: h.sb.InodeCount,
		FreeInodes:  freeInodes,
		UsedInodes:  h.sb.InodeCount - freeInodes,
		TotalBytes:  uint64(h.sb.TotalBlocks) * bs,
		UsedBytes:   uint64(h.sb.DataBlocks-freeBlocks) * bs,
		FreeBytes:   uint64(freeBlocks) * bs,
	}
}

// Export streams the raw image bytes into w.
func (h *Handler) Export(w io.Writer) (int64, error) {
	h.RLock()
	defer h.RUnlock()

	n, err := h.dev.WriteRaw(w)
	if err != nil {
		return n, pathError("export", h.dev.Path(), err)
	}

	return n, nil
}

// Dump writes a canonical hex dump of the whole image into w, followed by a
// line carrying the BLAKE3 digest of the raw bytes.
func (h *Handler) Dump(w io.Writer) error {
	h.RLock()
	defer h.RUnlock()

	hasher := blake3.New()
	dumper := hex.Dumper(w)

	if _, err := h.dev.WriteRaw(io.MultiWriter(dumper, hasher)); err != nil {
		return pathError("dump", h.dev.Path(), err)
	}

	if err := dumper.Close(); err != nil {
		return pathError("dump", h.dev.Path(), err)
	}

	if _, err := fmt.Fprintf(w, "blake3 %x\n", hasher.Sum(nil)); err != nil {
		return pathError("dump", h.dev.Path(), err)
	}

	return nil
}
