package allocation

import (
	"fmt"
	"math/bits"
)

// Bitmap is a packed bit array, least significant bit first within each
// byte. Set bits are allocated.
type Bitmap struct {
	data []byte
	size uint32
}

// NewBitmap returns an all-clear [Bitmap] tracking size bits, backed by
// byteLen bytes (at least enough to hold size bits).
func NewBitmap(size uint32, byteLen int) *Bitmap {
	byteLen = max(byteLen, int((uint64(size)+7)/8)) //nolint:mnd

	return &Bitmap{data: make([]byte, byteLen), size: size}
}

// LoadBitmap wraps existing bytes as a [Bitmap] tracking size bits.
func LoadBitmap(data []byte, size uint32) (*Bitmap, error) {
	if uint64(len(data))*8 < uint64(size) {
		return nil, fmt.Errorf("(bitmap-load) %w: %d bytes for %d bits", ErrBitmapLength, len(data), size)
	}

	return &Bitmap{data: data, size: size}, nil
}

// Len returns the number of tracked bits.
func (b *Bitmap) Len() uint32 {
	return b.size
}

// Bytes returns the backing bytes.
func (b *Bitmap) Bytes() []byte {
	return b.data
}

// Get returns whether bit i is set.
func (b *Bitmap) Get(i uint32) (bool, error) {
	if i >= b.size {
		return false, fmt.Errorf("(bitmap-get) %w: %d >= %d", ErrBitmapRange, i, b.size)
	}

	return b.data[i/8]&(1<<(i%8)) != 0, nil
}

// Set sets bit i to v.
func (b *Bitmap) Set(i uint32, v bool) error {
	if i >= b.size {
		return fmt.Errorf("(bitmap-set) %w: %d >= %d", ErrBitmapRange, i, b.size)
	}

	if v {
		b.data[i/8] |= 1 << (i % 8)
	} else {
		b.data[i/8] &^= 1 << (i % 8)
	}

	return nil
}

// FirstClear returns the lowest clear bit, or false when all are set.
func (b *Bitmap) FirstClear() (uint32, bool) {
	full := b.size / 8

	for i := range full {
		if b.data[i] != 0xFF {
			return i*8 + uint32(bits.TrailingZeros8(^b.data[i])), true
		}
	}

	for i := full * 8; i < b.size; i++ {
		if b.data[i/8]&(1<<(i%8)) == 0 {
			return i, true
		}
	}

	return 0, false
}

// Count returns the number of set bits within the tracked length.
func (b *Bitmap) Count() uint32 {
	var n int

	full := b.size / 8
	for _, x := range b.data[:full] {
		n += bits.OnesCount8(x)
	}

	for i := full * 8; i < b.size; i++ {
		if b.data[i/8]&(1<<(i%8)) != 0 {
			n++
		}
	}

	return uint32(n)
}
