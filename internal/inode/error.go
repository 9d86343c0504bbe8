package inode

import "errors"

// ErrInvalidResize is returned when [Table.GrowTo] is asked to shrink or
// [Table.ShrinkTo] is asked to grow.
var ErrInvalidResize = errors.New("resize direction does not match operation")
