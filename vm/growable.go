package vm

import (
	"math/bits"

	"github.com/pkg/errors"
)

// DefaultMaxRegionSize is the recommended cap on a region's physical
// size: large enough for real programs, small enough that a runaway
// address makes ErrMemoryLimit cheap to hit in tests. Each region is
// additionally bounded by the 31 bits of offset the address tag leaves it.
const DefaultMaxRegionSize Word = 1 << 20

// InitialRegionSize is GrowableBlock's starting physical size.
const InitialRegionSize Word = 256

// GrowableBlock wraps a MemoryBuffer with a hard size cap. It never
// shrinks; ResizeToFit only ever grows the backing buffer, rounding up
// to the next power of two.
type GrowableBlock struct {
	buf     *MemoryBuffer
	maxSize Word
}

// NewGrowableBlock returns a block pre-sized to InitialRegionSize (or
// maxSize, whichever is smaller) with the given cap. Pass 0 to use
// DefaultMaxRegionSize.
func NewGrowableBlock(maxSize Word) *GrowableBlock {
	if maxSize == 0 {
		maxSize = DefaultMaxRegionSize
	}
	initial := InitialRegionSize
	if initial > maxSize {
		initial = maxSize
	}
	buf := NewMemoryBuffer()
	buf.Resize(initial)
	return &GrowableBlock{buf: buf, maxSize: maxSize}
}

// ResizeToFit grows the block so byteCount bytes are addressable,
// failing with ErrMemoryLimit if that would exceed maxSize. It never
// shrinks the block.
func (g *GrowableBlock) ResizeToFit(byteCount Word) error {
	if byteCount > g.maxSize {
		return errors.Wrapf(ErrMemoryLimit, "requested %d bytes, max is %d", byteCount, g.maxSize)
	}
	if byteCount > g.buf.Size() {
		g.buf.Resize(nextPowerOfTwo(byteCount))
	}
	return nil
}

// ReadAt ensures offset+size(t) fits (growing if needed) and returns the
// scalar currently stored there.
func (g *GrowableBlock) ReadAt(offset Word, t TypeTag) (Scalar, error) {
	if err := g.ResizeToFit(offset + t.Size()); err != nil {
		return Scalar{}, err
	}
	return g.buf.ReadScalar(offset, t), nil
}

// WriteAt ensures offset+size(t) fits (growing if needed) and stores v.
func (g *GrowableBlock) WriteAt(offset Word, v Scalar) error {
	if err := g.ResizeToFit(offset + v.Type.Size()); err != nil {
		return err
	}
	g.buf.WriteScalar(offset, v)
	return nil
}

// Span ensures [offset, offset+length) fits and returns that sub-slice
// of the backing buffer; used by RAM.Memcpy.
func (g *GrowableBlock) Span(offset, length Word) ([]byte, error) {
	if err := g.ResizeToFit(offset + length); err != nil {
		return nil, err
	}
	return g.buf.slice(offset, length), nil
}

func nextPowerOfTwo(v Word) Word {
	if v == 0 {
		return 1
	}
	if bits.OnesCount32(v) == 1 {
		return v
	}
	return 1 << bits.Len32(v)
}
