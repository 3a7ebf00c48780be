package vm

import "github.com/pkg/errors"

// heapTag is the top bit of an address: set selects the heap region,
// clear selects the stack. The remaining 31 bits are an offset into
// whichever region the bit selects.
const heapTag Word = 1 << 31

func taggedAsHeap(addr Word) bool { return addr&heapTag != 0 }
func untag(addr Word) Word        { return addr &^ heapTag }
func tagHeap(offset Word) Word    { return offset | heapTag }

// RAM owns the stack and heap growable regions plus the allocator that
// manages heap metadata. Every address it accepts is tagged per the
// region-selector bit; callers never see an untagged offset.
type RAM struct {
	stack     *GrowableBlock
	heap      *GrowableBlock
	allocator *Allocator
}

// NewRAM builds a RAM with both regions capped at maxRegionSize bytes
// (0 selects DefaultMaxRegionSize for both).
func NewRAM(maxRegionSize Word) *RAM {
	return &RAM{
		stack:     NewGrowableBlock(maxRegionSize),
		heap:      NewGrowableBlock(maxRegionSize),
		allocator: NewAllocator(),
	}
}

// ReadAt strips the region tag and reads a scalar of type t, growing the
// target region if the access lies past its current physical size.
func (r *RAM) ReadAt(addr Word, t TypeTag) (Scalar, error) {
	region, offset := r.regionFor(addr)
	v, err := region.ReadAt(offset, t)
	if err != nil {
		return Scalar{}, errors.Wrapf(err, "reading %s at address 0x%08x", t, addr)
	}
	return v, nil
}

// WriteAt strips the region tag and writes v, growing the target region
// if needed.
func (r *RAM) WriteAt(addr Word, v Scalar) error {
	region, offset := r.regionFor(addr)
	if err := region.WriteAt(offset, v); err != nil {
		return errors.Wrapf(err, "writing %s at address 0x%08x", v.Type, addr)
	}
	return nil
}

func (r *RAM) regionFor(addr Word) (*GrowableBlock, Word) {
	if taggedAsHeap(addr) {
		return r.heap, untag(addr)
	}
	return r.stack, untag(addr)
}

// Allocate reserves size bytes on the heap, grows the heap region to
// cover them, and returns a heap-tagged pointer.
func (r *RAM) Allocate(size Word) (Word, error) {
	ptr, err := r.allocator.Allocate(size)
	if err != nil {
		return 0, err
	}
	if err := r.heap.ResizeToFit(ptr + size); err != nil {
		return 0, err
	}
	return tagHeap(ptr), nil
}

// Deallocate requires a heap-tagged pointer and forwards the untagged
// address to the allocator.
func (r *RAM) Deallocate(ptr Word) error {
	if !taggedAsHeap(ptr) {
		return errors.Wrapf(ErrAllocator, "cannot deallocate stack address 0x%08x", ptr)
	}
	return r.allocator.Deallocate(untag(ptr))
}

// Memcpy copies length bytes from src to dst, tolerating overlap within
// the same region (memmove semantics). Both spans are grown to fit
// before anything is copied.
func (r *RAM) Memcpy(dst, src, length Word) error {
	if length == 0 {
		return nil
	}
	srcRegion, srcOffset := r.regionFor(src)
	dstRegion, dstOffset := r.regionFor(dst)

	srcSpan, err := srcRegion.Span(srcOffset, length)
	if err != nil {
		return errors.Wrapf(err, "memcpy source at 0x%08x", src)
	}
	dstSpan, err := dstRegion.Span(dstOffset, length)
	if err != nil {
		return errors.Wrapf(err, "memcpy destination at 0x%08x", dst)
	}

	// Go's copy is already safe for overlapping slices of the same
	// underlying array (it behaves like memmove), which covers the
	// same-region case; cross-region spans never alias.
	copy(dstSpan, srcSpan)
	return nil
}
