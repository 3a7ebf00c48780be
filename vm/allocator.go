package vm

import (
	"sort"

	"github.com/pkg/errors"
)

// blockStatus is USED or FREE.
type blockStatus byte

const (
	statusUsed blockStatus = iota
	statusFree
)

// heapBlock is a contiguous address range [start, end) with a back-link
// to the previous block's start address. hasPrev is false only for the
// first block in the heap.
type heapBlock struct {
	start   Word
	size    Word
	status  blockStatus
	hasPrev bool
	prev    Word
}

func (b heapBlock) end() Word { return b.start + b.size }

// Allocator is a size-segregated, address-ordered coalescing free-list
// allocator over the heap region's address space. It tracks only
// metadata; RAM is responsible for growing the underlying byte region.
//
// blocks maps each start address to its block, and order keeps those
// start addresses sorted (a sorted slice standing in for the original
// prototype's BTreeMap — see DESIGN.md for why this repo doesn't pull in
// a third-party ordered-map package for something this small).
// freeBySize is a multimap from size to the sorted start addresses of
// the FREE blocks of that size; its keys are not ordered, so the
// smallest fitting size is found by scanning all of them.
type Allocator struct {
	order      []Word // block start addresses, kept sorted
	blocks     map[Word]*heapBlock
	freeBySize map[Word][]Word // size -> sorted start addresses
	frontier   Word
}

// NewAllocator returns an empty, cold allocator with frontier at 0.
func NewAllocator() *Allocator {
	return &Allocator{
		blocks:     make(map[Word]*heapBlock),
		freeBySize: make(map[Word][]Word),
	}
}

func (a *Allocator) insertOrder(start Word) {
	i := sort.Search(len(a.order), func(i int) bool { return a.order[i] >= start })
	a.order = append(a.order, 0)
	copy(a.order[i+1:], a.order[i:])
	a.order[i] = start
}

func (a *Allocator) removeOrder(start Word) {
	i := sort.Search(len(a.order), func(i int) bool { return a.order[i] >= start })
	if i < len(a.order) && a.order[i] == start {
		a.order = append(a.order[:i], a.order[i+1:]...)
	}
}

func (a *Allocator) nextBlock(b *heapBlock) *heapBlock {
	i := sort.Search(len(a.order), func(i int) bool { return a.order[i] >= b.start })
	if i+1 < len(a.order) {
		return a.blocks[a.order[i+1]]
	}
	return nil
}

func (a *Allocator) addFree(size, start Word) {
	addrs := a.freeBySize[size]
	i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= start })
	addrs = append(addrs, 0)
	copy(addrs[i+1:], addrs[i:])
	addrs[i] = start
	a.freeBySize[size] = addrs
}

func (a *Allocator) removeFree(size, start Word) {
	addrs := a.freeBySize[size]
	i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= start })
	if i < len(addrs) && addrs[i] == start {
		addrs = append(addrs[:i], addrs[i+1:]...)
	}
	if len(addrs) == 0 {
		delete(a.freeBySize, size)
	} else {
		a.freeBySize[size] = addrs
	}
}

// smallestFreeFitting returns the smallest FREE block with size >= want,
// tie-broken by smallest start address.
func (a *Allocator) smallestFreeFitting(want Word) (Word, bool) {
	bestSize := Word(0)
	found := false
	for size := range a.freeBySize {
		if size >= want && (!found || size < bestSize) {
			bestSize = size
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return a.freeBySize[bestSize][0], true
}

func (a *Allocator) addBlock(b *heapBlock) {
	a.blocks[b.start] = b
	a.insertOrder(b.start)
	if b.status == statusFree {
		a.addFree(b.size, b.start)
	}
}

func (a *Allocator) dropBlock(b *heapBlock) {
	if b.status == statusFree {
		a.removeFree(b.size, b.start)
	}
	delete(a.blocks, b.start)
	a.removeOrder(b.start)
}

// Allocate reserves size bytes and returns the start address of a new
// USED block. size must be > 0.
func (a *Allocator) Allocate(size Word) (Word, error) {
	if size == 0 {
		return 0, errors.Wrap(ErrAllocator, "allocation size must be greater than zero")
	}

	if start, ok := a.smallestFreeFitting(size); ok {
		block := a.blocks[start]
		a.dropBlock(block)

		used := &heapBlock{start: block.start, size: size, status: statusUsed, hasPrev: block.hasPrev, prev: block.prev}
		a.addBlock(used)

		if block.size > size {
			remStart := block.start + size
			next := a.nextBlockAfterRemoval(block)

			remainder := &heapBlock{start: remStart, size: block.size - size, status: statusFree, hasPrev: true, prev: used.start}
			a.addBlock(remainder)

			if next != nil {
				next.hasPrev = true
				next.prev = remainder.start
			}
		}
		// No split: the USED block occupies the exact same address as the
		// FREE block it replaced, so any follower's prev-link (which stores
		// only the address) is already correct.

		return used.start, nil
	}

	start := a.frontier
	prevStart, hasPrev := a.lastBlockStart()
	used := &heapBlock{start: start, size: size, status: statusUsed, hasPrev: hasPrev, prev: prevStart}
	a.addBlock(used)
	a.frontier += size
	return start, nil
}

func (a *Allocator) blockStartingAt(start Word) *heapBlock {
	return a.blocks[start]
}

// nextBlockAfterRemoval finds the block that used to follow `block`
// before block was removed from the index, by address. Since block was
// already looked up from the live index, its neighbor by address is
// still findable via the addresses still registered.
func (a *Allocator) nextBlockAfterRemoval(block *heapBlock) *heapBlock {
	return a.blockStartingAt(block.end())
}

func (a *Allocator) lastBlockStart() (Word, bool) {
	if len(a.order) == 0 {
		return 0, false
	}
	return a.order[len(a.order)-1], true
}

// Deallocate marks the USED block starting at exactly ptr as FREE and
// coalesces it with adjacent FREE neighbors.
func (a *Allocator) Deallocate(ptr Word) error {
	block, ok := a.blocks[ptr]
	if !ok || block.status != statusUsed {
		return errors.Wrapf(ErrAllocator, "no used block at address 0x%08x", ptr)
	}

	block.status = statusFree
	a.addFree(block.size, block.start)

	block = a.coalescePrev(block)
	block = a.coalesceNext(block)

	if a.nextBlock(block) == nil {
		// Trailing FREE block: drop its representation entirely so the
		// heap's recorded frontier effectively shrinks.
		a.dropBlock(block)
		if block.hasPrev {
			a.frontier = block.start
		} else {
			a.frontier = 0
		}
	}

	return nil
}

func (a *Allocator) coalescePrev(block *heapBlock) *heapBlock {
	if !block.hasPrev {
		return block
	}
	prev, ok := a.blocks[block.prev]
	if !ok || prev.status != statusFree {
		return block
	}
	return a.merge(prev, block)
}

func (a *Allocator) coalesceNext(block *heapBlock) *heapBlock {
	next := a.blockStartingAt(block.end())
	if next == nil || next.status != statusFree {
		return block
	}
	return a.merge(block, next)
}

// merge combines two adjacent FREE blocks (left immediately followed by
// right) into one FREE block spanning their union, rewriting the
// following block's prev-link.
func (a *Allocator) merge(left, right *heapBlock) *heapBlock {
	following := a.blockStartingAt(right.end())

	a.dropBlock(left)
	a.dropBlock(right)

	merged := &heapBlock{
		start:   left.start,
		size:    left.size + right.size,
		status:  statusFree,
		hasPrev: left.hasPrev,
		prev:    left.prev,
	}
	a.addBlock(merged)

	if following != nil {
		following.hasPrev = true
		following.prev = merged.start
	}

	return merged
}

// IsValidPointer reports whether ptr names a live USED block.
func (a *Allocator) IsValidPointer(ptr Word) bool {
	b, ok := a.blocks[ptr]
	return ok && b.status == statusUsed
}

// Frontier is the next unallocated heap address.
func (a *Allocator) Frontier() Word {
	return a.frontier
}

// BlockCount returns the number of live blocks tracked (USED + FREE);
// used by tests asserting that a fully-released allocator goes cold.
func (a *Allocator) BlockCount() int {
	return len(a.blocks)
}

// FreeEntryCount returns the number of (size, address) pairs tracked in
// freeBySize; used by the same cold-allocator property test.
func (a *Allocator) FreeEntryCount() int {
	n := 0
	for _, addrs := range a.freeBySize {
		n += len(addrs)
	}
	return n
}

// BlockSizeAt returns the size of the FREE or USED block starting at
// start, for tests inspecting allocator internals directly.
func (a *Allocator) BlockSizeAt(start Word) (Word, bool) {
	b, ok := a.blocks[start]
	if !ok {
		return 0, false
	}
	return b.size, true
}
