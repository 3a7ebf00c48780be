package vm

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorAllocateReturnsExactSize(t *testing.T) {
	a := NewAllocator()
	for _, size := range []Word{1, 7, 16, 1024} {
		ptr, err := a.Allocate(size)
		require.NoError(t, err)
		got, ok := a.BlockSizeAt(ptr)
		require.True(t, ok)
		require.Equal(t, size, got)
	}
}

func TestAllocatorZeroSizeRejected(t *testing.T) {
	a := NewAllocator()
	_, err := a.Allocate(0)
	require.ErrorIs(t, err, ErrAllocator)
}

func TestAllocatorDeallocateUnknownPointerFails(t *testing.T) {
	a := NewAllocator()
	err := a.Deallocate(999)
	require.ErrorIs(t, err, ErrAllocator)
}

func TestAllocatorCoalescing(t *testing.T) {
	a := NewAllocator()
	pa, err := a.Allocate(16)
	require.NoError(t, err)
	pb, err := a.Allocate(16)
	require.NoError(t, err)
	pc, err := a.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, Word(0), pa)
	require.Equal(t, Word(16), pb)
	require.Equal(t, Word(32), pc)

	require.NoError(t, a.Deallocate(pa))
	require.NoError(t, a.Deallocate(pc))
	require.NoError(t, a.Deallocate(pb))

	require.Equal(t, 0, a.BlockCount(), "trailing free block is dropped entirely")
	require.Equal(t, 0, a.FreeEntryCount())
	require.Equal(t, Word(0), a.Frontier())
}

func TestAllocatorSplitAndReuse(t *testing.T) {
	a := NewAllocator()
	p64, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Deallocate(p64))

	p16, err := a.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, p64, p16, "reuse returns the original start")

	p48, err := a.Allocate(48)
	require.NoError(t, err)
	require.Equal(t, p64+16, p48)
}

// TestAllocatorPropertyInvariants exercises random allocate/deallocate
// sequences and checks the coalescing/tiling invariants from spec.md §8
// after each operation.
func TestAllocatorPropertyInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 30; trial++ {
		a := NewAllocator()
		var live []Word

		ops := 60
		for i := 0; i < ops; i++ {
			if len(live) == 0 || r.Intn(2) == 0 {
				size := Word(r.Intn(64) + 1)
				ptr, err := a.Allocate(size)
				require.NoError(t, err)
				live = append(live, ptr)
			} else {
				idx := r.Intn(len(live))
				ptr := live[idx]
				live = append(live[:idx], live[idx+1:]...)
				require.NoError(t, a.Deallocate(ptr))
			}
			checkAllocatorInvariants(t, a)
		}

		for _, ptr := range live {
			require.NoError(t, a.Deallocate(ptr))
		}
		checkAllocatorInvariants(t, a)
		require.Equal(t, 0, a.BlockCount())
		require.Equal(t, 0, a.FreeEntryCount())
		require.Equal(t, Word(0), a.Frontier())
	}
}

func checkAllocatorInvariants(t *testing.T, a *Allocator) {
	t.Helper()

	starts := make([]Word, 0, len(a.blocks))
	for s := range a.blocks {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	var prevEnd Word
	var prevFree bool
	freeFromIndex := make(map[Word]int)
	for size, addrs := range a.freeBySize {
		for _, addr := range addrs {
			freeFromIndex[addr] = int(size)
		}
	}

	for i, s := range starts {
		b := a.blocks[s]
		if i > 0 {
			require.Equal(t, prevEnd, b.start, "blocks must tile with no gaps/overlaps")
			require.False(t, prevFree && b.status == statusFree, "no two adjacent blocks are both free")
		}
		if b.status == statusFree {
			size, ok := freeFromIndex[b.start]
			require.True(t, ok, "every free block must be indexed by size")
			require.Equal(t, int(b.size), size)
		}
		prevEnd = b.end()
		prevFree = b.status == statusFree
	}

	require.Equal(t, prevEnd, a.frontier, "frontier must equal the end of the last block (0 if none)")

	total := 0
	for _, addrs := range a.freeBySize {
		total += len(addrs)
	}
	freeBlocks := 0
	for _, s := range starts {
		if a.blocks[s].status == statusFree {
			freeBlocks++
		}
	}
	require.Equal(t, freeBlocks, total, "free index must contain exactly the free blocks")
}
