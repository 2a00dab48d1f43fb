// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Per-invocation state for the root-lowering pass.  One stateT is
// built per function and dropped when the function is done; nothing
// is shared between invocations.

package roots

import (
	"github.com/nikandfor/tlog"
	"github.com/willf/bitset"
	"golang.org/x/tools/container/intsets"

	"github.com/s48/gclower/ir"
)

// Identifiers are dense non-negative integers naming tracked
// abstract pointers.  CallerRooted is the pseudo-identifier for
// values the caller keeps alive (constants, arguments, frame
// references); it is never materialized.

const CallerRooted = -1

// Sparse integer sets for the interference graph; x/tools's sparse
// sets iterate in sorted order, which keeps the coloring
// deterministic.

type sparseSetT = intsets.Sparse

// noRefinement marks defs with no refinement record.

const noRefinement = -2

type blockStateT struct {
	// Set during the local scan and not updated afterwards.
	defs                 *bitset.BitSet
	phiOuts              *bitset.BitSet
	upExposedUses        *bitset.BitSet // rooted at entry
	upExposedUsesUnrooted *bitset.BitSet
	downExposedUnrooted  *bitset.BitSet

	// Dataflow results.
	liveIn      *bitset.BitSet
	liveOut     *bitset.BitSet
	unrootedIn  *bitset.BitSet
	unrootedOut *bitset.BitSet

	// Safepoint indices in reverse program order (the scan runs
	// backwards, so safepoints[0] is the last one in the block).
	safepoints   []int
	hasSafepoint bool
}

func makeBlockState() *blockStateT {
	return &blockStateT{
		defs:                  bitset.New(8),
		phiOuts:               bitset.New(8),
		upExposedUses:         bitset.New(8),
		upExposedUsesUnrooted: bitset.New(8),
		downExposedUnrooted:   bitset.New(8),
		liveIn:                bitset.New(8),
		liveOut:               bitset.New(8),
		unrootedIn:            bitset.New(8),
		unrootedOut:           bitset.New(8),
	}
}

type stateT struct {
	fn *ir.FunctionT
	rt *ir.RuntimeT
	tr tlog.Span

	// The call to the thread-state getter in the entry block.
	threadStates *ir.CallInstrT

	maxPtrId       int
	maxSafepointId int

	// Identifier caches.  allPtrIds covers every value the pass has
	// looked at, including derived views; ptrIds only the base values
	// (caller-rooted bases map to CallerRooted).
	allPtrIds map[ir.ValueT]int
	vectorIds map[ir.ValueT][]int
	ptrIds    map[ir.ValueT]int
	idValues  map[int]ir.ValueT // identifier -> canonical value

	blocks map[*ir.BlockT]*blockStateT

	// A use of the key is redundant wherever the value (CallerRooted
	// meaning "statically rooted") is also live.
	refinements map[int]int

	// Safepoint numbering and per-safepoint results.
	safepointIds    map[ir.InstrT]int
	safepoints      []ir.InstrT // index -> instruction
	liveSets        []*bitset.BitSet
	liveIfLiveOut   [][]int
	returnsTwice    []ir.InstrT

	// Identifiers co-live at some safepoint, self-membership kept.
	neighbors []sparseSetT

	// Tracked-pointer allocas that were never promoted; each gets a
	// reserved frame slot.
	allocas []*ir.AllocaInstrT
}

func makeState(fn *ir.FunctionT, rt *ir.RuntimeT, tr tlog.Span) *stateT {
	return &stateT{
		fn:             fn,
		rt:             rt,
		tr:             tr,
		maxPtrId:       -1,
		maxSafepointId: -1,
		allPtrIds:      map[ir.ValueT]int{},
		vectorIds:      map[ir.ValueT][]int{},
		ptrIds:         map[ir.ValueT]int{},
		idValues:       map[int]ir.ValueT{},
		blocks:         map[*ir.BlockT]*blockStateT{},
		refinements:    map[int]int{},
		safepointIds:   map[ir.InstrT]int{},
	}
}

func (state *stateT) blockState(block *ir.BlockT) *blockStateT {
	bs := state.blocks[block]
	if bs == nil {
		bs = makeBlockState()
		state.blocks[block] = bs
	}
	return bs
}

//----------------------------------------------------------------
// Bitset helpers.  willf's sets grow on Set and report false for
// Test past the end, which is exactly what the dataflow wants.

func bitsetMembers(set *bitset.BitSet) []int {
	members := []int{}
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		members = append(members, int(i))
	}
	return members
}
