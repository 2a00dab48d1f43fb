// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The dataflow over the CFG, the per-safepoint live sets, and the
// interference graph.  Liveness runs backward; rootedness runs
// forward; both are textbook iterate-to-fixpoint.
//
//   LiveOut[B]     = PhiOuts[B] ∪ ∪_{S ∈ succ(B)} LiveIn[S]
//   LiveIn[B]      = UpExposedUses[B] ∪ UpExposedUsesUnrooted[B]
//                      ∪ (LiveOut[B] - Defs[B])
//   UnrootedIn[B]  = ∪_{P ∈ pred(B)} UnrootedOut[P]
//   UnrootedOut[B] = DownExposedUnrooted[B]
//                      ∪ (HasSafepoint[B] ? {} : UnrootedIn[B])

package roots

import (
	"github.com/willf/bitset"
)

func (state *stateT) computeLiveness() {
	// Reverse postorder to speed convergence of the Live sets, which
	// we expect to be the bigger ranges (unrooted ranges stop at the
	// first safepoint).
	order := state.fn.ReversePostorder()
	for changed := true; changed; {
		changed = false
		for _, block := range order {
			bs := state.blocks[block]
			newLiveOut := bs.phiOuts.Clone()
			for _, next := range block.Next {
				newLiveOut.InPlaceUnion(state.blocks[next].liveIn)
			}
			if !sameBits(newLiveOut, bs.liveOut) {
				changed = true
				bs.liveOut = newLiveOut
			}
			newLiveIn := bs.liveOut.Difference(bs.defs)
			newLiveIn.InPlaceUnion(bs.upExposedUses)
			newLiveIn.InPlaceUnion(bs.upExposedUsesUnrooted)
			if !sameBits(newLiveIn, bs.liveIn) {
				changed = true
				bs.liveIn = newLiveIn
			}
			newUnrootedIn := bitset.New(8)
			for _, previous := range block.Previous {
				newUnrootedIn.InPlaceUnion(state.blocks[previous].unrootedOut)
			}
			if !sameBits(newUnrootedIn, bs.unrootedIn) {
				changed = true
				bs.unrootedIn = newUnrootedIn
				if !bs.hasSafepoint {
					bs.unrootedOut.InPlaceUnion(bs.unrootedIn)
				}
			}
		}
	}
	for _, block := range order {
		bs := state.blocks[block]
		state.tr.Printw("liveness", "block", block.String(),
			"liveIn", bitsetMembers(bs.liveIn), "liveOut", bitsetMembers(bs.liveOut))
	}
	state.computeLiveSets()
}

// Bitset equality ignoring trailing zero words; the sets grow as
// identifiers get unioned in and Equal is length-sensitive.

func sameBits(x *bitset.BitSet, y *bitset.BitSet) bool {
	return x.SymmetricDifference(y).None()
}

//----------------------------------------------------------------

func (state *stateT) computeLiveSets() {
	for idx := 0; idx <= state.maxSafepointId; idx++ {
		bs := state.blocks[state.safepoints[idx].Block()]
		// Live across the whole block means live here.
		liveSet := state.liveSets[idx]
		liveSet.InPlaceUnion(bs.liveIn.Intersection(bs.liveOut))
		// Defined above the safepoint and live out means live here.
		for _, id := range state.liveIfLiveOut[idx] {
			if bs.liveOut.Test(uint(id)) {
				liveSet.Set(uint(id))
			}
		}
		// Refinements: a root whose rootedness is implied by another
		// live root (or by the caller) is redundant.  One shot, no
		// fixpoint; refinement chains are shallow by construction.
		for _, id := range bitsetMembers(liveSet) {
			refined, found := state.refinements[id]
			if found && (refined == CallerRooted || liveSet.Test(uint(refined))) {
				liveSet.Clear(uint(id))
			}
		}
		state.tr.Printw("live set", "safepoint", idx, "ids", bitsetMembers(liveSet))
	}
	state.computeInterference()
}

// Two identifiers interfere iff they are live at the same safepoint.
// An identifier is deliberately its own neighbor; that distinguishes
// "alone at some safepoint" (needs a slot) from "never live at any
// safepoint" (needs nothing).

func (state *stateT) computeInterference() {
	state.neighbors = make([]sparseSetT, state.maxPtrId+1)
	for idx := 0; idx <= state.maxSafepointId; idx++ {
		members := bitsetMembers(state.liveSets[idx])
		for _, id := range members {
			for _, other := range members {
				state.neighbors[id].Insert(other)
			}
		}
	}
}
