// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Slot assignment by greedy coloring in a perfect elimination order.
// Roots are in SSA form, so the interference graph is (nearly)
// chordal and the greedy coloring is (nearly) optimal.  The non-SSA
// corner cases (unpromoted allocas, merges without a phi) cost at
// worst a few extra slots.

package roots

import (
	"github.com/willf/bitset"
)

// Emits vertices by repeatedly taking one with the most
// already-emitted neighbors.  Weights are kept in buckets; moving a
// vertex up a bucket leaves a tombstone behind rather than paying
// for removal.

type peoIteratorT struct {
	weights   []int
	positions []int
	buckets   [][]int
	neighbors []sparseSetT
}

const peoDone = -1

func makePeoIterator(neighbors []sparseSetT) *peoIteratorT {
	peo := &peoIteratorT{
		weights:   make([]int, len(neighbors)),
		positions: make([]int, len(neighbors)),
		neighbors: neighbors,
	}
	first := make([]int, len(neighbors))
	for i := range neighbors {
		first[i] = i
		peo.positions[i] = i
	}
	peo.buckets = append(peo.buckets, first)
	return peo
}

func (peo *peoIteratorT) next() int {
	vertex := -1
	for vertex == -1 && 0 < len(peo.buckets) {
		bucket := peo.buckets[len(peo.buckets)-1]
		for vertex == -1 && 0 < len(bucket) {
			vertex = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
		}
		peo.buckets[len(peo.buckets)-1] = bucket
		if len(bucket) == 0 {
			peo.buckets = peo.buckets[:len(peo.buckets)-1]
		}
	}
	if vertex == -1 {
		return peoDone
	}
	peo.weights[vertex] = peoDone // emitted, never requeued
	var scratch []int
	for _, neighbor := range peo.neighbors[vertex].AppendTo(scratch) {
		if neighbor == vertex || peo.weights[neighbor] == peoDone {
			continue
		}
		// Tombstone the old queue slot and raise the neighbor.
		peo.buckets[peo.weights[neighbor]][peo.positions[neighbor]] = -1
		peo.weights[neighbor] += 1
		if len(peo.buckets) <= peo.weights[neighbor] {
			peo.buckets = append(peo.buckets, []int{})
		}
		bucket := append(peo.buckets[peo.weights[neighbor]], neighbor)
		peo.buckets[peo.weights[neighbor]] = bucket
		peo.positions[neighbor] = len(bucket) - 1
	}
	return vertex
}

//----------------------------------------------------------------

// The identifier -> color map; NoColor for identifiers that never
// appear at a safepoint.  Colors below 'reserved' are the private
// slots of values live across returns-twice safepoints.

type coloringT struct {
	colors   []int
	reserved int
}

const NoColor = -1

func (state *stateT) colorRoots() coloringT {
	colors := make([]int, state.maxPtrId+1)
	for i := range colors {
		colors[i] = NoColor
	}
	peo := makePeoIterator(state.neighbors)
	// A returns-twice call has unobservable control flow, so we
	// cannot tell where its live values really die.  Give each one a
	// permanent slot of its own.
	reserved := 0
	for _, instr := range state.returnsTwice {
		liveSet := state.liveSets[state.safepointIds[instr]]
		for _, id := range bitsetMembers(liveSet) {
			if colors[id] == NoColor {
				colors[id] = reserved
				reserved += 1
			}
		}
	}
	usedColors := bitset.New(8)
	for {
		vertex := peo.next()
		if vertex == peoDone {
			break
		}
		if colors[vertex] != NoColor {
			continue
		}
		if state.neighbors[vertex].IsEmpty() {
			// Not live at any safepoint; no slot needed.
			continue
		}
		usedColors.ClearAll()
		var scratch []int
		for _, neighbor := range state.neighbors[vertex].AppendTo(scratch) {
			if colors[neighbor] == NoColor || colors[neighbor] < reserved {
				continue
			}
			usedColors.Set(uint(colors[neighbor] - reserved))
		}
		newColor := 0
		for usedColors.Test(uint(newColor)) {
			newColor += 1
		}
		colors[vertex] = newColor + reserved
	}
	for id, color := range colors {
		if color != NoColor {
			state.tr.Printw("color", "id", id, "color", color,
				"value", state.idValues[id].String())
		}
	}
	return coloringT{colors: colors, reserved: reserved}
}

func (coloring *coloringT) maxColor() int {
	max := NoColor
	for _, color := range coloring.colors {
		if max < color {
			max = color
		}
	}
	return max
}
