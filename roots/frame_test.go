// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package roots

import (
	"testing"

	"go/types"

	"github.com/stretchr/testify/require"

	"github.com/s48/gclower/ir"
)

// Scenario: define, safepoint, use.  One slot, one store before the
// safepoint, one push, one pop.

func TestStraightLine(t *testing.T) {
	fx := makeFixture(t)
	untrackedPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	fn, entry, _ := fx.gcFunction("straight", untrackedPtr)
	value := fx.trackedDef(entry, fn.Args[0])
	safepoint := fx.safepoint(entry)
	fx.use(entry, value)
	fx.ret(entry)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	require.Equal(t, 3, frame.Count) // one root plus the two headers
	pushes, pops := pushAndPopCounts(fn, frame)
	require.Equal(t, 1, pushes)
	require.Equal(t, 1, pops)

	stores := frameStores(fn, frame)
	// Slot 2 is the single colored slot: one zeroing store plus the
	// root store, which sits above the safepoint.
	require.Len(t, stores[2], 2)
	rootStore := stores[2][1]
	require.Equal(t, ir.ValueT(value), rootStore.Value)
	require.Equal(t, safepoint.Block(), rootStore.Block())
	require.Less(t, rootStore.Index(), safepoint.Index())

	// The encoded root count: nroots << 1 stored through slot 0.
	count := encodedRootCount(t, fn, frame)
	require.Equal(t, int64(1<<1), count)
}

func encodedRootCount(t *testing.T, fn *ir.FunctionT, frame *ir.AllocaInstrT) int64 {
	for _, instr := range fn.Entry().Instrs {
		store, isStore := instr.(*ir.StoreInstrT)
		if !isStore {
			continue
		}
		cast, isCast := store.To.(*ir.CastInstrT)
		if !isCast {
			continue
		}
		gep, isGep := cast.X.(*ir.GepInstrT)
		if isGep && gep.Base == frame && ir.ConstantInt(gep.Offsets[0]) == 0 {
			return ir.ConstantInt(store.Value)
		}
	}
	t.Fatal("no root count store found")
	return 0
}

// Scenario: a diamond merging two tracked defs.  The phi gets the
// slot; the arms stay unstored because no safepoint sees them live.

func TestDiamondPhi(t *testing.T) {
	fx := makeFixture(t)
	untrackedPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	fn, entry, _ := fx.gcFunction("diamond",
		untrackedPtr, untrackedPtr, types.Typ[types.Bool])
	left := fn.MakeBlock("left")
	right := fn.MakeBlock("right")
	merge := fn.MakeBlock("merge")
	entry.Append(ir.MakeBranch(fn.Args[2], left, right))
	leftValue := fx.trackedDef(left, fn.Args[0])
	left.Append(ir.MakeJump(merge))
	rightValue := fx.trackedDef(right, fn.Args[1])
	right.Append(ir.MakeJump(merge))
	phi := ir.MakePhi(fx.rt.TrackedPtr,
		[]ir.ValueT{leftValue, rightValue}, []*ir.BlockT{left, right})
	merge.Append(phi)
	safepoint := fx.safepoint(merge)
	fx.use(merge, phi)
	fx.ret(merge)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	stores := frameStores(fn, frame)
	// One zeroing store and one root store of the phi itself.
	require.Len(t, stores[2], 2)
	require.Equal(t, ir.ValueT(phi), stores[2][1].Value)
	require.Equal(t, safepoint.Block(), stores[2][1].Block())
}

// The same diamond with derived arms: the synthesized phi over the
// bases is what lands in the slot.

func TestDerivedPhiEndToEnd(t *testing.T) {
	fx := makeFixture(t)
	untrackedPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	fn, entry, _ := fx.gcFunction("derivedDiamond",
		untrackedPtr, untrackedPtr, types.Typ[types.Bool])
	left := fn.MakeBlock("left")
	right := fn.MakeBlock("right")
	merge := fn.MakeBlock("merge")
	entry.Append(ir.MakeBranch(fn.Args[2], left, right))
	leftBase := fx.trackedDef(left, fn.Args[0])
	leftDerived := ir.MakeAddrSpaceCast(leftBase, fx.rt.DerivedPtr)
	left.Append(leftDerived)
	left.Append(ir.MakeJump(merge))
	rightBase := fx.trackedDef(right, fn.Args[1])
	rightDerived := ir.MakeAddrSpaceCast(rightBase, fx.rt.DerivedPtr)
	right.Append(rightDerived)
	right.Append(ir.MakeJump(merge))
	phi := ir.MakePhi(fx.rt.DerivedPtr,
		[]ir.ValueT{leftDerived, rightDerived}, []*ir.BlockT{left, right})
	merge.Append(phi)
	fx.safepoint(merge)
	fx.use(merge, phi)
	fx.ret(merge)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	stores := frameStores(fn, frame)
	require.Len(t, stores[2], 2)
	lifted, isPhi := stores[2][1].Value.(*ir.PhiInstrT)
	require.True(t, isPhi)
	require.NotSame(t, phi, lifted)
	require.Equal(t, fx.rt.TrackedPtr, lifted.Type())
}

// Rooting a union-shaped value stores its extracted pointer field.

func TestUnionRootStore(t *testing.T) {
	fx := makeFixture(t)
	union := &ir.UnionT{Ptr: fx.rt.TrackedPtr, Tag: types.Typ[types.Int8]}
	mkUnion := fx.mod.DeclareFunction("mkUnion", union)
	fn, entry, _ := fx.gcFunction("unionRoot")
	call := ir.MakeCall(mkUnion, union)
	entry.Append(call)
	extract := ir.MakeExtractValue(call, 0, fx.rt.TrackedPtr)
	entry.Append(extract)
	safepoint := fx.safepoint(entry)
	fx.use(entry, extract)
	fx.ret(entry)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	stores := frameStores(fn, frame)
	require.Len(t, stores[2], 2)
	stored, isExtract := stores[2][1].Value.(*ir.ExtractValueInstrT)
	require.True(t, isExtract)
	require.Equal(t, ir.ValueT(call), stored.Agg)
	require.Equal(t, safepoint.Block(), stores[2][1].Block())
}

// A function with no thread-state call gets no frame at all.

func TestNoGCActivity(t *testing.T) {
	fx := makeFixture(t)
	fn := fx.mod.AddFunction(ir.MakeFunction("plain", nil))
	entry := fn.MakeBlock("entry")
	fx.ret(entry)

	runPass(fx, fn)
	require.Nil(t, findFrame(t, fn))
}

// Safepoints but nothing live across them: still no frame.

func TestNoLiveRoots(t *testing.T) {
	fx := makeFixture(t)
	fn, entry, _ := fx.gcFunction("noRoots")
	fx.safepoint(entry)
	fx.ret(entry)

	runPass(fx, fn)
	require.Nil(t, findFrame(t, fn))
}

// Boundary case: only an unpromoted alloca.  The frame exists, the
// alloca becomes its reserved slot, and the count covers it.

func TestAllocaOnly(t *testing.T) {
	fx := makeFixture(t)
	fn, entry, _ := fx.gcFunction("allocas")
	alloca := ir.MakeAlloca(fx.rt.TrackedPtr, 1)
	entry.Append(alloca)
	store := ir.MakeStore(ir.MakeNullPointer(fx.rt.TrackedPtr), alloca)
	entry.Append(store)
	fx.ret(entry)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	require.Equal(t, 3, frame.Count)
	require.Equal(t, int64(1<<1), encodedRootCount(t, fn, frame))
	// The alloca is gone and its use goes through the reserved slot.
	for _, instr := range entry.Instrs {
		require.NotEqual(t, ir.InstrT(alloca), instr)
	}
	gep, isGep := store.To.(*ir.GepInstrT)
	require.True(t, isGep)
	require.Equal(t, ir.ValueT(frame), gep.Base)
	require.Equal(t, int64(2), ir.ConstantInt(gep.Offsets[0]))
}

// Store sinking: a path that reaches a second safepoint with the
// value already rooted does not store it again.

func TestStoreSinking(t *testing.T) {
	fx := makeFixture(t)
	untrackedPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	fn, entry, _ := fx.gcFunction("sink", untrackedPtr)
	next := fn.MakeBlock("next")
	value := fx.trackedDef(entry, fn.Args[0])
	fx.safepoint(entry)
	fx.use(entry, value)
	entry.Append(ir.MakeJump(next))
	fx.safepoint(next)
	fx.use(next, value)
	fx.ret(next)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	stores := frameStores(fn, frame)
	// Zeroing store plus exactly one root store, in the entry block;
	// the second safepoint inherits the rooting.
	require.Len(t, stores[2], 2)
	require.Equal(t, entry, stores[2][1].Block())
}

// Returns in two blocks get a pop each.

func TestPopPerReturn(t *testing.T) {
	fx := makeFixture(t)
	untrackedPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	fn, entry, _ := fx.gcFunction("twoReturns",
		untrackedPtr, types.Typ[types.Bool])
	left := fn.MakeBlock("left")
	right := fn.MakeBlock("right")
	value := fx.trackedDef(entry, fn.Args[0])
	fx.safepoint(entry)
	fx.use(entry, value)
	entry.Append(ir.MakeBranch(fn.Args[1], left, right))
	fx.ret(left)
	fx.ret(right)

	runPass(fx, fn)

	frame := findFrame(t, fn)
	require.NotNil(t, frame)
	pushes, pops := pushAndPopCounts(fn, frame)
	require.Equal(t, 1, pushes)
	require.Equal(t, 2, pops)
}
