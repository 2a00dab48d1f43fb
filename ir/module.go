// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Modules and discovery of the runtime contract: the thread-state
// getter, the allocation entry points, and the pseudo-intrinsics the
// front end leaves behind for the root-lowering pass.

package ir

import (
	"go/types"

	"github.com/nikandfor/errors"
)

type ModuleT struct {
	Name   string
	Funcs  []*FunctionT
	byName map[string]*FunctionT
}

func MakeModule(name string) *ModuleT {
	return &ModuleT{Name: name, byName: map[string]*FunctionT{}}
}

func (mod *ModuleT) AddFunction(fn *FunctionT) *FunctionT {
	if mod.byName[fn.Name] != nil {
		panic("two functions named " + fn.Name)
	}
	fn.Mod = mod
	mod.Funcs = append(mod.Funcs, fn)
	mod.byName[fn.Name] = fn
	return fn
}

func (mod *ModuleT) Lookup(name string) *FunctionT {
	return mod.byName[name]
}

func (mod *ModuleT) DeclareFunction(name string, result types.Type, argTypes ...types.Type) *FunctionT {
	return mod.AddFunction(MakeFunction(name, result, argTypes...))
}

//----------------------------------------------------------------
// The runtime contract, found by name.  Everything here is a
// declaration the code generator promises to emit (or omit, in which
// case the pass has nothing to do beyond cleanup).

const (
	ThreadStatesName      = "gcThreadStates"
	FlushName             = "gcRootFlush"
	PointerFromObjrefName = "pointerFromObjref"
	AllocObjName          = "gcAllocObj"
	PoolAllocName         = "gcPoolAlloc"
	BigAllocName          = "gcBigAlloc"
)

// Word offset of the GC-stack head within the thread state record.
// The runtime fixes this; the pass only names it.

const PgcstackOffset = 2

type RuntimeT struct {
	ThreadStates      *FunctionT // returns the thread's GC state
	Flush             *FunctionT // no-op marker, deleted by cleanup
	PointerFromObjref *FunctionT // lowered to ptrtoint
	AllocObj          *FunctionT // lowered to PoolAlloc or BigAlloc
	PoolAlloc         *FunctionT
	BigAlloc          *FunctionT

	TrackedPtr *PointerT // the canonical tracked pointer type
	DerivedPtr *PointerT
	SlotPtr    *PointerT // type of a frame slot address
	Size       types.Type
	Int32      types.Type
}

// The analog of pass initialization: look up the runtime contract in
// 'mod'.  A module with no thread-state getter and no allocator gets
// a nil TrackedPtr; functions in it only need the cleanup phase.

func (mod *ModuleT) DiscoverRuntime() (*RuntimeT, error) {
	rt := &RuntimeT{
		ThreadStates:      mod.Lookup(ThreadStatesName),
		Flush:             mod.Lookup(FlushName),
		PointerFromObjref: mod.Lookup(PointerFromObjrefName),
		AllocObj:          mod.Lookup(AllocObjName),
		PoolAlloc:         mod.Lookup(PoolAllocName),
		BigAlloc:          mod.Lookup(BigAllocName),
		Size:              types.Typ[types.Int64],
		Int32:             types.Typ[types.Int32],
	}
	if rt.AllocObj != nil {
		tracked, isPointer := rt.AllocObj.Result.(*PointerT)
		if !isPointer || tracked.Space != Tracked {
			return nil, errors.New("%s returns %s, want a tracked pointer",
				AllocObjName, rt.AllocObj.Result)
		}
		rt.TrackedPtr = tracked
	} else if rt.ThreadStates != nil {
		rt.TrackedPtr = MakePointer(Object, Tracked)
	} else {
		return rt, nil
	}
	rt.DerivedPtr = MakePointer(rt.TrackedPtr.Elem, Derived)
	rt.SlotPtr = MakePointer(rt.TrackedPtr, Untracked)
	if rt.AllocObj != nil {
		if err := rt.declareAllocators(mod); err != nil {
			return nil, errors.Wrap(err, "declaring allocators")
		}
	}
	return rt, nil
}

// The pool and big-object allocators may not have been declared yet;
// the cleanup phase calls them, so make sure they exist.

func (rt *RuntimeT) declareAllocators(mod *ModuleT) error {
	threadPtr := rt.AllocObj.Args[0].Typ
	if rt.PoolAlloc == nil {
		rt.PoolAlloc = mod.DeclareFunction(PoolAllocName, rt.TrackedPtr,
			threadPtr, rt.Int32, rt.Int32)
	} else if rt.PoolAlloc.Result != rt.TrackedPtr {
		return errors.New("%s has the wrong result type %s",
			PoolAllocName, rt.PoolAlloc.Result)
	}
	if rt.BigAlloc == nil {
		rt.BigAlloc = mod.DeclareFunction(BigAllocName, rt.TrackedPtr,
			threadPtr, rt.Size)
	} else if rt.BigAlloc.Result != rt.TrackedPtr {
		return errors.New("%s has the wrong result type %s",
			BigAllocName, rt.BigAlloc.Result)
	}
	return nil
}
