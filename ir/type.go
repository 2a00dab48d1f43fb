// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The type side of the IR.  Scalars are borrowed from go/types; the
// pointer, vector, and union types the collector cares about are
// defined here.  Everything implements types.Type so the two kinds
// mix freely.

package ir

import (
	"fmt"

	"go/types"
)

// Pointers live in numbered address spaces.  The collector scans
// Tracked pointers.  Derived pointers are interior or cast-through
// views whose base is Tracked.  CalleeRooted pointers are rooted by
// whoever passed them in and are never materialized in a frame.

type AddrSpaceT int

const (
	Untracked    AddrSpaceT = 0
	Tracked      AddrSpaceT = 10
	Derived      AddrSpaceT = 11
	CalleeRooted AddrSpaceT = 12
)

func (space AddrSpaceT) IsSpecial() bool {
	return Tracked <= space && space <= CalleeRooted
}

func (space AddrSpaceT) String() string {
	return fmt.Sprintf("addrspace(%d)", int(space))
}

//----------------------------------------------------------------

type PointerT struct {
	Elem  types.Type
	Space AddrSpaceT
}

func (typ *PointerT) Underlying() types.Type { return typ }
func (typ *PointerT) String() string {
	if typ.Space == Untracked {
		return "*" + typ.Elem.String()
	}
	return fmt.Sprintf("%s *%s", typ.Space, typ.Elem.String())
}

func MakePointer(elem types.Type, space AddrSpaceT) *PointerT {
	return &PointerT{Elem: elem, Space: space}
}

// A vector of pointers, all in the same address space.  These show up
// because the pass runs after vectorization.

type VectorT struct {
	Elem types.Type
	Len  int
}

func (typ *VectorT) Underlying() types.Type { return typ }
func (typ *VectorT) String() string {
	return fmt.Sprintf("<%d x %s>", typ.Len, typ.Elem.String())
}

// The two-field aggregate used to return untagged unions: a special
// pointer plus a selector.  The pass numbers the whole aggregate as
// if it were its pointer field.

type UnionT struct {
	Ptr *PointerT
	Tag types.Type
}

func (typ *UnionT) Underlying() types.Type { return typ }
func (typ *UnionT) String() string {
	return fmt.Sprintf("{%s, %s}", typ.Ptr.String(), typ.Tag.String())
}

// The opaque heap-object type.  The canonical tracked pointer type is
// a Tracked pointer to this.

type ObjectT struct{}

func (typ *ObjectT) Underlying() types.Type { return typ }
func (typ *ObjectT) String() string         { return "object" }

var Object = &ObjectT{}

//----------------------------------------------------------------
// Classification helpers.

func ValueAddrSpace(value ValueT) AddrSpaceT {
	return value.Type().(*PointerT).Space
}

func IsPointer(typ types.Type) bool {
	_, isPointer := typ.(*PointerT)
	return isPointer
}

func IsSpecialPtr(typ types.Type) bool {
	ptr, isPointer := typ.(*PointerT)
	return isPointer && ptr.Space.IsSpecial()
}

func IsSpecialPtrVec(typ types.Type) bool {
	vec, isVector := typ.(*VectorT)
	return isVector && IsSpecialPtr(vec.Elem)
}

func IsUnionRep(typ types.Type) bool {
	_, isUnion := typ.(*UnionT)
	return isUnion
}
