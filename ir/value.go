// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Values: constants, arguments, and instructions.  Instructions form
// a closed union; the pass dispatches on them with exhaustive type
// switches.

package ir

import (
	"fmt"

	"go/constant"
	"go/types"
)

type ValueT interface {
	Type() types.Type
	String() string
}

//----------------------------------------------------------------

type ConstantT struct {
	Value constant.Value // nil for null pointers and undef
	Typ   types.Type
}

func (cnst *ConstantT) Type() types.Type { return cnst.Typ }
func (cnst *ConstantT) String() string {
	if cnst.Value == nil {
		return "null"
	}
	return cnst.Value.ExactString()
}

func MakeIntConstant(value int64, typ types.Type) *ConstantT {
	return &ConstantT{Value: constant.MakeInt64(value), Typ: typ}
}

// The null pointer in 'typ's address space.

func MakeNullPointer(typ *PointerT) *ConstantT {
	return &ConstantT{Typ: typ}
}

func IsConstant(value ValueT) bool {
	_, isConstant := value.(*ConstantT)
	return isConstant
}

func ConstantInt(value ValueT) int64 {
	cnst, isConstant := value.(*ConstantT)
	if !isConstant || cnst.Value == nil {
		panic(fmt.Sprintf("not an integer constant: %s", value))
	}
	result, exact := constant.Int64Val(cnst.Value)
	if !exact {
		panic(fmt.Sprintf("constant does not fit in an int64: %s", value))
	}
	return result
}

//----------------------------------------------------------------

type ArgumentT struct {
	Name  string
	Index int
	Typ   types.Type
	Fn    *FunctionT
}

func (arg *ArgumentT) Type() types.Type { return arg.Typ }
func (arg *ArgumentT) String() string {
	return fmt.Sprintf("%%%s", arg.Name)
}

func IsArgument(value ValueT) bool {
	_, isArgument := value.(*ArgumentT)
	return isArgument
}

//----------------------------------------------------------------
// Instructions.  Every instruction knows its block and its index
// within the block, maintained by the insertion and removal code in
// block.go.

type InstrT interface {
	ValueT
	Block() *BlockT
	Index() int
	setPosition(block *BlockT, index int)
	idPtr() *int
	// All value operands, in a fixed order per kind.  SetOperand
	// accepts the same indices; both are used by generic use
	// replacement and by the checker.
	Operands() []ValueT
	SetOperand(index int, value ValueT)
	IsTerminator() bool
	HasFlag(flag string) bool
	SetFlag(flag string)
}

type instrBaseT struct {
	block *BlockT
	index int
	Name  string
	Id    int
	Typ   types.Type
	flags map[string]any
}

func (instr *instrBaseT) Type() types.Type { return instr.Typ }
func (instr *instrBaseT) Block() *BlockT   { return instr.block }
func (instr *instrBaseT) Index() int       { return instr.index }

func (instr *instrBaseT) setPosition(block *BlockT, index int) {
	instr.block = block
	instr.index = index
}

func (instr *instrBaseT) IsTerminator() bool { return false }

func (instr *instrBaseT) idPtr() *int { return &instr.Id }

func (instr *instrBaseT) HasFlag(flag string) bool {
	_, found := instr.flags[flag]
	return found
}

func (instr *instrBaseT) SetFlag(flag string) {
	if instr.flags == nil {
		instr.flags = map[string]any{}
	}
	instr.flags[flag] = true
}

func (instr *instrBaseT) String() string {
	if instr.Name == "" {
		return fmt.Sprintf("%%v%d", instr.Id)
	}
	return fmt.Sprintf("%%%s%d", instr.Name, instr.Id)
}

// Flags used as carrier metadata.  ImmutableLoad marks a load from a
// field that cannot be mutated after construction; FrameSlot marks
// frame reads and writes so later passes and the collector recognize
// them.

const (
	ImmutableLoad = "immutable"
	FrameSlot     = "gcframe"
	TagStore      = "tag"
)
