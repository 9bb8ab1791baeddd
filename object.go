package hammer

import (
	"fmt"
	"strings"
)

// ObjType tags the heap object variants.
type ObjType int

const (
	objInvalid ObjType = iota
	ObjTypeString
	ObjTypeCell
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeList
	ObjTypeMap
)

// gcColour is the tri-colour mark used by the collector. White is
// the default/unreached state, Grey means reached but not yet
// scanned for outgoing references, Black means fully scanned.
type gcColour int

const (
	gcWhite gcColour = iota
	gcGrey
	gcBlack
)

// Obj is the header shared by every heap allocated value. next
// threads every live object into the VM's allocation list so the
// sweep phase can walk it; greyNext threads the separate grey
// worklist during marking. Keeping these as two explicit fields
// (rather than overloading one, as a C implementation bound on
// struct size might) keeps the Go GC unaware our own tracing pass
// exists at all.
type Obj struct {
	Type    ObjType
	colour  gcColour
	next    *Obj
	greyNext *Obj

	str  *ObjString
	cell *ObjCell
	fn   *ObjFunction
	nat  *ObjNative
	clo  *ObjClosure
	list *ObjList
	mp   *ObjMap
}

func (o *Obj) AsString() *ObjString     { return o.str }
func (o *Obj) AsCell() *ObjCell         { return o.cell }
func (o *Obj) AsFunction() *ObjFunction { return o.fn }
func (o *Obj) AsNative() *ObjNative     { return o.nat }
func (o *Obj) AsClosure() *ObjClosure   { return o.clo }
func (o *Obj) AsList() *ObjList         { return o.list }
func (o *Obj) AsMap() *ObjMap           { return o.mp }

func (o *Obj) String() string {
	switch o.Type {
	case ObjTypeString:
		return o.str.Value
	case ObjTypeCell:
		return o.cell.String()
	case ObjTypeFunction:
		if o.fn.Name == "" {
			return "<fn:anonymous>"
		}
		return fmt.Sprintf("<fn:%s>", o.fn.Name)
	case ObjTypeNative:
		return fmt.Sprintf("<native:%s>", o.nat.Name)
	case ObjTypeClosure:
		return o.clo.Function.String()
	case ObjTypeList:
		return o.list.String()
	case ObjTypeMap:
		return o.mp.String()
	}
	return "<obj>"
}

// ObjString is an interned, content-keyed string. Pointer identity
// is equality: VM.intern guarantees two equal byte sequences
// always produce the same *Obj.
type ObjString struct {
	Value string
	hash  uint32
	obj   *Obj
}

// ObjCell is a cons pair, the value of the comma operator: `a, b, c`
// nests to the right as (a, (b, c)), so the last cell's Cdr holds the
// final element rather than Unit. Comma destructuring patterns walk
// the same shape. Lists are ObjList, not chains of cells.
type ObjCell struct {
	Car Value
	Cdr Value
}

func (c *ObjCell) String() string {
	return fmt.Sprintf("(%s, %s)", c.Car, c.Cdr)
}

// ObjFunction is the compiled, not-yet-closed-over form of a
// function literal: its own constant pool and code, plus the number
// of upvalues a CLOSURE instruction captures when it builds an
// ObjClosure from it. The capture descriptors themselves are that
// instruction's operands.
type ObjFunction struct {
	Name       string
	Arity      int
	Chunk      *Chunk
	UpvalCount int
	obj        *Obj
}

func (f *ObjFunction) String() string {
	if f.Name == "" {
		return "<fn:anonymous>"
	}
	return fmt.Sprintf("<fn:%s>", f.Name)
}

// NativeFn is the Go-side ABI for a builtin. argv holds argc values;
// a negative Arity on the owning ObjNative means "at least
// |Arity|-1" (variadic). Natives that need to call back into Hammer
// closures do so through vm.CallValue, which transparently handles
// the host-callback reentrancy bookkeeping.
type NativeFn func(vm *VM, argc int, argv []Value) (Value, error)

type ObjNative struct {
	Name  string
	Arity int
	Fn    NativeFn
}

// upvalDesc describes one upvalue slot of a closure: whether it is
// captured directly off the enclosing frame's stack (IsLocal) or
// forwarded from the enclosing closure's own upvalue list.
type upvalDesc struct {
	IsLocal bool
	Index   int
}

// ObjClosure pairs a compiled function with its captured upvalues.
// Capture happens by VALUE at CLOSURE-instruction time: Values[i] is
// a snapshot, not a live reference back into the enclosing frame.
type ObjClosure struct {
	Function *ObjFunction
	Values   []Value
	depths   []int
	obj      *Obj
}

// ObjList is a contiguous, growable sequence. Subscripting and
// slicing on it are 1-indexed, matching the rest of the language's
// indexing convention.
type ObjList struct {
	Items []Value
}

func (l *ObjList) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}

// ObjMap is a string-keyed associative container built directly on
// Table, the same open-addressing structure used for string
// interning and the VM's global namespace.
type ObjMap struct {
	Table *Table
}

func (m *ObjMap) String() string {
	var b strings.Builder
	b.WriteByte('[')
	first := true
	for _, e := range m.Table.Entries() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s => %s", e.Key.Value, e.Value)
	}
	if first {
		b.WriteString("=>")
	}
	b.WriteByte(']')
	return b.String()
}
