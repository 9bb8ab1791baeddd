package hammer

import "fmt"

// ValueKind is the tag of the Value union.
type ValueKind int

const (
	ValUnit ValueKind = iota
	ValBool
	ValInt
	ValFloat
	ValChar
	ValObj
)

// Value is Hammer's tagged-union runtime value. Scalars are stored
// inline; anything heap allocated (strings, cons cells, functions,
// closures, lists, maps, natives) is reached through Obj.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Char  byte
	Obj   *Obj
}

func UnitVal() Value          { return Value{Kind: ValUnit} }
func BoolVal(b bool) Value     { return Value{Kind: ValBool, Bool: b} }
func IntVal(i int64) Value     { return Value{Kind: ValInt, Int: i} }
func FloatVal(f float64) Value { return Value{Kind: ValFloat, Float: f} }
func CharVal(c byte) Value     { return Value{Kind: ValChar, Char: c} }
func ObjVal(o *Obj) Value      { return Value{Kind: ValObj, Obj: o} }

func (v Value) IsUnit() bool  { return v.Kind == ValUnit }
func (v Value) IsBool() bool  { return v.Kind == ValBool }
func (v Value) IsInt() bool   { return v.Kind == ValInt }
func (v Value) IsFloat() bool { return v.Kind == ValFloat }
func (v Value) IsChar() bool  { return v.Kind == ValChar }
func (v Value) IsObj() bool   { return v.Kind == ValObj }

// IsArith reports whether v participates in the VM's arithmetic
// promotion rule (int/int stays int, any float operand promotes).
func (v Value) IsArith() bool { return v.Kind == ValInt || v.Kind == ValFloat }

func (v Value) ObjType() ObjType {
	if v.Kind != ValObj {
		return objInvalid
	}
	return v.Obj.Type
}

func (v Value) IsString() bool   { return v.Kind == ValObj && v.Obj.Type == ObjTypeString }
func (v Value) IsCell() bool     { return v.Kind == ValObj && v.Obj.Type == ObjTypeCell }
func (v Value) IsFunction() bool { return v.Kind == ValObj && v.Obj.Type == ObjTypeFunction }
func (v Value) IsNative() bool   { return v.Kind == ValObj && v.Obj.Type == ObjTypeNative }
func (v Value) IsClosure() bool  { return v.Kind == ValObj && v.Obj.Type == ObjTypeClosure }
func (v Value) IsList() bool     { return v.Kind == ValObj && v.Obj.Type == ObjTypeList }
func (v Value) IsMap() bool      { return v.Kind == ValObj && v.Obj.Type == ObjTypeMap }

// IsCallable reports whether v can appear on the left of a call
// expression: functions, closures and natives.
func (v Value) IsCallable() bool {
	return v.IsFunction() || v.IsClosure() || v.IsNative()
}

func (v Value) AsString() *ObjString     { return v.Obj.AsString() }
func (v Value) AsCell() *ObjCell         { return v.Obj.AsCell() }
func (v Value) AsFunction() *ObjFunction { return v.Obj.AsFunction() }
func (v Value) AsNative() *ObjNative     { return v.Obj.AsNative() }
func (v Value) AsClosure() *ObjClosure   { return v.Obj.AsClosure() }
func (v Value) AsList() *ObjList         { return v.Obj.AsList() }
func (v Value) AsMap() *ObjMap           { return v.Obj.AsMap() }

// TypeName reports the name `typeOf` returns for v.
func (v Value) TypeName() string {
	switch v.Kind {
	case ValUnit:
		return "unit"
	case ValBool:
		return "bool"
	case ValInt:
		return "int"
	case ValFloat:
		return "float"
	case ValChar:
		return "char"
	case ValObj:
		switch v.Obj.Type {
		case ObjTypeString:
			return "string"
		case ObjTypeCell:
			return "pair"
		case ObjTypeFunction, ObjTypeClosure:
			return "function"
		case ObjTypeNative:
			return "native"
		case ObjTypeList:
			return "list"
		case ObjTypeMap:
			return "map"
		}
	}
	return "unknown"
}

// Truthy implements Hammer's truthiness rule: unit and false are
// falsy, everything else - including 0, 0.0 and the empty string -
// is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case ValUnit:
		return false
	case ValBool:
		return v.Bool
	default:
		return true
	}
}

// ValuesEqual implements `==`. Objects compare by identity except
// interned strings, which already share identity when equal, and
// cons cells, which compare structurally.
func ValuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		if a.IsArith() && b.IsArith() {
			return arithToFloat(a) == arithToFloat(b)
		}
		return false
	}
	switch a.Kind {
	case ValUnit:
		return true
	case ValBool:
		return a.Bool == b.Bool
	case ValInt:
		return a.Int == b.Int
	case ValFloat:
		return a.Float == b.Float
	case ValChar:
		return a.Char == b.Char
	case ValObj:
		if a.Obj == b.Obj {
			return true
		}
		if a.IsCell() && b.IsCell() {
			return cellsEqual(a.AsCell(), b.AsCell())
		}
		if a.IsString() && b.IsString() {
			return a.AsString().Value == b.AsString().Value
		}
		return false
	}
	return false
}

func cellsEqual(a, b *ObjCell) bool {
	return ValuesEqual(a.Car, b.Car) && ValuesEqual(a.Cdr, b.Cdr)
}

func arithToFloat(v Value) float64 {
	if v.Kind == ValInt {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) String() string {
	switch v.Kind {
	case ValUnit:
		return "{}"
	case ValBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValInt:
		return fmt.Sprintf("%d", v.Int)
	case ValFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValChar:
		return fmt.Sprintf("'%c'", v.Char)
	case ValObj:
		return v.Obj.String()
	}
	return "?"
}
