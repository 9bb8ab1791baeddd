package hammer

import (
	"fmt"
	"time"
)

// RegisterNatives installs every builtin into vm's global namespace.
// Natives that need to call back into Hammer code (map, filter, zip,
// foldl, foldr, apply) do so through vm.CallValue rather than driving
// the frame stack directly.
func RegisterNatives(vm *VM) {
	define := func(name string, arity int, fn NativeFn) {
		o := vm.gc.newNative(name, arity, fn)
		vm.globals.Set(vm.intern(name), ObjVal(o))
	}

	define("clock", 0, nativeClock)
	define("exit", 1, nativeExit)
	define("printf", -2, nativePrintf(false))
	define("printfn", -2, nativePrintf(true))
	define("typeOf", 1, nativeTypeOf)
	define("len", 1, nativeLen)
	define("rev", 1, nativeRev)
	define("map", 2, nativeMap)
	define("filter", 2, nativeFilter)
	define("zip", 3, nativeZip)
	define("foldl", 2, nativeFoldl)
	define("foldr", 2, nativeFoldr)
	define("apply", -2, nativeApply)

	define("+", 2, arithNative(OpAdd))
	define("-", 2, arithNative(OpSub))
	define("*", 2, arithNative(OpMul))
	define("/", 2, arithNative(OpDiv))
	define("%", 2, arithNative(OpMod))
	define("^", 2, arithNative(OpPow))
}

func nativeClock(vm *VM, argc int, argv []Value) (Value, error) {
	return FloatVal(float64(time.Now().UnixNano()) / 1e9), nil
}

func nativeExit(vm *VM, argc int, argv []Value) (Value, error) {
	if !argv[0].IsInt() {
		return Value{}, vm.runtimeErrorf("exit expected an int, got %s", argv[0].TypeName())
	}
	panic(exitSignal{code: int(argv[0].Int)})
}

// exitSignal unwinds the Go call stack out of Run when the script
// calls exit, matching the C VM's process-level exit() without
// Hammer needing to mimic a real process exit inside tests.
type exitSignal struct{ code int }

func nativePrintf(newline bool) NativeFn {
	return func(vm *VM, argc int, argv []Value) (Value, error) {
		if !argv[0].IsString() {
			return Value{}, vm.runtimeErrorf("printf expected a format string, got %s", argv[0].TypeName())
		}
		out := renderFormat(argv[0].AsString().Value, argv[1:])
		if newline {
			fmt.Println(out)
		} else {
			fmt.Print(out)
		}
		return ObjVal(vm.intern(out).obj), nil
	}
}

// renderFormat substitutes each bare `%` in format with the next
// argument's printed form, left to right.
func renderFormat(format string, args []Value) string {
	var out []byte
	argi := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && argi < len(args) {
			out = append(out, args[argi].String()...)
			argi++
			continue
		}
		out = append(out, format[i])
	}
	return string(out)
}

func nativeTypeOf(vm *VM, argc int, argv []Value) (Value, error) {
	return ObjVal(vm.intern(argv[0].TypeName()).obj), nil
}

func nativeLen(vm *VM, argc int, argv []Value) (Value, error) {
	switch {
	case argv[0].IsString():
		return IntVal(int64(len(argv[0].AsString().Value))), nil
	case argv[0].IsList():
		return IntVal(int64(len(argv[0].AsList().Items))), nil
	case argv[0].IsMap():
		return IntVal(int64(argv[0].AsMap().Table.Count())), nil
	}
	return Value{}, vm.runtimeErrorf("len expected a string, list or map, got %s", argv[0].TypeName())
}

func nativeRev(vm *VM, argc int, argv []Value) (Value, error) {
	switch {
	case argv[0].IsList():
		items := argv[0].AsList().Items
		out := make([]Value, len(items))
		for i, v := range items {
			out[len(items)-1-i] = v
		}
		return ObjVal(vm.gc.newList(out)), nil
	case argv[0].IsString():
		s := argv[0].AsString().Value
		b := make([]byte, len(s))
		for i := 0; i < len(s); i++ {
			b[len(s)-1-i] = s[i]
		}
		return ObjVal(vm.intern(string(b)).obj), nil
	}
	return Value{}, vm.runtimeErrorf("rev expected a string or list, got %s", argv[0].TypeName())
}

func nativeMap(vm *VM, argc int, argv []Value) (Value, error) {
	f, l := argv[0], argv[1]
	if !f.IsCallable() {
		return Value{}, vm.runtimeErrorf("map expected a callable, got %s", f.TypeName())
	}
	if !l.IsList() {
		return Value{}, vm.runtimeErrorf("map expected a list, got %s", l.TypeName())
	}
	items := l.AsList().Items
	out := make([]Value, len(items))
	for i, x := range items {
		y, err := vm.CallValue(f, []Value{x})
		if err != nil {
			return Value{}, err
		}
		out[i] = y
	}
	return ObjVal(vm.gc.newList(out)), nil
}

func nativeFilter(vm *VM, argc int, argv []Value) (Value, error) {
	f, l := argv[0], argv[1]
	if !f.IsCallable() {
		return Value{}, vm.runtimeErrorf("filter expected a callable, got %s", f.TypeName())
	}
	if !l.IsList() {
		return Value{}, vm.runtimeErrorf("filter expected a list, got %s", l.TypeName())
	}
	var out []Value
	for _, x := range l.AsList().Items {
		keep, err := vm.CallValue(f, []Value{x})
		if err != nil {
			return Value{}, err
		}
		if keep.Truthy() {
			out = append(out, x)
		}
	}
	return ObjVal(vm.gc.newList(out)), nil
}

func nativeZip(vm *VM, argc int, argv []Value) (Value, error) {
	f, l1, l2 := argv[0], argv[1], argv[2]
	if !f.IsCallable() {
		return Value{}, vm.runtimeErrorf("zip expected a callable, got %s", f.TypeName())
	}
	if !l1.IsList() || !l2.IsList() {
		return Value{}, vm.runtimeErrorf("zip expected lists, got %s and %s", l1.TypeName(), l2.TypeName())
	}
	a, b := l1.AsList().Items, l2.AsList().Items
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := vm.CallValue(f, []Value{a[i], b[i]})
		if err != nil {
			return Value{}, err
		}
		out[i] = v
	}
	return ObjVal(vm.gc.newList(out)), nil
}

func nativeFoldl(vm *VM, argc int, argv []Value) (Value, error) {
	f, l := argv[0], argv[1]
	if !f.IsCallable() {
		return Value{}, vm.runtimeErrorf("foldl expected a callable, got %s", f.TypeName())
	}
	if !l.IsList() || len(l.AsList().Items) < 2 {
		return Value{}, vm.runtimeErrorf("foldl expected a list of at least two elements")
	}
	items := l.AsList().Items
	acc, err := vm.CallValue(f, []Value{items[0], items[1]})
	if err != nil {
		return Value{}, err
	}
	for i := 2; i < len(items); i++ {
		acc, err = vm.CallValue(f, []Value{acc, items[i]})
		if err != nil {
			return Value{}, err
		}
	}
	return acc, nil
}

func nativeFoldr(vm *VM, argc int, argv []Value) (Value, error) {
	f, l := argv[0], argv[1]
	if !f.IsCallable() {
		return Value{}, vm.runtimeErrorf("foldr expected a callable, got %s", f.TypeName())
	}
	if !l.IsList() || len(l.AsList().Items) < 2 {
		return Value{}, vm.runtimeErrorf("foldr expected a list of at least two elements")
	}
	items := l.AsList().Items
	n := len(items)
	acc, err := vm.CallValue(f, []Value{items[n-2], items[n-1]})
	if err != nil {
		return Value{}, err
	}
	for i := n - 3; i >= 0; i-- {
		acc, err = vm.CallValue(f, []Value{items[i], acc})
		if err != nil {
			return Value{}, err
		}
	}
	return acc, nil
}

func nativeApply(vm *VM, argc int, argv []Value) (Value, error) {
	if !argv[0].IsCallable() {
		return Value{}, vm.runtimeErrorf("apply expected a callable, got %s", argv[0].TypeName())
	}
	return vm.CallValue(argv[0], argv[1:])
}

// arithNative exposes the arithmetic opcodes as first class callables
// so pipelines built from `. + filter` composition can pass `+` etc
// directly as values instead of only as infix syntax.
func arithNative(op OpCode) NativeFn {
	return func(vm *VM, argc int, argv []Value) (Value, error) {
		vm.push(argv[0])
		vm.push(argv[1])
		var err error
		switch op {
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			err = vm.binaryArith(op)
		default:
			err = vm.runtimeErrorf("unsupported arithmetic native")
		}
		if err != nil {
			return Value{}, err
		}
		return vm.pop(), nil
	}
}
