package hammer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, source string) Value {
	t.Helper()
	vm := NewVM(NewConfig())
	v, err := vm.Interpret(source)
	require.NoError(t, err)
	return v
}

func TestVMArithmeticPrecedence(t *testing.T) {
	v := run(t, "1+2*3")
	assert.Equal(t, IntVal(7), v)
}

func TestVMIntDivisionByZeroIsRuntimeError(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := vm.Interpret("1/0")
	require.Error(t, err)
	var rerr RuntimeError
	require.ErrorAs(t, err, &rerr)
}

func TestVMFloatPromotion(t *testing.T) {
	v := run(t, "1 + 2.5")
	assert.Equal(t, ValFloat, v.Kind)
	assert.Equal(t, 3.5, v.Float)
}

func TestVMClosureCapturesByValueSnapshot(t *testing.T) {
	v := run(t, `
		mk: x = _: y = x + y;
		add5 = mk(5);
		add5(10)
	`)
	assert.Equal(t, IntVal(15), v)
}

func TestVMClosureSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	v := run(t, `{
		x = 1;
		f: = x;
		x = 2;
		f()
	}`)
	assert.Equal(t, IntVal(1), v)
}

func TestVMTailRecursionDoesNotOverflow(t *testing.T) {
	v := run(t, `
		count: n, acc = if n == 0 then acc else count(n - 1, acc + 1);
		count(100000, 0)
	`)
	assert.Equal(t, IntVal(100000), v)
}

func TestVMNonTailRecursionOverflowsStack(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := vm.Interpret(`
		count: n = if n == 0 then 0 else n + count(n - 1);
		count(1000000)
	`)
	require.Error(t, err)
}

func TestVMStringConcatInternsResult(t *testing.T) {
	v := run(t, `"foo" .. "bar"`)
	require.True(t, v.IsString())
	assert.Equal(t, "foobar", v.AsString().Value)
}

func TestVMIntRangeConcat(t *testing.T) {
	v := run(t, "1 .. 5")
	require.True(t, v.IsList())
	items := v.AsList().Items
	require.Len(t, items, 5)
	assert.Equal(t, IntVal(1), items[0])
	assert.Equal(t, IntVal(5), items[4])
}

func TestVMDescendingIntRangeConcat(t *testing.T) {
	v := run(t, "5 .. 1")
	require.True(t, v.IsList())
	items := v.AsList().Items
	require.Len(t, items, 5)
	assert.Equal(t, IntVal(5), items[0])
	assert.Equal(t, IntVal(1), items[4])
}

func TestVMListSubscriptIsOneIndexed(t *testing.T) {
	v := run(t, "[10, 20, 30][1]")
	assert.Equal(t, IntVal(10), v)
}

func TestVMListSubscriptNegativeFromTail(t *testing.T) {
	v := run(t, "[10, 20, 30][-1]")
	assert.Equal(t, IntVal(30), v)
}

func TestVMMapSubscript(t *testing.T) {
	v := run(t, `["a" => 1, "b" => 2]["b"]`)
	assert.Equal(t, IntVal(2), v)
}

func TestVMMatchDispatch(t *testing.T) {
	v := run(t, `
		describe: n = match n
			| 0 => "zero"
			| 1 => "one"
			| _ => "many";
		describe(1)
	`)
	require.True(t, v.IsString())
	assert.Equal(t, "one", v.AsString().Value)
}

func TestVMMatchFallsThroughToWildcard(t *testing.T) {
	v := run(t, `
		describe: n = match n
			| 0 => "zero"
			| 1 => "one"
			| _ => "many";
		describe(9)
	`)
	assert.Equal(t, "many", v.AsString().Value)
}

func TestVMMatchWithNoWildcardAndNoMatchYieldsSubject(t *testing.T) {
	// Non-tail match: embedded as the right-hand side of an assignment,
	// so the surrounding block's trailing expression only sees a
	// balanced stack if the miss path left exactly one value behind.
	v := run(t, `
		x = match 9
			| 0 => "zero"
			| 1 => "one";
		{
			x;
			7
		}
	`)
	assert.Equal(t, IntVal(7), v)
}

func TestVMMatchWithNoWildcardAndNoMatchReturnsSubjectFromTailPosition(t *testing.T) {
	v := run(t, `
		describe: n = match n
			| 0 => "zero"
			| 1 => "one";
		describe(9)
	`)
	assert.Equal(t, IntVal(9), v)
}

func TestVMReceiveAppendsToList(t *testing.T) {
	v := run(t, `
		xs = [1, 2];
		xs << 3
	`)
	require.True(t, v.IsList())
	assert.Equal(t, []Value{IntVal(1), IntVal(2), IntVal(3)}, v.AsList().Items)
}

func TestVMReceiveInsertsCellIntoMap(t *testing.T) {
	v := run(t, `
		m = ["a" => 1];
		m << ("b", 2);
		m["b"]
	`)
	assert.Equal(t, IntVal(2), v)
}

func TestVMReceiveOnMapReturnsInsertedCell(t *testing.T) {
	v := run(t, `
		m = ["a" => 1];
		m << ("b", 2)
	`)
	require.True(t, v.IsCell())
	cell := v.AsCell()
	require.True(t, cell.Car.IsString())
	assert.Equal(t, "b", cell.Car.AsString().Value)
	assert.Equal(t, IntVal(2), cell.Cdr)
}

func TestVMReceiveOnMapRejectsDuplicateKey(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := vm.Interpret(`
		m = ["a" => 1];
		m << ("a", 2)
	`)
	require.Error(t, err)
}

func TestVMReceiveOnMapRejectsNonCell(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := vm.Interpret(`
		m = ["a" => 1];
		m << 5
	`)
	require.Error(t, err)
}

func TestVMPartialApplicationOfBuiltinPlus(t *testing.T) {
	v := run(t, `
		add1 = `+"`+"+`(_, 1);
		map(add1, [1, 2, 3])
	`)
	require.True(t, v.IsList())
	items := v.AsList().Items
	require.Equal(t, []Value{IntVal(2), IntVal(3), IntVal(4)}, items)
}

func TestVMClockIsMonotonicWithinARun(t *testing.T) {
	v := run(t, `
		a = clock();
		b = clock();
		b >= a
	`)
	assert.Equal(t, BoolVal(true), v)
}

func TestVMExitHaltsWithCode(t *testing.T) {
	vm := NewVM(NewConfig())
	v, err := vm.Interpret(`
		exit(7);
		99
	`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(7), v)
}

func TestVMPrintfRendersPositionalArgs(t *testing.T) {
	v := run(t, `printf("%-%", 1, 2)`)
	require.True(t, v.IsString())
	assert.Equal(t, "1-2", v.AsString().Value)
}

func TestVMTypeOfReturnsInternedNames(t *testing.T) {
	assert.Equal(t, "int", run(t, "typeOf(1)").AsString().Value)
	assert.Equal(t, "string", run(t, `typeOf("x")`).AsString().Value)
	assert.Equal(t, "function", run(t, "typeOf(n: = n)").AsString().Value)
}

func TestVMFoldlAndFoldrAgreeOnAssociativeOperator(t *testing.T) {
	left := run(t, "foldl(`+, [1, 2, 3, 4])")
	right := run(t, "foldr(`+, [1, 2, 3, 4])")
	assert.Equal(t, IntVal(10), left)
	assert.Equal(t, IntVal(10), right)
}

func TestVMFilterKeepsMatchingElements(t *testing.T) {
	v := run(t, `
		isEven: n = n % 2 == 0;
		filter(isEven, [1, 2, 3, 4, 5, 6])
	`)
	require.True(t, v.IsList())
	assert.Equal(t, []Value{IntVal(2), IntVal(4), IntVal(6)}, v.AsList().Items)
}

func TestVMApplyInvokesWithGatheredArgs(t *testing.T) {
	v := run(t, `
		add: x, y = x + y;
		apply(add, 3, 4)
	`)
	assert.Equal(t, IntVal(7), v)
}

func TestVMDestructuringBindingAtTopLevel(t *testing.T) {
	v := run(t, `
		a, b = 1, 2;
		a + b
	`)
	assert.Equal(t, IntVal(3), v)
}

func TestVMDestructuringBindingInsideBlock(t *testing.T) {
	v := run(t, `
		{
			a, b = 1, 2;
			a + b
		}
	`)
	assert.Equal(t, IntVal(3), v)
}
