package hammer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileTestScript(t *testing.T, source string) *ObjFunction {
	t.Helper()
	vm := NewVM(NewConfig())
	fn, err := CompileScript(vm, vm.cfg, source)
	require.NoError(t, err)
	return fn
}

func containsOp(code []byte, op OpCode) bool {
	for _, b := range code {
		if OpCode(b) == op {
			return true
		}
	}
	return false
}

func findFunctionConstant(fn *ObjFunction) *ObjFunction {
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			return c.AsFunction()
		}
	}
	return nil
}

func TestCompilerFoldsIntegerArithmeticAtCompileTime(t *testing.T) {
	fn := compileTestScript(t, "2+3")
	assert.False(t, containsOp(fn.Chunk.Code, OpAdd), "constant-folded arithmetic should not emit OpAdd")
	require.Len(t, fn.Chunk.Constants, 1)
	assert.Equal(t, IntVal(5), fn.Chunk.Constants[0])
}

func TestCompilerFoldsFloatArithmeticWhenEitherOperandIsFloat(t *testing.T) {
	fn := compileTestScript(t, "2 + 1.5")
	require.Len(t, fn.Chunk.Constants, 1)
	assert.Equal(t, FloatVal(3.5), fn.Chunk.Constants[0])
}

func TestCompilerDoesNotFoldNonLiteralArithmetic(t *testing.T) {
	fn := compileTestScript(t, "x = 1; x + 2")
	assert.True(t, containsOp(fn.Chunk.Code, OpAdd), "non-literal arithmetic must still emit OpAdd")
}

func TestCompilerFoldsStringConcatOfLiterals(t *testing.T) {
	fn := compileTestScript(t, `"foo" .. "bar"`)
	assert.False(t, containsOp(fn.Chunk.Code, OpConcat))
	require.Len(t, fn.Chunk.Constants, 1)
	require.True(t, fn.Chunk.Constants[0].IsString())
	assert.Equal(t, "foobar", fn.Chunk.Constants[0].AsString().Value)
}

func TestCompilerTailCallRewritesBareSelfCall(t *testing.T) {
	fn := compileTestScript(t, `
		count: n, acc = if n == 0 then acc else count(n - 1, acc + 1);
		0
	`)
	inner := findFunctionConstant(fn)
	require.NotNil(t, inner)
	assert.True(t, containsOp(inner.Chunk.Code, OpTailCall))
	assert.False(t, containsOp(inner.Chunk.Code, OpCall), "the only call in a tail position should be rewritten, leaving no plain OpCall")
}

func TestCompilerDoesNotTailCallNonTailSelfCall(t *testing.T) {
	fn := compileTestScript(t, `
		count: n = if n == 0 then 0 else n + count(n - 1);
		0
	`)
	inner := findFunctionConstant(fn)
	require.NotNil(t, inner)
	assert.True(t, containsOp(inner.Chunk.Code, OpCall))
	assert.False(t, containsOp(inner.Chunk.Code, OpTailCall))
}

func TestCompilerReservesSlotZeroForCalleeInNestedBlock(t *testing.T) {
	// A local declared directly inside a top-level block must not be
	// assigned slot 0, which the VM's calling convention reserves for
	// the running function's own value even for the top-level script.
	fn := compileTestScript(t, `{ x = 1; x }`)
	require.NotEmpty(t, fn.Chunk.Code)
	code := fn.Chunk.Code
	for i := 0; i+1 < len(code); i++ {
		if OpCode(code[i]) == OpGetLocal {
			assert.Equal(t, byte(1), code[i+1], "the block's first local must get slot 1")
			return
		}
	}
	t.Fatal("expected the block local to be read with OpGetLocal")
}

func TestCompilerClosureCapturesUpvalueDescriptor(t *testing.T) {
	fn := compileTestScript(t, `
		mk: x = _: y = x + y;
		0
	`)
	inner := findFunctionConstant(fn)
	require.NotNil(t, inner)
	assert.True(t, containsOp(inner.Chunk.Code, OpClosure), "a function referencing an enclosing local must compile to OpClosure")
}
