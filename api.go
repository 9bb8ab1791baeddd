package hammer

import "os"

// RunFile reads path, compiles it and runs it to completion on a
// freshly constructed VM configured by cfg. It is the entry point a
// CLI driver or embedding host reaches for when it has no reason to
// keep the VM around afterwards.
func RunFile(path string, cfg *Config) (Value, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return Value{}, err
	}
	vm := NewVM(cfg)
	return vm.Interpret(string(source))
}

// Compile parses and compiles source into a top-level function
// without running it, for hosts that want to cache or inspect
// bytecode before executing it.
func Compile(vm *VM, source string) (*ObjFunction, error) {
	return CompileScript(vm, vm.cfg, source)
}
