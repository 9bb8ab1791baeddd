package hammer

// GC is a tri-colour mark-sweep collector. Roots are marked straight
// to Black (skipping an observable Grey state, matching a
// single-threaded stop-the-world collector where nothing can
// observe the distinction) and queued on a grey worklist threaded
// through each Obj's own greyNext field, so tracing needs no
// separate allocation. Sweep resets every surviving object back to
// White, ready for the next cycle.
type GC struct {
	vm    *VM
	objects *Obj

	greyStart *Obj
	greyEnd   *Obj

	bytesAllocated int64
	nextGC         int64
	growthFactor   int64
	stressMode     bool
}

const bytesPerObj = 64

func newGC(vm *VM, cfg *Config) *GC {
	return &GC{
		vm:           vm,
		nextGC:       1 << 20,
		growthFactor: int64(cfg.GetInt("vm.gc_heap_grow_factor")),
		stressMode:   cfg.GetBool("vm.stress_gc"),
	}
}

func (gc *GC) track(o *Obj) {
	o.next = gc.objects
	gc.objects = o
	gc.bytesAllocated += bytesPerObj
	if gc.stressMode || gc.bytesAllocated > gc.nextGC {
		gc.collect()
	}
}

func (gc *GC) newString(value string, hash uint32) *ObjString {
	s := &ObjString{Value: value, hash: hash}
	s.obj = &Obj{Type: ObjTypeString, str: s}
	gc.track(s.obj)
	return s
}

func (gc *GC) newCell(car, cdr Value) *Obj {
	c := &ObjCell{Car: car, Cdr: cdr}
	o := &Obj{Type: ObjTypeCell, cell: c}
	gc.track(o)
	return o
}

func (gc *GC) newFunction() *ObjFunction {
	f := &ObjFunction{Chunk: NewChunk()}
	o := &Obj{Type: ObjTypeFunction, fn: f}
	f.obj = o
	gc.track(o)
	return f
}

func (gc *GC) newNative(name string, arity int, fn NativeFn) *Obj {
	n := &ObjNative{Name: name, Arity: arity, Fn: fn}
	o := &Obj{Type: ObjTypeNative, nat: n}
	gc.track(o)
	return o
}

func (gc *GC) newClosure(fn *ObjFunction, upvalCount int) *ObjClosure {
	c := &ObjClosure{Function: fn, Values: make([]Value, upvalCount), depths: make([]int, upvalCount)}
	o := &Obj{Type: ObjTypeClosure, clo: c}
	c.obj = o
	gc.track(o)
	return c
}

func (gc *GC) newList(items []Value) *Obj {
	l := &ObjList{Items: items}
	o := &Obj{Type: ObjTypeList, list: l}
	gc.track(o)
	return o
}

func (gc *GC) newMap(t *Table) *Obj {
	m := &ObjMap{Table: t}
	o := &Obj{Type: ObjTypeMap, mp: m}
	gc.track(o)
	return o
}

func (gc *GC) markValue(v Value) {
	if v.Kind == ValObj && v.Obj != nil {
		gc.markObject(v.Obj)
	}
}

func (gc *GC) markObject(o *Obj) {
	if o == nil || o.colour == gcBlack {
		return
	}
	o.colour = gcBlack
	o.greyNext = nil
	if gc.greyEnd == nil {
		gc.greyStart = o
	} else {
		gc.greyEnd.greyNext = o
	}
	gc.greyEnd = o
}

func (gc *GC) blacken(o *Obj) {
	switch o.Type {
	case ObjTypeCell:
		gc.markValue(o.cell.Car)
		gc.markValue(o.cell.Cdr)
	case ObjTypeFunction:
		for _, c := range o.fn.Chunk.Constants {
			gc.markValue(c)
		}
	case ObjTypeClosure:
		gc.markObject(o.clo.Function.obj)
		for _, v := range o.clo.Values {
			gc.markValue(v)
		}
	case ObjTypeList:
		for _, v := range o.list.Items {
			gc.markValue(v)
		}
	case ObjTypeMap:
		o.mp.Table.markEntries(gc)
	}
}

func (gc *GC) walkGrey() {
	for gc.greyStart != nil {
		o := gc.greyStart
		gc.greyStart = o.greyNext
		if gc.greyStart == nil {
			gc.greyEnd = nil
		}
		gc.blacken(o)
	}
}

func (gc *GC) markRoots(vm *VM) {
	for i := 0; i < vm.stackTop; i++ {
		gc.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		if f.closure != nil {
			gc.markObject(f.closure.obj)
			gc.markObject(f.closure.Function.obj)
		}
	}
	vm.globals.markEntries(gc)
}

func (gc *GC) sweep() {
	var prev *Obj
	obj := gc.objects
	for obj != nil {
		if obj.colour == gcBlack || obj.colour == gcGrey {
			obj.colour = gcWhite
			prev = obj
			obj = obj.next
			continue
		}
		obj = obj.next
		if prev != nil {
			prev.next = obj
		} else {
			gc.objects = obj
		}
	}
}

func (gc *GC) collect() {
	gc.markRoots(gc.vm)
	gc.walkGrey()
	gc.vm.strings.removeWhite()
	gc.sweep()
	gc.nextGC = gc.bytesAllocated * gc.growthFactor
}
