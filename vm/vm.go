package vm

// ---------------------------------------------------------------------------
// VM: ties the runtime core together
// ---------------------------------------------------------------------------

// Options are the runtime settings recognized by the core.
type Options struct {
	// CacheDepthLimit bounds the entries of each call site.
	CacheDepthLimit int
	// GlobalVariableMaxInvalidations bounds how often a global variable may
	// be rewritten before it stops being assumable.
	GlobalVariableMaxInvalidations int
	// Missing is the missing-method behavior of sites created through Send.
	Missing MissingBehavior
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		CacheDepthLimit:                DefaultCacheDepthLimit,
		GlobalVariableMaxInvalidations: DefaultGlobalVariableMaxInvalidations,
		Missing:                        MissingRaise,
	}
}

// VM is a runtime instance: classes, global variables and call sites.
type VM struct {
	Options Options
	Classes *ClassTable
	Globals *GlobalVariables
	Sites   *CallSiteTable
}

// NewVM creates a runtime with the core classes defined.
func NewVM(opts Options) *VM {
	classes := NewClassTable()
	return &VM{
		Options: opts,
		Classes: classes,
		Globals: NewGlobalVariables(opts.GlobalVariableMaxInvalidations),
		Sites:   NewCallSiteTable(classes, opts.CacheDepthLimit),
	}
}

// CallSite returns the dispatch site for id, created with the VM's missing
// behavior.
func (vm *VM) CallSite(id int) *DispatchSite {
	return vm.Sites.GetOrCreate(id, vm.Options.Missing)
}

// Send dispatches name to recv through the call site id.
func (vm *VM) Send(id int, recv Value, name string, args ...Value) (Value, error) {
	return vm.CallSite(id).Dispatch(recv, name, args)
}

// Perform dispatches without an inline cache, the way a megamorphic site does.
func (vm *VM) Perform(recv Value, name string, args ...Value) (Value, error) {
	class := vm.Classes.ClassOf(recv)
	r := vm.Classes.LookupMethod(class, name)
	if r.Found() {
		return r.Method.Invoke(recv, args)
	}
	return nil, &NoMethodError{Name: name, Class: class, Receiver: recv}
}

// ReadGlobal returns the value of a global variable; undefined variables read
// as nil.
func (vm *VM) ReadGlobal(name string) (Value, error) {
	g := vm.Globals.Lookup(name)
	if g == nil {
		return nil, nil
	}
	v, _, err := g.Read()
	return v, err
}

// WriteGlobal assigns a global variable.
func (vm *VM) WriteGlobal(name string, value Value) error {
	_, err := vm.Globals.Define(name, value)
	return err
}
