package vm

import "fmt"

// Method represents a callable method.
//
// The arity-specialized wrappers below check the argument count once so the
// wrapped functions can take their arguments positionally.
type Method interface {
	Invoke(receiver Value, args []Value) (Value, error)
	Name() string
}

// PrimitiveFunc is a Go function that implements a method of any arity.
type PrimitiveFunc func(receiver Value, args []Value) (Value, error)

// Method0Func is a primitive taking no arguments.
type Method0Func func(receiver Value) (Value, error)

// Method1Func is a primitive taking one argument.
type Method1Func func(receiver Value, arg1 Value) (Value, error)

// Method2Func is a primitive taking two arguments.
type Method2Func func(receiver Value, arg1, arg2 Value) (Value, error)

// ---------------------------------------------------------------------------
// Arity-specialized method wrappers
// ---------------------------------------------------------------------------

// PrimitiveMethod wraps a general PrimitiveFunc as a Method.
type PrimitiveMethod struct {
	name string
	fn   PrimitiveFunc
}

// NewPrimitiveMethod returns a variable-arity method.
func NewPrimitiveMethod(name string, fn PrimitiveFunc) *PrimitiveMethod {
	return &PrimitiveMethod{name: name, fn: fn}
}

func (m *PrimitiveMethod) Invoke(receiver Value, args []Value) (Value, error) {
	return m.fn(receiver, args)
}

func (m *PrimitiveMethod) Name() string { return m.name }
func (m *PrimitiveMethod) Arity() int   { return -1 }

// Method0 wraps a zero-argument primitive.
type Method0 struct {
	name string
	fn   Method0Func
}

// NewMethod0 returns a zero-argument method.
func NewMethod0(name string, fn Method0Func) *Method0 {
	return &Method0{name: name, fn: fn}
}

func (m *Method0) Invoke(receiver Value, args []Value) (Value, error) {
	if len(args) != 0 {
		return nil, arityError(m.name, 0, len(args))
	}
	return m.fn(receiver)
}

func (m *Method0) Name() string { return m.name }
func (m *Method0) Arity() int   { return 0 }

// Method1 wraps a one-argument primitive.
type Method1 struct {
	name string
	fn   Method1Func
}

// NewMethod1 returns a one-argument method.
func NewMethod1(name string, fn Method1Func) *Method1 {
	return &Method1{name: name, fn: fn}
}

func (m *Method1) Invoke(receiver Value, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, arityError(m.name, 1, len(args))
	}
	return m.fn(receiver, args[0])
}

func (m *Method1) Name() string { return m.name }
func (m *Method1) Arity() int   { return 1 }

// Method2 wraps a two-argument primitive.
type Method2 struct {
	name string
	fn   Method2Func
}

// NewMethod2 returns a two-argument method.
func NewMethod2(name string, fn Method2Func) *Method2 {
	return &Method2{name: name, fn: fn}
}

func (m *Method2) Invoke(receiver Value, args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, arityError(m.name, 2, len(args))
	}
	return m.fn(receiver, args[0], args[1])
}

func (m *Method2) Name() string { return m.name }
func (m *Method2) Arity() int   { return 2 }

func arityError(name string, want, got int) error {
	return fmt.Errorf("%w: %s expects %d, got %d", ErrWrongArity, name, want, got)
}
