package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class represents a runtime class.
//
// Every class owns a cyclic "methods unchanged" assumption. Defining or
// removing a method renews it, which kills every inline cache entry whose
// lookup walked through this class.
type Class struct {
	Name       string
	Superclass *Class
	VTable     *VTable

	methodsUnchanged *CyclicAssumption
	rootShape        *Shape
}

func newClass(name string, superclass *Class) *Class {
	c := &Class{Name: name, Superclass: superclass}
	var parent *VTable
	if superclass != nil {
		parent = superclass.VTable
	}
	c.VTable = NewVTable(c, parent)
	c.methodsUnchanged = NewCyclicAssumption(name + " methods unchanged")
	c.rootShape = newRootShape(c)
	return c
}

func (c *Class) String() string { return c.Name }

// RootShape returns the shape of a freshly allocated instance.
func (c *Class) RootShape() *Shape { return c.rootShape }

// MethodsUnchanged returns the current method-table assumption.
func (c *Class) MethodsUnchanged() *Assumption {
	return c.methodsUnchanged.Get()
}

// AddMethod defines or redefines a method on the class.
func (c *Class) AddMethod(m Method) {
	c.VTable.AddMethod(m)
	c.methodsUnchanged.Invalidate()
}

// AddMethod0 defines a zero-argument primitive.
func (c *Class) AddMethod0(name string, fn Method0Func) {
	c.AddMethod(NewMethod0(name, fn))
}

// AddMethod1 defines a one-argument primitive.
func (c *Class) AddMethod1(name string, fn Method1Func) {
	c.AddMethod(NewMethod1(name, fn))
}

// AddMethod2 defines a two-argument primitive.
func (c *Class) AddMethod2(name string, fn Method2Func) {
	c.AddMethod(NewMethod2(name, fn))
}

// AddPrimitive defines a variable-arity primitive.
func (c *Class) AddPrimitive(name string, fn PrimitiveFunc) {
	c.AddMethod(NewPrimitiveMethod(name, fn))
}

// RemoveMethod removes a locally defined method.
func (c *Class) RemoveMethod(name string) {
	if c.VTable.RemoveMethod(name) {
		c.methodsUnchanged.Invalidate()
	}
}

// IsSubclassOf returns true if c is a subclass of other (or is the same class).
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// ClassTable
// ---------------------------------------------------------------------------

// LookupResult is the answer of a method lookup. Assumptions holds the
// method-table assumption of every class walked; the answer stands while all
// of them are valid.
type LookupResult struct {
	Method      Method
	Owner       *Class
	Assumptions []*Assumption
}

// Found reports whether the lookup resolved a method.
func (r LookupResult) Found() bool { return r.Method != nil }

// ClassTable maps class names to classes and implements Runtime.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class

	BasicObject  *Class
	Object       *Class
	Integer      *Class
	Float        *Class
	String       *Class
	Symbol       *Class
	NilClass     *Class
	TrueClass    *Class
	FalseClass   *Class
	ForeignClass *Class
}

// NewClassTable creates a class table holding the core classes.
func NewClassTable() *ClassTable {
	ct := &ClassTable{classes: make(map[string]*Class)}
	ct.BasicObject = ct.Define("BasicObject", nil)
	ct.Object = ct.Define("Object", ct.BasicObject)
	ct.Integer = ct.Define("Integer", ct.Object)
	ct.Float = ct.Define("Float", ct.Object)
	ct.String = ct.Define("String", ct.Object)
	ct.Symbol = ct.Define("Symbol", ct.Object)
	ct.NilClass = ct.Define("NilClass", ct.Object)
	ct.TrueClass = ct.Define("TrueClass", ct.Object)
	ct.FalseClass = ct.Define("FalseClass", ct.Object)
	ct.ForeignClass = ct.Define("Foreign", ct.Object)
	return ct
}

// Define creates a class, or returns the existing class of that name.
// A nil superclass on a non-root class means Object.
func (ct *ClassTable) Define(name string, superclass *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if c, ok := ct.classes[name]; ok {
		return c
	}
	if superclass == nil && ct.Object != nil {
		superclass = ct.Object
	}
	c := newClass(name, superclass)
	ct.classes[name] = c
	return c
}

// Get returns the named class or nil.
func (ct *ClassTable) Get(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Classes returns every class sorted by name.
func (ct *ClassTable) Classes() []*Class {
	ct.mu.RLock()
	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	ct.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ClassOf returns the class of any value.
func (ct *ClassTable) ClassOf(v Value) *Class {
	return ct.classForTag(tagOf(v), v)
}

func (ct *ClassTable) classForTag(tag valueTag, v Value) *Class {
	switch tag {
	case tagObject:
		return v.(*Object).Class()
	case tagNil:
		return ct.NilClass
	case tagTrue:
		return ct.TrueClass
	case tagFalse:
		return ct.FalseClass
	case tagInteger:
		return ct.Integer
	case tagFloat:
		return ct.Float
	case tagString:
		return ct.String
	case tagSymbol:
		return ct.Symbol
	default:
		return ct.ForeignClass
	}
}

// ShapeOf returns the shape of an object, or nil for shape-free values.
func (ct *ClassTable) ShapeOf(v Value) *Shape {
	if o, ok := v.(*Object); ok && o != nil {
		return o.Shape()
	}
	return nil
}

// LookupMethod walks class and its ancestors for name. The assumptions are
// read before each method table so a concurrent definition either shows up in
// the answer or kills one of the returned assumptions.
func (ct *ClassTable) LookupMethod(class *Class, name string) LookupResult {
	var result LookupResult
	for c := class; c != nil; c = c.Superclass {
		result.Assumptions = append(result.Assumptions, c.methodsUnchanged.Get())
		if m := c.VTable.LookupLocal(name); m != nil {
			result.Method = m
			result.Owner = c
			return result
		}
	}
	return result
}
