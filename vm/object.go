package vm

import (
	"sync"
	"sync/atomic"
)

// Object represents a heap-allocated runtime object.
//
// The object's layout is described by its Shape. Adding an instance variable
// moves the object to a child shape; shapes are shared between objects that
// were given the same variables in the same order, so a shape check is enough
// to guard cached dispatch on the object's class.
type Object struct {
	shape atomic.Pointer[Shape]

	mu    sync.Mutex // serializes layout changes
	slots []Value
}

// Shape is a structural descriptor of an object's layout. Shapes are compared
// by identity.
type Shape struct {
	id       uint64
	class    *Class
	parent   *Shape
	property string
	index    int // slot index of property, -1 for the root shape

	mu          sync.Mutex
	transitions map[string]*Shape
}

var nextShapeID atomic.Uint64

func newRootShape(class *Class) *Shape {
	return &Shape{
		id:    nextShapeID.Add(1),
		class: class,
		index: -1,
	}
}

// ID returns the shape's unique identifier.
func (s *Shape) ID() uint64 { return s.id }

// Class returns the class all objects of this shape belong to.
func (s *Shape) Class() *Class { return s.class }

// Parent returns the shape this one was derived from, or nil for a root shape.
func (s *Shape) Parent() *Shape { return s.parent }

// NumSlots returns the number of instance variables described by the shape.
func (s *Shape) NumSlots() int { return s.index + 1 }

// IndexOf returns the slot index of the named property, or -1.
func (s *Shape) IndexOf(name string) int {
	for cur := s; cur != nil && cur.index >= 0; cur = cur.parent {
		if cur.property == name {
			return cur.index
		}
	}
	return -1
}

// Properties returns the property names in slot order.
func (s *Shape) Properties() []string {
	names := make([]string, s.NumSlots())
	for cur := s; cur != nil && cur.index >= 0; cur = cur.parent {
		names[cur.index] = cur.property
	}
	return names
}

// WithProperty returns the child shape that adds name. Transitions are cached,
// so every caller adding the same property to the same shape gets the same
// child.
func (s *Shape) WithProperty(name string) *Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	if child, ok := s.transitions[name]; ok {
		return child
	}
	child := &Shape{
		id:       nextShapeID.Add(1),
		class:    s.class,
		parent:   s,
		property: name,
		index:    s.index + 1,
	}
	if s.transitions == nil {
		s.transitions = make(map[string]*Shape)
	}
	s.transitions[name] = child
	return child
}

// NewObject creates an object of the given class with no instance variables.
func NewObject(class *Class) *Object {
	obj := &Object{}
	obj.shape.Store(class.rootShape)
	return obj
}

// Shape returns the object's current shape.
func (o *Object) Shape() *Shape {
	return o.shape.Load()
}

// Class returns the object's class.
func (o *Object) Class() *Class {
	return o.shape.Load().class
}

// InstVarAt returns the named instance variable, or nil if it was never set.
func (o *Object) InstVarAt(name string) Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := o.shape.Load().IndexOf(name)
	if idx < 0 || idx >= len(o.slots) {
		return nil
	}
	return o.slots[idx]
}

// InstVarAtPut sets the named instance variable, transitioning the object's
// shape if the variable is new.
func (o *Object) InstVarAtPut(name string, v Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	shape := o.shape.Load()
	idx := shape.IndexOf(name)
	if idx < 0 {
		shape = shape.WithProperty(name)
		o.slots = append(o.slots, v)
		o.shape.Store(shape)
		return
	}
	o.slots[idx] = v
}
