package vm

import (
	"sort"
	"sync"
)

// VTable holds the method dispatch table for a class.
//
// Methods are keyed by name. Inheritance is handled by walking the parent
// chain when a method is not found locally.
type VTable struct {
	class  *Class
	parent *VTable

	mu      sync.RWMutex
	methods map[string]Method
}

// NewVTable creates a new vtable for a class.
func NewVTable(class *Class, parent *VTable) *VTable {
	return &VTable{
		class:   class,
		parent:  parent,
		methods: make(map[string]Method),
	}
}

// Lookup finds a method by name, walking the inheritance chain.
// Returns nil if no method is found.
func (vt *VTable) Lookup(name string) Method {
	for v := vt; v != nil; v = v.parent {
		if m := v.LookupLocal(name); m != nil {
			return m
		}
	}
	return nil
}

// LookupLocal finds a method in this vtable only.
func (vt *VTable) LookupLocal(name string) Method {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return vt.methods[name]
}

// AddMethod adds or replaces a method.
func (vt *VTable) AddMethod(method Method) {
	vt.mu.Lock()
	vt.methods[method.Name()] = method
	vt.mu.Unlock()
}

// RemoveMethod removes a method. It reports whether one was present.
func (vt *VTable) RemoveMethod(name string) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if _, ok := vt.methods[name]; !ok {
		return false
	}
	delete(vt.methods, name)
	return true
}

// HasMethod returns true if this vtable (not parents) has a method for name.
func (vt *VTable) HasMethod(name string) bool {
	return vt.LookupLocal(name) != nil
}

// Parent returns the parent vtable.
func (vt *VTable) Parent() *VTable {
	return vt.parent
}

// Class returns the class this vtable belongs to.
func (vt *VTable) Class() *Class {
	return vt.class
}

// MethodNames returns the sorted names of the methods defined locally.
func (vt *VTable) MethodNames() []string {
	vt.mu.RLock()
	names := make([]string, 0, len(vt.methods))
	for name := range vt.methods {
		names = append(names, name)
	}
	vt.mu.RUnlock()
	sort.Strings(names)
	return names
}
