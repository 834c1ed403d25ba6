// Package vm implements the runtime core of the garnet interpreter.
//
// This package contains:
//   - a minimal object model (classes, shapes, objects, foreign values)
//   - VTable-based method lookup
//   - per-call-site polymorphic inline caches
//   - cyclic assumptions and global variable storage
//   - threads, mutexes, condition variables and blocking queues
package vm
