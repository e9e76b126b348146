// Package ports implements the dataflow kernel's Ports subsystem: typed
// Element-owned InputPort/OutputPort endpoints, directional Connections
// between them, staging, emission, and per-connection serialized delivery
// (spec.md §3-5).
package ports

import "github.com/google/uuid"

// Element is a named node in the dataflow graph that owns exactly one Ports
// directory (spec.md §3). Name is user- or auto-assigned; ID is a stable
// UUID generated once at construction.
type Element struct {
	ID    string
	Name  string
	Ports *Directory
}

// NewElement constructs an Element with a fresh UUID and an empty Ports
// directory.
func NewElement(name string) *Element {
	return &Element{
		ID:    uuid.NewString(),
		Name:  name,
		Ports: NewDirectory(),
	}
}
