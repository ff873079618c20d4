// Package heap implements Malang's heap object layout and tracing garbage
// collector. Every heap object carries a fixed header (type, object tag,
// GC color, GC link) ahead of its body, and the collector walks the
// intrusive gc_link chain rather than a side table of live pointers.
package heap

import (
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// ObjectTag distinguishes the four body shapes a heap object can have.
// Plain objects carry a fixed field-indexed slot array sized by their
// Type_Info; Array, Buffer and String carry a variable-length payload
// whose element count is tracked separately from the type's field list.
type ObjectTag uint8

const (
	TagPlain  ObjectTag = iota // fixed fields, indexed per Type_Info
	TagArray                   // homogeneous Value elements
	TagBuffer                  // raw byte payload (binary data, no Value elements)
	TagString                  // UTF-8 byte payload, immutable after construction
)

// Color is the tricolor mark-sweep state of an object.
type Color uint8

const (
	White Color = iota // not yet visited this cycle; candidate for collection
	Gray               // visited, children not yet scanned
	Black              // visited, children scanned; known live
	Free               // reclaimed by sweep; still on the allocation list, not a live object
)

// Object is the common header every heap allocation carries, plus its
// body. gc_link threads every allocated object (live or free) into one
// intrusive singly-linked list, which is what the collector walks during
// sweep instead of consulting a side set of known objects.
type Object struct {
	Type  types.ID
	Tag   ObjectTag
	Color Color
	link  *Object // gc_link: next object in the heap's allocation list

	// Exactly one of the following is populated, selected by Tag.
	slots []Value // TagPlain: one entry per Type_Info field, in field order
	elems []Value // TagArray: element storage
	bytes []byte  // TagBuffer / TagString: raw payload
}

// Value is heap's own alias for the tagged runtime value, re-exported so
// callers need not import value directly for simple header plumbing.
// Kept as a type alias (not a wrapper) so heap.Value and value.Value are
// interchangeable at the call site.
type Value = value.Value

// NumSlots returns the number of Value-sized slots in a Plain or Array
// object's body. Buffers and Strings have no Value slots — GetSlot/SetSlot
// are not valid for them.
func (o *Object) NumSlots() int {
	switch o.Tag {
	case TagPlain:
		return len(o.slots)
	case TagArray:
		return len(o.elems)
	default:
		return 0
	}
}

// GetSlot returns the value at index for a Plain or Array object.
// Panics on an out-of-range index or a Buffer/String receiver: both are
// codegen-time invariants, never a condition the VM recovers from.
func (o *Object) GetSlot(index int) Value {
	switch o.Tag {
	case TagPlain:
		if index < 0 || index >= len(o.slots) {
			panic("heap: Object.GetSlot: index out of range")
		}
		return o.slots[index]
	case TagArray:
		if index < 0 || index >= len(o.elems) {
			panic("heap: Object.GetSlot: index out of range")
		}
		return o.elems[index]
	default:
		panic("heap: Object.GetSlot: not a slotted object")
	}
}

// SetSlot stores the value at index for a Plain or Array object.
func (o *Object) SetSlot(index int, v Value) {
	switch o.Tag {
	case TagPlain:
		if index < 0 || index >= len(o.slots) {
			panic("heap: Object.SetSlot: index out of range")
		}
		o.slots[index] = v
	case TagArray:
		if index < 0 || index >= len(o.elems) {
			panic("heap: Object.SetSlot: index out of range")
		}
		o.elems[index] = v
	default:
		panic("heap: Object.SetSlot: not a slotted object")
	}
}

// Bytes returns the raw payload of a Buffer or String object. Panics for
// Plain/Array receivers.
func (o *Object) Bytes() []byte {
	if o.Tag != TagBuffer && o.Tag != TagString {
		panic("heap: Object.Bytes: not a buffer or string")
	}
	return o.bytes
}

// SetBytes replaces the raw payload of a Buffer or String object.
func (o *Object) SetBytes(b []byte) {
	if o.Tag != TagBuffer && o.Tag != TagString {
		panic("heap: Object.SetBytes: not a buffer or string")
	}
	o.bytes = b
}

// String returns a Buffer or String object's payload interpreted as text.
func (o *Object) String() string {
	return string(o.Bytes())
}
