package heap

import (
	"unsafe"

	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// RootSource supplies the GC's root set: every Value reachable directly
// from VM state outside the heap itself (data stack, call frames, locals,
// globals, constant pool). Run walks exactly these roots before
// tracing object graphs.
type RootSource interface {
	GCRoots() []value.Value
}

// defaultMinThreshold is the smallest byte count the trigger policy will
// ever shrink to, preventing a collection storm right after a big sweep
// frees almost everything.
const defaultMinThreshold = 64 * 1024

// defaultGrowthFactor scales the threshold upward after a collection that
// didn't free much, so a heap that's genuinely growing doesn't collect on
// every single allocation.
const defaultGrowthFactor = 2.0

// Heap owns every object ever allocated through it, threaded together via
// the intrusive Object.link chain, plus the bump-style byte accounting
// that drives automatic collection.
type Heap struct {
	types *types.Store

	all   *Object // head of the full allocation list (all colors, including Free)
	count int      // number of live (non-Free) objects, for diagnostics

	bytesAllocated int64
	threshold      int64
	minThreshold   int64
	growthFactor   float64
	autoEnabled    bool

	collections int // number of completed Run calls, for Snapshot/diagnostics
	lastFreed   int // objects freed by the most recent Run
}

// New creates an empty heap bound to a type store (field counts for Plain
// objects are read from the store, never tracked independently).
func New(ts *types.Store) *Heap {
	return &Heap{
		types:        ts,
		threshold:    defaultMinThreshold,
		minThreshold: defaultMinThreshold,
		growthFactor: defaultGrowthFactor,
		autoEnabled:  true,
	}
}

// SetThresholds overrides the trigger policy, as loaded from a project
// manifest's GC tuning section.
func (h *Heap) SetThresholds(initial, min int64, growth float64) {
	h.threshold = initial
	h.minThreshold = min
	h.growthFactor = growth
}

// Pause disables automatic collection; allocations still succeed, growing
// the heap unconditionally, until Resume or an explicit Run.
func (h *Heap) Pause() { h.autoEnabled = false }

// Resume re-enables automatic collection.
func (h *Heap) Resume() { h.autoEnabled = true }

// Count returns the number of live objects.
func (h *Heap) Count() int { return h.count }

// Collections returns the number of completed collection cycles.
func (h *Heap) Collections() int { return h.collections }

func (h *Heap) link(obj *Object) {
	obj.link = h.all
	h.all = obj
	h.count++
}

func (h *Heap) maybeCollect(roots RootSource, size int64) {
	h.bytesAllocated += size
	if h.autoEnabled && h.bytesAllocated >= h.threshold {
		h.Run(roots)
	}
}

// AllocPlain allocates a fixed-shape object for the given type, with
// every field slot initialized to Null. The slot count is read from the
// type store, so callers never pass a size.
func (h *Heap) AllocPlain(roots RootSource, typ types.ID) *Object {
	n := h.types.NumFields(typ)
	h.maybeCollect(roots, int64(n)*8+16)
	obj := &Object{Type: typ, Tag: TagPlain, Color: White, slots: make([]value.Value, n)}
	for i := range obj.slots {
		obj.slots[i] = value.Null
	}
	h.link(obj)
	return obj
}

// AllocArray allocates an array of n elements, initialized to Null.
func (h *Heap) AllocArray(roots RootSource, typ types.ID, n int) *Object {
	h.maybeCollect(roots, int64(n)*8+16)
	obj := &Object{Type: typ, Tag: TagArray, Color: White, elems: make([]value.Value, n)}
	for i := range obj.elems {
		obj.elems[i] = value.Null
	}
	h.link(obj)
	return obj
}

// AllocBuffer allocates a raw byte buffer of n bytes, zero-initialized.
func (h *Heap) AllocBuffer(roots RootSource, typ types.ID, n int) *Object {
	h.maybeCollect(roots, int64(n)+16)
	obj := &Object{Type: typ, Tag: TagBuffer, Color: White, bytes: make([]byte, n)}
	h.link(obj)
	return obj
}

// AllocString allocates an immutable string body from the given bytes.
// The slice is copied; mutating the caller's slice afterward does not
// affect the object.
func (h *Heap) AllocString(roots RootSource, typ types.ID, s []byte) *Object {
	h.maybeCollect(roots, int64(len(s))+16)
	body := make([]byte, len(s))
	copy(body, s)
	obj := &Object{Type: typ, Tag: TagString, Color: White, bytes: body}
	h.link(obj)
	return obj
}

// ---------------------------------------------------------------------------
// Tricolor mark-and-sweep
// ---------------------------------------------------------------------------

// Run performs one full collection cycle unconditionally, regardless of
// the trigger policy or Pause state. Returns the number of objects freed.
func (h *Heap) Run(roots RootSource) int {
	h.mark(roots)
	freed := h.sweep()
	h.lastFreed = freed
	h.collections++
	h.bytesAllocated = 0
	if freed < h.count/4 {
		h.threshold = int64(float64(h.threshold) * h.growthFactor)
	} else if h.threshold > h.minThreshold {
		h.threshold = h.minThreshold
	}
	return freed
}

// LastFreed returns the number of objects freed by the most recent Run.
func (h *Heap) LastFreed() int { return h.lastFreed }

// mark colors every object reachable from roots, graying roots first and
// then draining the gray set until only black (scanned, live) and white
// (unreached) objects remain. Objects left Black by the previous cycle's
// sweep (§8: live objects are Black, not White, once a collection
// completes) are repainted White here, at the top of the mark phase,
// before the new root walk begins.
func (h *Heap) mark(roots RootSource) {
	for obj := h.all; obj != nil; obj = obj.link {
		if obj.Color == Black {
			obj.Color = White
		}
	}

	var gray []*Object
	markValue := func(v value.Value) {
		if !v.IsObject() {
			return
		}
		obj := FromValue(v)
		if obj == nil || obj.Color != White {
			return
		}
		obj.Color = Gray
		gray = append(gray, obj)
	}

	for _, v := range roots.GCRoots() {
		markValue(v)
	}

	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		if obj.Color == Black {
			continue
		}
		for i := 0; i < obj.NumSlots(); i++ {
			markValue(obj.GetSlot(i))
		}
		obj.Color = Black
	}
}

// sweep walks the full allocation list, reclaiming every object left
// White (unreached). Surviving Black objects are left Black: per §8,
// every object on the all-objects list is Black or Free once a
// collection completes, never White; the next mark's first pass is
// what repaints them White before re-marking.
func (h *Heap) sweep() int {
	freed := 0
	for obj := h.all; obj != nil; obj = obj.link {
		if obj.Color == White {
			obj.Color = Free
			obj.slots = nil
			obj.elems = nil
			obj.bytes = nil
			h.count--
			freed++
		}
	}
	return freed
}

// FromValue extracts the *Object a heap-object Value refers to, or nil
// if v is not an object reference.
func FromValue(v value.Value) *Object {
	if !v.IsObject() {
		return nil
	}
	return (*Object)(v.AsPointer())
}

// ToValue converts an *Object into its heap-object Value representation.
func ToValue(obj *Object) value.Value {
	return value.FromObjectPointer(unsafe.Pointer(obj))
}
