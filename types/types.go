// Package types implements Malang's runtime type descriptors: the Type
// Map's Type_Info records, keyed by a stable numeric ID rather than a
// pointer so that parent links and method tables never form a Go-level
// reference cycle (see DESIGN.md's note on the TypeStore).
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a Type_Info within a Store. It is stable for the lifetime
// of the store and is what bytecode operands (Alloc_Object, Alloc_Array)
// and field/method tables reference instead of a pointer.
type ID int32

// None is the absence of a type reference (e.g. a root class's Parent).
const None ID = -1

// Field is one entry in a type's ordered field list. Index is the field's
// stable slot index, assigned at declaration time and never renumbered.
type Field struct {
	Name  string
	Type  ID
	Index int
}

// MethodKey identifies a method by name and parameter-type signature.
// Exact match only; Malang performs no implicit conversion at dispatch.
type MethodKey struct {
	Name   string
	Params string // ID list, comma-joined, used as a map key
}

func signature(paramTypes []ID) string {
	s := ""
	for i, p := range paramTypes {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", p)
	}
	return s
}

// BoundFunctionID is a types-package-local alias to avoid importing the
// bound package (which itself has no need to depend on types beyond ID).
type BoundFunctionID int32

// Info is an immutable-after-finalization Type_Info record.
type Info struct {
	ID     ID
	Name   string
	Parent ID // None if this is a root type

	fields     []Field
	fieldIndex map[string]int
	methods    map[MethodKey]BoundFunctionID // includes inherited entries after Link
	ownMethods map[MethodKey]BoundFunctionID

	vtable     []BoundFunctionID   // slot -> currently-overriding bound function, after Link
	vtableSlot map[MethodKey]int   // signature -> slot, shared across an override chain

	IsPrimitive bool
	IsFunction  bool
	IsArrayOf   bool
	ElementType ID

	finalized bool
}

// Fields returns the type's own (non-inherited) ordered field list.
func (t *Info) Fields() []Field { return t.fields }

// FieldIndex returns the slot index of the named field, or (-1, false) if
// the type (including its ancestors, once linked) has no such field.
func (t *Info) FieldIndex(name string) (int, bool) {
	idx, ok := t.fieldIndex[name]
	if !ok {
		return -1, false
	}
	return idx, true
}

// Method looks up a bound function by exact (name, param types) signature,
// including entries inherited from a linked parent.
func (t *Info) Method(name string, paramTypes []ID) (BoundFunctionID, bool) {
	id, ok := t.methods[MethodKey{Name: name, Params: signature(paramTypes)}]
	return id, ok
}

// AddMethod registers a method declared directly on this type. Must be
// called before Link; panics on a duplicate (name, signature) pair, since
// that is a codegen-time "ambiguous method" error, never a runtime one.
func (t *Info) AddMethod(name string, paramTypes []ID, fn BoundFunctionID) {
	if t.finalized {
		panic("types: AddMethod after Link")
	}
	key := MethodKey{Name: name, Params: signature(paramTypes)}
	if _, exists := t.ownMethods[key]; exists {
		panic(fmt.Sprintf("types: duplicate method %s/%s on %s", name, key.Params, t.Name))
	}
	t.ownMethods[key] = fn
}

// VTable returns the type's virtual dispatch table, indexed by slot. An
// override reuses its base declaration's slot, so Call_Virtual_Method
// slot resolves the correct override for any runtime receiver type
// descending from the slot's declaring type. Valid only after Link.
func (t *Info) VTable() []BoundFunctionID { return t.vtable }

// VTableSlot returns the vtable slot assigned to a (name, param types)
// signature, or (-1, false) if this type has no such method. Codegen
// calls this once, against the call site's static receiver type, to
// resolve an IR_Call_Virtual_Method's slot operand (§4.6 step 4).
func (t *Info) VTableSlot(name string, paramTypes []ID) (int, bool) {
	slot, ok := t.vtableSlot[MethodKey{Name: name, Params: signature(paramTypes)}]
	if !ok {
		return -1, false
	}
	return slot, true
}

// MethodEntry is one type-declared (non-inherited) method, with its
// parameter types recovered from the interned signature key — used by the
// image writer to serialize a type's own method table (§6 item 4) without
// needing a parallel record of each AddMethod call.
type MethodEntry struct {
	Name       string
	ParamTypes []ID
	Fn         BoundFunctionID
}

func parseParams(s string) []ID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]ID, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			panic(fmt.Sprintf("types: malformed signature key %q", s))
		}
		ids[i] = ID(n)
	}
	return ids
}

// OwnMethods returns every method declared directly on this type (not
// inherited), for serialization. Order is unspecified; callers that need
// a deterministic image layout should sort the result themselves.
func (t *Info) OwnMethods() []MethodEntry {
	entries := make([]MethodEntry, 0, len(t.ownMethods))
	for k, fn := range t.ownMethods {
		entries = append(entries, MethodEntry{Name: k.Name, ParamTypes: parseParams(k.Params), Fn: fn})
	}
	return entries
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store owns every Type_Info for a program, keyed by stable ID. Inter-type
// edges (Parent, ElementType) are IDs, resolved through the Store, never
// Go pointers — this is what lets the GC's field-iteration contract stay
// purely data-driven (walk t.Fields(), not a type graph).
type Store struct {
	infos  []*Info
	byName map[string]ID
}

// NewStore creates an empty type store.
func NewStore() *Store {
	return &Store{byName: make(map[string]ID)}
}

// Declare creates a new, not-yet-finalized type with the given name and
// parent (None for a root type). The name must be unique within the store.
func (s *Store) Declare(name string, parent ID) *Info {
	if _, exists := s.byName[name]; exists {
		panic(fmt.Sprintf("types: duplicate type name %q", name))
	}
	id := ID(len(s.infos))
	info := &Info{
		ID:         id,
		Name:       name,
		Parent:     parent,
		fieldIndex: make(map[string]int),
		methods:    make(map[MethodKey]BoundFunctionID),
		ownMethods: make(map[MethodKey]BoundFunctionID),
		vtableSlot: make(map[MethodKey]int),
	}
	s.infos = append(s.infos, info)
	s.byName[name] = id
	return info
}

// AddField appends a field to a not-yet-finalized type, assigning it the
// next stable slot index (continuing from the parent's field count once
// linked — see Link).
func (s *Store) AddField(id ID, name string, fieldType ID) {
	info := s.infos[id]
	if info.finalized {
		panic("types: AddField after Link")
	}
	if _, exists := info.fieldIndex[name]; exists {
		panic(fmt.Sprintf("types: duplicate field %q on %s", name, info.Name))
	}
	idx := len(info.fields)
	info.fields = append(info.fields, Field{Name: name, Type: fieldType, Index: idx})
	info.fieldIndex[name] = idx
}

// Get returns the Info for id. Panics on an invalid ID: an out-of-range
// type ID reaching the core is a codegen bug, not a runtime condition.
func (s *Store) Get(id ID) *Info {
	if id < 0 || int(id) >= len(s.infos) {
		panic(fmt.Sprintf("types: invalid type id %d", id))
	}
	return s.infos[id]
}

// Lookup resolves a type by name.
func (s *Store) Lookup(name string) (ID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// Len returns the number of declared types, for walking the store by ID
// (e.g. the image writer's type table).
func (s *Store) Len() int { return len(s.infos) }

// NumFields returns the total slot count for id, including inherited
// fields. Valid only after Link.
func (s *Store) NumFields(id ID) int {
	info := s.Get(id)
	n := len(info.fields)
	if info.Parent != None {
		n += s.NumFields(info.Parent)
	}
	return n
}

// Link finalizes every declared type: it renumbers each type's own fields
// to continue after its parent's field count, and folds each parent's
// method table into its children (so Type_Info.methods "includes inherited
// entries after linking", per the field-layout contract). Must be called
// exactly once, after every Declare/AddField/AddMethod call and before any
// allocation or dispatch.
func (s *Store) Link() error {
	for _, info := range s.infos {
		if info.finalized {
			continue
		}
		if err := s.linkOne(info, make(map[ID]bool)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) linkOne(info *Info, visiting map[ID]bool) error {
	if info.finalized {
		return nil
	}
	if visiting[info.ID] {
		return fmt.Errorf("types: cycle in parent chain at %s", info.Name)
	}
	visiting[info.ID] = true

	base := 0
	if info.Parent != None {
		parent := s.Get(info.Parent)
		if err := s.linkOne(parent, visiting); err != nil {
			return err
		}
		base = len(parent.fieldIndex)
		for k, v := range parent.methods {
			info.methods[k] = v
		}
		for name, idx := range parent.fieldIndex {
			info.fieldIndex[name] = idx
		}
		info.vtable = append(info.vtable, parent.vtable...)
		for k, slot := range parent.vtableSlot {
			info.vtableSlot[k] = slot
		}
	}
	// Re-derive own field indices at the correct base (AddField assigned
	// them relative to this type alone, starting at zero).
	for i := range info.fields {
		info.fields[i].Index = base + i
		info.fieldIndex[info.fields[i].Name] = base + i
	}
	for k, v := range info.ownMethods {
		info.methods[k] = v
		if slot, ok := info.vtableSlot[k]; ok {
			// Override: reuse the inherited slot so a virtual call
			// resolved against an ancestor type still lands here for
			// any receiver of this subtype.
			info.vtable[slot] = v
		} else {
			slot := len(info.vtable)
			info.vtable = append(info.vtable, v)
			info.vtableSlot[k] = slot
		}
	}
	info.finalized = true
	return nil
}

// IsSubtype reports whether id is other or a nominal descendant of other.
func (s *Store) IsSubtype(id, other ID) bool {
	for cur := id; cur != None; cur = s.Get(cur).Parent {
		if cur == other {
			return true
		}
	}
	return false
}
