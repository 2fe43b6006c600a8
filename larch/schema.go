package larch

import (
	"sort"
	"strings"
)

// AttrFlags qualify a registered schema attribute.
type AttrFlags uint32

const (
	// AttrFixed marks attributes that may not be overwritten or removed.
	AttrFixed AttrFlags = 1 << iota
	// AttrAllocated marks attributes whose name was loaded from the store
	// rather than registered from compile-time constants. Allocated entries
	// are dropped wholesale when the metadata cache reloads.
	AttrAllocated
)

// Attribute is a schema descriptor: name, flags and value syntax.
type Attribute struct {
	Name   string
	Flags  AttrFlags
	Syntax *Syntax
}

// Schema is the attribute registry. Attributes are kept sorted by
// case-insensitive name; a leading wildcard entry (name "*"), if present,
// serves as the default descriptor and is excluded from the binary search.
type Schema struct {
	attributes []Attribute
}

// NewSchema returns a registry pre-loaded with the well-known attributes.
func NewSchema() *Schema {
	s := &Schema{}
	s.AddWellKnown()
	return s
}

// AddWellKnown registers the well-known attribute set. Existing
// registrations for these names are left alone.
func (s *Schema) AddWellKnown() {
	wellknown := []struct {
		attr   string
		syntax string
	}{
		{"dn", SyntaxDN},
		{"distinguishedName", SyntaxDN},
		{"cn", SyntaxDirectoryString},
		{"dc", SyntaxDirectoryString},
		{"ou", SyntaxDirectoryString},
		{"objectClass", SyntaxObjectClass},
	}
	for _, w := range wellknown {
		if s.has(w.attr) {
			continue
		}
		s.AddAttribute(w.attr, 0, StandardSyntax(w.syntax))
	}
}

// has reports whether a descriptor is registered under name.
func (s *Schema) has(name string) bool {
	_, lo := s.searchRange()
	i := sort.Search(len(s.attributes)-lo, func(i int) bool {
		return attrNameCmp(s.attributes[lo+i].Name, name) >= 0
	}) + lo
	return i < len(s.attributes) && attrNameCmp(s.attributes[i].Name, name) == 0
}

func attrNameCmp(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// searchRange returns the default descriptor (wildcard slot or the built-in
// octet-string default) and the slice bounds to binary-search.
func (s *Schema) searchRange() (def *Attribute, lo int) {
	if len(s.attributes) > 0 && s.attributes[0].Name == "*" {
		return &s.attributes[0], 1
	}
	return &Attribute{Name: "", Syntax: DefaultSyntax()}, 0
}

// AddAttribute registers a descriptor. An existing FIXED entry silently
// wins; any other existing entry is replaced in place. New names are
// inserted in sort position.
func (s *Schema) AddAttribute(name string, flags AttrFlags, syntax *Syntax) error {
	if syntax == nil {
		return Errf(ResultOperationsError, "attribute %q registered with no syntax", name)
	}
	_, lo := s.searchRange()
	i := sort.Search(len(s.attributes)-lo, func(i int) bool {
		return attrNameCmp(s.attributes[lo+i].Name, name) >= 0
	}) + lo
	if i < len(s.attributes) && attrNameCmp(s.attributes[i].Name, name) == 0 {
		if s.attributes[i].Flags&AttrFixed != 0 {
			return nil
		}
		s.attributes[i] = Attribute{Name: name, Flags: flags, Syntax: syntax}
		return nil
	}
	s.attributes = append(s.attributes, Attribute{})
	copy(s.attributes[i+1:], s.attributes[i:])
	s.attributes[i] = Attribute{Name: name, Flags: flags, Syntax: syntax}
	return nil
}

// AddAttributeByName registers a descriptor using a standard syntax name.
func (s *Schema) AddAttributeByName(name string, flags AttrFlags, syntaxName string) error {
	syntax := StandardSyntax(syntaxName)
	if syntax == nil {
		return Errf(ResultInvalidAttributeSyntax, "unknown syntax %q for attribute %q", syntaxName, name)
	}
	return s.AddAttribute(name, flags, syntax)
}

// AttributeByName returns the descriptor for name, falling back to the
// wildcard slot or the octet-string default when none is registered.
func (s *Schema) AttributeByName(name string) *Attribute {
	def, lo := s.searchRange()
	i := sort.Search(len(s.attributes)-lo, func(i int) bool {
		return attrNameCmp(s.attributes[lo+i].Name, name) >= 0
	}) + lo
	if i < len(s.attributes) && attrNameCmp(s.attributes[i].Name, name) == 0 {
		return &s.attributes[i]
	}
	return def
}

// RemoveAttribute deletes a registered descriptor. FIXED entries are never
// removed; unknown names are ignored.
func (s *Schema) RemoveAttribute(name string) {
	_, lo := s.searchRange()
	i := sort.Search(len(s.attributes)-lo, func(i int) bool {
		return attrNameCmp(s.attributes[lo+i].Name, name) >= 0
	}) + lo
	if i >= len(s.attributes) || attrNameCmp(s.attributes[i].Name, name) != 0 {
		return
	}
	if s.attributes[i].Flags&AttrFixed != 0 {
		return
	}
	s.attributes = append(s.attributes[:i], s.attributes[i+1:]...)
}

// RemoveAllocated drops every entry loaded from @ATTRIBUTES, keeping the
// compile-time registrations. Used when the metadata cache reloads.
func (s *Schema) RemoveAllocated() {
	kept := s.attributes[:0]
	for _, a := range s.attributes {
		if a.Flags&AttrAllocated == 0 {
			kept = append(kept, a)
		}
	}
	s.attributes = kept
}

// Attributes returns the registered descriptors in sorted order.
func (s *Schema) Attributes() []Attribute {
	return s.attributes
}
