package larch

import (
	"strconv"
	"strings"
)

// FindElement returns the index of the first element with the given name
// (case-insensitive), or -1.
func (m *Message) FindElement(name string) int {
	for i := range m.Elements {
		if strings.EqualFold(m.Elements[i].Name, name) {
			return i
		}
	}
	return -1
}

// Element returns the named element, or nil.
func (m *Message) Element(name string) *Element {
	i := m.FindElement(name)
	if i < 0 {
		return nil
	}
	return &m.Elements[i]
}

// AddElement appends a copy of el to the message.
func (m *Message) AddElement(el Element) {
	values := make([]Val, len(el.Values))
	for i, v := range el.Values {
		values[i] = append(Val(nil), v...)
	}
	m.Elements = append(m.Elements, Element{Name: el.Name, Flags: el.Flags, Values: values})
}

// RemoveElement deletes the element at index i.
func (m *Message) RemoveElement(i int) {
	m.Elements = append(m.Elements[:i], m.Elements[i+1:]...)
}

// FindVal returns the index of the first value of el that compares equal to
// v under the attribute's syntax, or -1.
func (el *Element) FindVal(s *Schema, v Val) int {
	attr := s.AttributeByName(el.Name)
	for i, existing := range el.Values {
		if attr.Syntax.Compare(s, existing, v) == 0 {
			return i
		}
	}
	return -1
}

// RemoveValue deletes the value at index i.
func (el *Element) RemoveValue(i int) {
	el.Values = append(el.Values[:i], el.Values[i+1:]...)
}

// String returns the first value of the named attribute as a string, or def.
func (m *Message) String(name, def string) string {
	el := m.Element(name)
	if el == nil || len(el.Values) == 0 {
		return def
	}
	return string(el.Values[0])
}

// Uint64 returns the first value of the named attribute parsed as an
// unsigned decimal, or def.
func (m *Message) Uint64(name string, def uint64) uint64 {
	el := m.Element(name)
	if el == nil || len(el.Values) == 0 {
		return def
	}
	n, err := strconv.ParseUint(string(el.Values[0]), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// SetString replaces the named attribute with a single string value.
func (m *Message) SetString(name, value string) {
	if i := m.FindElement(name); i >= 0 {
		m.Elements[i].Values = []Val{Val(value)}
		return
	}
	m.Elements = append(m.Elements, Element{Name: name, Values: []Val{Val(value)}})
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	out := &Message{DN: m.DN}
	for _, el := range m.Elements {
		out.AddElement(el)
	}
	return out
}
