// Package larch defines the data model of the larch directory database: DNs,
// messages (entries), schema attributes and their value syntaxes. The storage
// engine in larch/storage operates on these types; the record codec in
// larch/codec serialises them.
package larch

// Val is a single attribute value: an opaque byte string with an explicit
// length. Values are compared and canonicalised through the owning
// attribute's syntax, never interpreted by the engine itself.
type Val []byte

// ElementFlags carries the per-element flag word. For elements inside a
// modify request the low bits select the modification type.
type ElementFlags uint32

const (
	// FlagModAdd adds the supplied values to the attribute.
	FlagModAdd ElementFlags = 1
	// FlagModReplace replaces all values of the attribute.
	FlagModReplace ElementFlags = 2
	// FlagModDelete removes the supplied values, or the whole attribute
	// when no values are supplied.
	FlagModDelete ElementFlags = 3

	// FlagModMask selects the modification type bits.
	FlagModMask ElementFlags = 0xf
)

// ModType returns the modification type bits of the flags.
func (f ElementFlags) ModType() ElementFlags {
	return f & FlagModMask
}

// Element is one attribute of a message: a case-insensitive name, a flags
// word and an ordered list of values. Value order is preserved but carries no
// semantic rank.
type Element struct {
	Name   string
	Flags  ElementFlags
	Values []Val
}

// Message is a directory entry (or a modification of one): a DN plus an
// ordered sequence of elements. Modify rejects duplicate values when it adds
// to an existing attribute or replaces one; Add stores elements and values
// as supplied and does not check names or values for duplicates.
type Message struct {
	DN       *DN
	Elements []Element
}

// NewMessage returns an empty message for the given DN.
func NewMessage(dn *DN) *Message {
	return &Message{DN: dn}
}

// Special DNs reserved for metadata and index records.
const (
	BaseInfoDN    = "@BASEINFO"
	AttributesDN  = "@ATTRIBUTES"
	IndexListDN   = "@INDEXLIST"
	IndexDNPrefix = "@INDEX:"
	OneLevelDNPre = "@IDXONE:"
)

// Well-known attribute names inside the special entries.
const (
	// SequenceNumberAttr holds the change counter in @BASEINFO.
	SequenceNumberAttr = "sequenceNumber"
	// WhenChangedAttr holds the last-modified timestamp in @BASEINFO.
	WhenChangedAttr = "whenChanged"
	// IdxAttr lists member DNs inside an index record.
	IdxAttr = "@IDX"
	// IdxListAttr lists indexed attribute names inside @INDEXLIST.
	IdxListAttr = "@IDXATTR"
	// AttributesAttr lists attribute declaration tuples inside @ATTRIBUTES.
	AttributesAttr = "@ATTR"
)

// WhenChangedFormat is the reference layout of the whenChanged timestamp,
// e.g. "20260806153000.0Z".
const WhenChangedFormat = "20060102150405"
