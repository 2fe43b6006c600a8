package larch

import (
	"bytes"
	"strconv"
	"strings"
)

// Syntax names used by the schema registry and by @ATTRIBUTES declarations.
const (
	SyntaxDN              = "DN"
	SyntaxDirectoryString = "DirectoryString"
	SyntaxObjectClass     = "ObjectClass"
	SyntaxOctetString     = "OctetString"
	SyntaxInteger         = "Integer"
	SyntaxBoolean         = "Boolean"
)

// SyntaxFn transforms a value. The schema is passed for syntaxes whose
// behaviour depends on other attributes (the DN syntax folds RDN values
// through their own attribute syntax).
type SyntaxFn func(s *Schema, v Val) (Val, error)

// CompareFn totally orders two values. Values that are syntactically
// equivalent compare equal; when a value does not parse under the syntax the
// comparison falls back to byte order.
type CompareFn func(s *Schema, a, b Val) int

// Syntax is the per-attribute behaviour record: textual read/write,
// canonicalisation and comparison.
type Syntax struct {
	Name    string
	Read    SyntaxFn
	Write   SyntaxFn
	Canon   SyntaxFn
	Compare CompareFn
}

func copyVal(_ *Schema, v Val) (Val, error) {
	out := make(Val, len(v))
	copy(out, v)
	return out, nil
}

func foldString(_ *Schema, v Val) (Val, error) {
	folded := strings.ToUpper(strings.TrimSpace(string(v)))
	return Val(folded), nil
}

func compareBinary(_ *Schema, a, b Val) int {
	return bytes.Compare(a, b)
}

func compareFold(s *Schema, a, b Val) int {
	ca, _ := foldString(s, a)
	cb, _ := foldString(s, b)
	return bytes.Compare(ca, cb)
}

func canonInteger(_ *Schema, v Val) (Val, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	if err != nil {
		return nil, Errf(ResultInvalidAttributeSyntax, "not an integer: %q", v)
	}
	return Val(strconv.FormatInt(n, 10)), nil
}

func compareInteger(s *Schema, a, b Val) int {
	na, errA := strconv.ParseInt(strings.TrimSpace(string(a)), 10, 64)
	nb, errB := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}

func canonBoolean(_ *Schema, v Val) (Val, error) {
	switch strings.ToUpper(strings.TrimSpace(string(v))) {
	case "TRUE", "1", "YES":
		return Val("TRUE"), nil
	case "FALSE", "0", "NO":
		return Val("FALSE"), nil
	}
	return nil, Errf(ResultInvalidAttributeSyntax, "not a boolean: %q", v)
}

func compareBoolean(s *Schema, a, b Val) int {
	ca, errA := canonBoolean(s, a)
	cb, errB := canonBoolean(s, b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	return bytes.Compare(ca, cb)
}

func canonDNVal(s *Schema, v Val) (Val, error) {
	folded, err := NewDN(string(v)).Casefold(s)
	if err != nil {
		return nil, err
	}
	return Val(folded), nil
}

func compareDN(s *Schema, a, b Val) int {
	ca, errA := canonDNVal(s, a)
	cb, errB := canonDNVal(s, b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	return bytes.Compare(ca, cb)
}

// Built-in syntaxes. These are package constants in spirit: registered
// attributes reference them by pointer and they outlive every database
// handle.
var (
	syntaxOctetString = &Syntax{
		Name:    SyntaxOctetString,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   copyVal,
		Compare: compareBinary,
	}

	syntaxDirectoryString = &Syntax{
		Name:    SyntaxDirectoryString,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   foldString,
		Compare: compareFold,
	}

	// Object classes compare like directory strings.
	syntaxObjectClass = &Syntax{
		Name:    SyntaxObjectClass,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   foldString,
		Compare: compareFold,
	}

	syntaxInteger = &Syntax{
		Name:    SyntaxInteger,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   canonInteger,
		Compare: compareInteger,
	}

	syntaxBoolean = &Syntax{
		Name:    SyntaxBoolean,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   canonBoolean,
		Compare: compareBoolean,
	}

	syntaxDN = &Syntax{
		Name:    SyntaxDN,
		Read:    copyVal,
		Write:   copyVal,
		Canon:   canonDNVal,
		Compare: compareDN,
	}
)

var standardSyntaxes = map[string]*Syntax{
	strings.ToLower(SyntaxDN):              syntaxDN,
	strings.ToLower(SyntaxDirectoryString): syntaxDirectoryString,
	strings.ToLower(SyntaxObjectClass):     syntaxObjectClass,
	strings.ToLower(SyntaxOctetString):     syntaxOctetString,
	strings.ToLower(SyntaxInteger):         syntaxInteger,
	strings.ToLower(SyntaxBoolean):         syntaxBoolean,
}

// StandardSyntax returns the built-in syntax with the given name, or nil if
// no such syntax exists.
func StandardSyntax(name string) *Syntax {
	return standardSyntaxes[strings.ToLower(name)]
}

// DefaultSyntax is the octet-string syntax used when an attribute has no
// registered descriptor.
func DefaultSyntax() *Syntax {
	return syntaxOctetString
}
