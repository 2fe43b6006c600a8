package storage

import (
	"strings"

	"github.com/larchdb/larch/larch"
)

// keyPrefix precedes every record key in the store.
const keyPrefix = "DN="

// attrFold folds an attribute name for case-insensitive comparison.
func attrFold(s string) string {
	return strings.ToLower(s)
}

// EntryKey computes the store key for a DN: the "DN=" prefix, the casefolded
// DN and a terminating NUL. Special DNs skip casefolding and are emitted
// verbatim.
func EntryKey(s *larch.Schema, dn *larch.DN) ([]byte, error) {
	folded, err := dn.Casefold(s)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 0, len(keyPrefix)+len(folded)+1)
	key = append(key, keyPrefix...)
	key = append(key, folded...)
	key = append(key, 0)
	return key, nil
}

// IndexDN builds the DN of the equality-index bucket for an
// (attribute, canonical value) pair. The attribute name is lowercased so
// that case variants of the name share a bucket.
func IndexDN(attr string, canonValue larch.Val) *larch.DN {
	return larch.NewDN(larch.IndexDNPrefix + strings.ToLower(attr) + ":" + string(canonValue))
}

// OneLevelDN builds the DN of the one-level index bucket for a parent DN.
// The parent is stored in casefolded form so that case variants of the same
// parent share a bucket.
func OneLevelDN(s *larch.Schema, parent *larch.DN) (*larch.DN, error) {
	folded, err := parent.Casefold(s)
	if err != nil {
		return nil, err
	}
	return larch.NewDN(larch.OneLevelDNPre + folded), nil
}
