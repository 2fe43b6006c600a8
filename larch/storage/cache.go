package storage

import (
	"strconv"
	"strings"

	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/codec"
)

// loadCache refreshes the in-memory view of @ATTRIBUTES, @INDEXLIST and
// @BASEINFO. The cached view is reused while the stored sequence number is
// unchanged since the last load; a failure to load is fatal to the current
// operation.
func (b *Backend) loadCache() error {
	baseinfo, err := b.fetchByDN(larch.NewDN(larch.BaseInfoDN))
	switch {
	case err == nil:
	case larch.CodeOf(err) == larch.ResultNoSuchObject:
		baseinfo, err = b.bootstrapBaseInfo()
		if err != nil {
			return err
		}
	default:
		return larch.Errf(larch.ResultOperationsError, "cannot load %s: %v", larch.BaseInfoDN, err)
	}

	seq := baseinfo.Uint64(larch.SequenceNumberAttr, 0)
	if b.cacheValid && seq == b.cachedSeq {
		return nil
	}

	b.schema.RemoveAllocated()
	b.schema.AddWellKnown()
	if err := b.loadAttributes(); err != nil {
		return err
	}
	if err := b.loadIndexList(); err != nil {
		return err
	}

	b.cachedSeq = seq
	b.cacheValid = true
	return nil
}

// bootstrapBaseInfo creates @BASEINFO on a fresh store. A read-only handle
// on a store that was never written sees sequence zero instead.
func (b *Backend) bootstrapBaseInfo() (*larch.Message, error) {
	msg := larch.NewMessage(larch.NewDN(larch.BaseInfoDN))
	msg.SetString(larch.SequenceNumberAttr, "0")
	msg.SetString(larch.WhenChangedAttr, timestampNow())
	if b.kv.readOnly {
		return msg, nil
	}
	key, err := EntryKey(b.schema, msg.DN)
	if err != nil {
		return nil, err
	}
	data, err := codec.Pack(msg)
	if err != nil {
		return nil, larch.Errf(larch.ResultOperationsError, "cannot pack %s: %v", larch.BaseInfoDN, err)
	}
	if err := b.kv.Store(key, data, StoreInsert); err != nil {
		return nil, larch.Errf(larch.ResultOperationsError, "cannot initialise %s: %v", larch.BaseInfoDN, err)
	}
	return msg, nil
}

// loadAttributes extends the schema registry from @ATTRIBUTES. Loaded
// entries are marked allocated so the next reload can drop them.
func (b *Backend) loadAttributes() error {
	msg, err := b.fetchByDN(larch.NewDN(larch.AttributesDN))
	if err != nil {
		if larch.CodeOf(err) == larch.ResultNoSuchObject {
			return nil
		}
		return larch.Errf(larch.ResultOperationsError, "cannot load %s: %v", larch.AttributesDN, err)
	}
	for _, el := range msg.Elements {
		for _, v := range el.Values {
			name, flags, syntax, err := parseAttributeTuple(v)
			if err != nil {
				return larch.Errf(larch.ResultOperationsError, "bad declaration in %s: %v", larch.AttributesDN, err)
			}
			if err := b.schema.AddAttribute(name, flags|larch.AttrAllocated, syntax); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadIndexList rebuilds the set of equality-indexed attribute names from
// @INDEXLIST.
func (b *Backend) loadIndexList() error {
	b.indexList = make(map[string]bool)
	msg, err := b.fetchByDN(larch.NewDN(larch.IndexListDN))
	if err != nil {
		if larch.CodeOf(err) == larch.ResultNoSuchObject {
			return nil
		}
		return larch.Errf(larch.ResultOperationsError, "cannot load %s: %v", larch.IndexListDN, err)
	}
	for _, el := range msg.Elements {
		if !strings.EqualFold(el.Name, larch.IdxListAttr) {
			continue
		}
		for _, v := range el.Values {
			b.indexList[strings.ToLower(string(v))] = true
		}
	}
	return nil
}

// indexedAttr reports whether the named attribute is equality-indexed per
// the cached @INDEXLIST.
func (b *Backend) indexedAttr(name string) bool {
	return b.indexList[strings.ToLower(name)]
}

// parseAttributeTuple decodes an @ATTRIBUTES value of the form
// "<attr>:<flag-mask>[:<syntax-name>]". An absent syntax name means the
// octet-string default.
func parseAttributeTuple(v larch.Val) (string, larch.AttrFlags, *larch.Syntax, error) {
	parts := strings.Split(string(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", 0, nil, larch.Errf(larch.ResultInvalidAttributeSyntax, "malformed tuple %q", v)
	}
	name := parts[0]
	if name == "" {
		return "", 0, nil, larch.Errf(larch.ResultInvalidAttributeSyntax, "empty attribute name in %q", v)
	}
	mask, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, nil, larch.Errf(larch.ResultInvalidAttributeSyntax, "bad flag mask in %q", v)
	}
	syntax := larch.DefaultSyntax()
	if len(parts) == 3 {
		syntax = larch.StandardSyntax(parts[2])
		if syntax == nil {
			return "", 0, nil, larch.Errf(larch.ResultInvalidAttributeSyntax, "unknown syntax in %q", v)
		}
	}
	return name, larch.AttrFlags(mask), syntax, nil
}

// checkAttributesValue validates one @ATTRIBUTES value without registering
// it; used by the write path before a special-DN store.
func checkAttributesValue(v larch.Val) error {
	_, _, _, err := parseAttributeTuple(v)
	return err
}
