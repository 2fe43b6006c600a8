package storage

import (
	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/codec"
)

// checkSpecialDN validates constraints on writes to special DNs. Only
// @ATTRIBUTES is checked: every value must be a well-formed declaration
// tuple.
func (b *Backend) checkSpecialDN(msg *larch.Message) error {
	if !msg.DN.CheckSpecial(larch.AttributesDN) {
		return nil
	}
	for _, el := range msg.Elements {
		for _, v := range el.Values {
			if err := checkAttributesValue(v); err != nil {
				return b.errf(larch.ResultInvalidAttributeSyntax,
					"invalid attribute value in an %s entry: %q", larch.AttributesDN, v)
			}
		}
	}
	return nil
}

// modified runs after a successful store edit of dn: schema-affecting
// special DNs trigger a full reindex, and any DN other than @BASEINFO bumps
// the sequence number. @BASEINFO itself never bumps, which would recurse.
func (b *Backend) modified(dn *larch.DN) error {
	if dn.CheckSpecial(larch.IndexListDN) || dn.CheckSpecial(larch.AttributesDN) {
		b.cacheValid = false
		if err := b.loadCache(); err != nil {
			return err
		}
		if err := b.reindex(); err != nil {
			return err
		}
	}
	if dn.CheckSpecial(larch.BaseInfoDN) {
		return nil
	}
	return b.bumpSequence()
}

// store packs msg into the record file under flag semantics and indexes its
// attributes. An index failure removes the record again so the store and its
// indexes never diverge, even outside a caller transaction.
func (b *Backend) store(msg *larch.Message, flag StoreFlag) error {
	key, err := EntryKey(b.schema, msg.DN)
	if err != nil {
		return err
	}
	data, err := codec.Pack(msg)
	if err != nil {
		return larch.Errf(larch.ResultOperationsError, "cannot pack %q: %v", msg.DN, err)
	}
	if err := b.kv.Store(key, data, flag); err != nil {
		return err
	}
	if err := b.indexAdd(msg); err != nil {
		b.kv.Delete(key)
		return err
	}
	return nil
}

// Add inserts a new entry; a DN collision is entryAlreadyExists.
func (b *Backend) Add(msg *larch.Message) error {
	return b.writeOp("add", func() error { return b.addInternal(msg) })
}

func (b *Backend) addInternal(msg *larch.Message) error {
	if err := b.checkSpecialDN(msg); err != nil {
		return err
	}
	if err := b.loadCache(); err != nil {
		return err
	}
	if err := b.store(msg, StoreInsert); err != nil {
		if larch.CodeOf(err) == larch.ResultEntryAlreadyExists {
			return b.errf(larch.ResultEntryAlreadyExists, "entry %s already exists", msg.DN)
		}
		return err
	}
	if err := b.indexOne(msg, true); err != nil {
		return err
	}
	return b.modified(msg.DN)
}

// Delete removes the entry at dn; a missing entry is an error.
func (b *Backend) Delete(dn *larch.DN) error {
	return b.writeOp("delete", func() error { return b.deleteInternal(dn) })
}

// deleteNoindex removes the record at dn without touching indexes;
// deleteInternal updates the indexes itself afterwards.
func (b *Backend) deleteNoindex(dn *larch.DN) error {
	key, err := EntryKey(b.schema, dn)
	if err != nil {
		return err
	}
	return b.kv.Delete(key)
}

func (b *Backend) deleteInternal(dn *larch.DN) error {
	if err := b.loadCache(); err != nil {
		return err
	}
	// The old record is needed in case any of its attributes was indexed.
	msg, err := b.fetchByDN(dn)
	if err != nil {
		return err
	}
	if err := b.deleteNoindex(dn); err != nil {
		return err
	}
	if err := b.indexOne(msg, false); err != nil {
		return err
	}
	if err := b.indexDel(msg); err != nil {
		return err
	}
	return b.modified(dn)
}

// msgDeleteAttribute removes every element named name from cur, updating
// the index bucket of each removed value. Reports whether anything was
// removed.
func (b *Backend) msgDeleteAttribute(cur *larch.Message, name string) (bool, error) {
	found := false
	for i := 0; i < len(cur.Elements); {
		el := &cur.Elements[i]
		if !equalAttrName(el.Name, name) {
			i++
			continue
		}
		for j := range el.Values {
			if err := b.indexDelValue(cur.DN, el, j); err != nil {
				return found, err
			}
		}
		cur.RemoveElement(i)
		found = true
	}
	return found, nil
}

// msgDeleteElement removes the single value of the named attribute that
// compares equal to val. Removing the last value removes the attribute.
func (b *Backend) msgDeleteElement(cur *larch.Message, name string, val larch.Val) error {
	i := cur.FindElement(name)
	if i < 0 {
		return larch.Errf(larch.ResultNoSuchAttribute, "no such attribute %q", name)
	}
	el := &cur.Elements[i]
	j := el.FindVal(b.schema, val)
	if j < 0 {
		return larch.Errf(larch.ResultNoSuchAttribute, "no matching value of %q", name)
	}
	el.RemoveValue(j)
	if len(el.Values) == 0 {
		cur.RemoveElement(i)
	}
	return nil
}

func equalAttrName(a, b string) bool {
	return attrFold(a) == attrFold(b)
}

// Modify applies per-element modifications to an existing entry.
func (b *Backend) Modify(msg *larch.Message) error {
	return b.writeOp("modify", func() error {
		if err := b.checkSpecialDN(msg); err != nil {
			return err
		}
		if err := b.loadCache(); err != nil {
			return err
		}
		return b.modifyInternal(msg)
	})
}

func (b *Backend) modifyInternal(msg *larch.Message) error {
	cur, err := b.fetchByDN(msg.DN)
	if err != nil {
		return err
	}

	for i := range msg.Elements {
		el := &msg.Elements[i]

		switch el.Flags.ModType() {
		case larch.FlagModAdd:
			// An absent attribute is appended as supplied. Otherwise the
			// values are added, failing when any supplied value already
			// exists on disk or is duplicated within the batch.
			idx := cur.FindElement(el.Name)
			if idx < 0 {
				cur.AddElement(*el)
				continue
			}
			cur2 := &cur.Elements[idx]
			for j, v := range el.Values {
				if cur2.FindVal(b.schema, v) >= 0 {
					return b.errf(larch.ResultAttributeOrValueExists,
						"%s: value #%d already exists", el.Name, j)
				}
				if el.FindVal(b.schema, v) != j {
					return b.errf(larch.ResultAttributeOrValueExists,
						"%s: value #%d provided more than once", el.Name, j)
				}
			}
			for _, v := range el.Values {
				cur2.Values = append(cur2.Values, append(larch.Val(nil), v...))
			}

		case larch.FlagModReplace:
			// Drop the attribute entirely; absence is not an error. An
			// empty replacement just deletes it.
			if _, err := b.msgDeleteAttribute(cur, el.Name); err != nil {
				return err
			}
			for j := range el.Values {
				if el.FindVal(b.schema, el.Values[j]) != j {
					return b.errf(larch.ResultAttributeOrValueExists,
						"%s: value #%d provided more than once", el.Name, j)
				}
			}
			if len(el.Values) != 0 {
				cur.AddElement(*el)
			}

		case larch.FlagModDelete:
			if len(el.Values) == 0 {
				found, err := b.msgDeleteAttribute(cur, el.Name)
				if err != nil {
					return err
				}
				if !found {
					return b.errf(larch.ResultNoSuchAttribute,
						"no such attribute %s for delete on %s", el.Name, msg.DN)
				}
				continue
			}
			for j := range el.Values {
				if err := b.msgDeleteElement(cur, el.Name, el.Values[j]); err != nil {
					return b.errf(larch.ResultNoSuchAttribute,
						"no matching attribute value when deleting %s on %s", el.Name, msg.DN)
				}
				// Keep the index bucket in lock-step with each removal.
				if err := b.indexDelValue(msg.DN, el, j); err != nil {
					return err
				}
			}

		default:
			return b.errf(larch.ResultProtocolError,
				"invalid modify flags on %s: 0x%x", el.Name, uint32(el.Flags.ModType()))
		}
	}

	if err := b.store(cur, StoreModify); err != nil {
		return err
	}
	return b.modified(msg.DN)
}

// Rename moves the entry at olddn to newdn.
func (b *Backend) Rename(olddn, newdn *larch.DN) error {
	return b.writeOp("rename", func() error {
		if err := b.loadCache(); err != nil {
			return err
		}
		msg, err := b.fetchByDN(olddn)
		if err != nil {
			return err
		}
		moved := msg.Copy()
		moved.DN = newdn

		if olddn.Equal(b.schema, newdn) {
			// Case-only change: delete first so the insert cannot collide
			// with the record being renamed. The transaction rolls both
			// back if the add fails.
			if err := b.deleteInternal(olddn); err != nil {
				return err
			}
			return b.addInternal(moved)
		}

		// Add first so an unrelated entry at newdn is never clobbered.
		if err := b.addInternal(moved); err != nil {
			return err
		}
		if err := b.deleteInternal(olddn); err != nil {
			b.deleteInternal(newdn)
			return b.errf(larch.ResultOperationsError,
				"rename of %s could not remove the old entry: %v", olddn, err)
		}
		return nil
	})
}
