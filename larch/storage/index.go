package storage

import (
	"strings"

	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/codec"
)

// The index engine maintains two kinds of index records. An equality bucket
// @INDEX:<attr>:<canonical-value> lists, in its @IDX attribute, the DN of
// every entry carrying that value for that attribute. A one-level bucket
// @IDXONE:<parent-dn> lists the direct children of a parent. Buckets whose
// member list becomes empty are deleted outright.

// storeBucket packs and writes an index record unconditionally.
func (b *Backend) storeBucket(msg *larch.Message) error {
	key, err := EntryKey(b.schema, msg.DN)
	if err != nil {
		return err
	}
	data, err := codec.Pack(msg)
	if err != nil {
		return larch.Errf(larch.ResultOperationsError, "cannot pack index record %q: %v", msg.DN, err)
	}
	return b.kv.Store(key, data, StoreReplace)
}

// bucketAdd inserts memberDN into the bucket at bucketDN, creating the
// bucket when missing. A DN already listed is left alone so a bucket never
// lists the same member twice.
func (b *Backend) bucketAdd(bucketDN, memberDN *larch.DN) error {
	bucket, err := b.fetchByDN(bucketDN)
	if err != nil {
		if larch.CodeOf(err) != larch.ResultNoSuchObject {
			return err
		}
		bucket = larch.NewMessage(bucketDN)
		bucket.Elements = []larch.Element{{Name: larch.IdxAttr}}
	}
	i := bucket.FindElement(larch.IdxAttr)
	if i < 0 {
		bucket.Elements = append(bucket.Elements, larch.Element{Name: larch.IdxAttr})
		i = len(bucket.Elements) - 1
	}
	el := &bucket.Elements[i]
	for _, v := range el.Values {
		if larch.NewDN(string(v)).Equal(b.schema, memberDN) {
			return nil
		}
	}
	el.Values = append(el.Values, larch.Val(memberDN.String()))
	return b.storeBucket(bucket)
}

// bucketDel removes memberDN from the bucket at bucketDN. A missing bucket
// or member is not an error; the last member removed deletes the bucket
// record so listing index records never yields empty buckets.
func (b *Backend) bucketDel(bucketDN, memberDN *larch.DN) error {
	bucket, err := b.fetchByDN(bucketDN)
	if err != nil {
		if larch.CodeOf(err) == larch.ResultNoSuchObject {
			return nil
		}
		return err
	}
	i := bucket.FindElement(larch.IdxAttr)
	if i < 0 {
		return nil
	}
	el := &bucket.Elements[i]
	for j, v := range el.Values {
		if larch.NewDN(string(v)).Equal(b.schema, memberDN) {
			el.RemoveValue(j)
			break
		}
	}
	if len(el.Values) == 0 {
		key, err := EntryKey(b.schema, bucketDN)
		if err != nil {
			return err
		}
		if err := b.kv.Delete(key); err != nil && larch.CodeOf(err) != larch.ResultNoSuchObject {
			return err
		}
		return nil
	}
	return b.storeBucket(bucket)
}

// valueBucketDN computes the equality-bucket DN for one value of the named
// attribute, canonicalised through the attribute's syntax so that
// syntactically equivalent values share a bucket.
func (b *Backend) valueBucketDN(name string, v larch.Val) (*larch.DN, error) {
	attr := b.schema.AttributeByName(name)
	canon, err := attr.Syntax.Canon(b.schema, v)
	if err != nil {
		return nil, larch.Errf(larch.ResultOperationsError, "cannot canonicalise %q value for indexing: %v", name, err)
	}
	return IndexDN(name, canon), nil
}

// indexAdd records every indexed (attribute, value) pair of msg in its
// equality bucket.
func (b *Backend) indexAdd(msg *larch.Message) error {
	if msg.DN.IsSpecial() {
		return nil
	}
	for _, el := range msg.Elements {
		if !b.indexedAttr(el.Name) {
			continue
		}
		for _, v := range el.Values {
			bucketDN, err := b.valueBucketDN(el.Name, v)
			if err != nil {
				return err
			}
			if err := b.bucketAdd(bucketDN, msg.DN); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexDel is the inverse of indexAdd across every indexed pair of msg.
func (b *Backend) indexDel(msg *larch.Message) error {
	if msg.DN.IsSpecial() {
		return nil
	}
	for _, el := range msg.Elements {
		if !b.indexedAttr(el.Name) {
			continue
		}
		for _, v := range el.Values {
			bucketDN, err := b.valueBucketDN(el.Name, v)
			if err != nil {
				return err
			}
			if err := b.bucketDel(bucketDN, msg.DN); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexDelValue removes the single (attribute, el.Values[i]) linkage for dn.
func (b *Backend) indexDelValue(dn *larch.DN, el *larch.Element, i int) error {
	if dn.IsSpecial() || !b.indexedAttr(el.Name) {
		return nil
	}
	bucketDN, err := b.valueBucketDN(el.Name, el.Values[i])
	if err != nil {
		return err
	}
	return b.bucketDel(bucketDN, dn)
}

// indexOne maintains the one-level (parent to children) slot for msg. Top
// level entries and special DNs have no slot.
func (b *Backend) indexOne(msg *larch.Message, add bool) error {
	if msg.DN.IsSpecial() {
		return nil
	}
	parent := msg.DN.Parent()
	if parent == nil {
		return nil
	}
	bucketDN, err := OneLevelDN(b.schema, parent)
	if err != nil {
		return err
	}
	if add {
		return b.bucketAdd(bucketDN, msg.DN)
	}
	return b.bucketDel(bucketDN, msg.DN)
}

// reindex drops every index record and rebuilds them from a scan of the
// regular entries. Runs inside the caller's transaction.
func (b *Backend) reindex() error {
	b.log.Debugw("reindexing store")
	b.metrics.reindexes.Inc()

	// Drop existing index records first so stale buckets cannot survive.
	dropPrefixes := []string{
		keyPrefix + larch.IndexDNPrefix,
		keyPrefix + larch.OneLevelDNPre,
	}
	for _, prefix := range dropPrefixes {
		err := b.kv.Walk([]byte(prefix), func(key, _ []byte) error {
			return b.kv.Delete(key)
		})
		if err != nil {
			return err
		}
	}

	return b.kv.Walk([]byte(keyPrefix), func(key, val []byte) error {
		if strings.HasPrefix(string(key), keyPrefix+"@") {
			return nil
		}
		msg, err := codec.Unpack(val)
		if err != nil {
			return larch.Errf(larch.ResultProtocolError, "corrupt record under %q: %v", key, err)
		}
		if msg.DN == nil || msg.DN.IsSpecial() {
			return nil
		}
		if err := b.indexOne(msg, true); err != nil {
			return err
		}
		return b.indexAdd(msg)
	})
}
