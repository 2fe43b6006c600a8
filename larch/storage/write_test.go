package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larchdb/larch/larch"
)

func seqOf(t *testing.T, b *Backend) uint64 {
	t.Helper()
	seq, err := b.SequenceNumber(SeqHighest)
	require.NoError(t, err)
	return seq
}

func TestAddAndFetch(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	base := seqOf(t, b)

	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "cn=a,dc=x", got.DN.String())
	cn := got.Element("cn")
	require.NotNil(t, cn)
	require.Len(t, cn.Values, 1)
	assert.Equal(t, "a", string(cn.Values[0]))

	// cn is indexed with directory-string canonicalisation.
	assert.Equal(t, []string{"cn=a,dc=x"}, bucketMembers(t, b, "@INDEX:cn:A"))
	assert.Equal(t, uint64(base+1), seqOf(t, b))
}

func TestAddDuplicateDN(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	msg := mkmsg("cn=a,dc=x", el("cn", 0, "a"))
	require.NoError(t, b.Add(msg))
	seq := seqOf(t, b)

	err := b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "other")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultEntryAlreadyExists, larch.CodeOf(err))

	// The store is unchanged from after the first add.
	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(got.Element("cn").Values[0]))
	assert.Equal(t, seq, seqOf(t, b))
}

func TestAddDuplicateDNCaseVariant(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	err := b.Add(mkmsg("CN=A,DC=X", el("cn", 0, "a")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultEntryAlreadyExists, larch.CodeOf(err))
}

func TestModifyAdd(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	base := seqOf(t, b)

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModAdd, "b"))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	cn := got.Element("cn")
	require.Len(t, cn.Values, 2)
	assert.Equal(t, "a", string(cn.Values[0]))
	assert.Equal(t, "b", string(cn.Values[1]))
	assert.Equal(t, []string{"cn=a,dc=x"}, bucketMembers(t, b, "@INDEX:cn:B"))
	assert.Equal(t, base+1, seqOf(t, b))
}

func TestModifyAddNewAttribute(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("description", larch.FlagModAdd, "hello"))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	require.NotNil(t, got.Element("description"))
}

func TestModifyAddExistingValue(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	// "A" compares equal to the stored "a" under directory-string rules.
	err := b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModAdd, "A")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultAttributeOrValueExists, larch.CodeOf(err))
}

func TestModifyAddBatchDuplicate(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	err := b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModAdd, "b", "b")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultAttributeOrValueExists, larch.CodeOf(err))
}

func TestModifyReplace(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModReplace, "z"))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	cn := got.Element("cn")
	require.Len(t, cn.Values, 1)
	assert.Equal(t, "z", string(cn.Values[0]))

	// The old value's bucket is gone, the new one present.
	assert.Nil(t, bucket(t, b, "@INDEX:cn:A"))
	assert.Equal(t, []string{"cn=a,dc=x"}, bucketMembers(t, b, "@INDEX:cn:Z"))
}

func TestModifyReplaceEmptyDeletesAttribute(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x",
		el("cn", 0, "a"), el("description", 0, "d"))))

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("description", larch.FlagModReplace))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Nil(t, got.Element("description"))
}

func TestModifyReplaceDuplicateValues(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	seq := seqOf(t, b)

	err := b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModReplace, "q", "q")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultAttributeOrValueExists, larch.CodeOf(err))

	// Entry and indexes unchanged: the transaction rolled everything back.
	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(got.Element("cn").Values[0]))
	assert.Equal(t, []string{"cn=a,dc=x"}, bucketMembers(t, b, "@INDEX:cn:A"))
	assert.Nil(t, bucket(t, b, "@INDEX:cn:Q"))
	assert.Equal(t, seq, seqOf(t, b))
}

func TestModifyDeleteValue(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a", "b"))))

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModDelete, "a"))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	cn := got.Element("cn")
	require.Len(t, cn.Values, 1)
	assert.Equal(t, "b", string(cn.Values[0]))
	assert.Nil(t, bucket(t, b, "@INDEX:cn:A"))
	assert.Equal(t, []string{"cn=a,dc=x"}, bucketMembers(t, b, "@INDEX:cn:B"))
}

func TestModifyDeleteWholeAttribute(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x",
		el("cn", 0, "a"), el("description", 0, "d"))))

	require.NoError(t, b.Modify(mkmsg("cn=a,dc=x", el("description", larch.FlagModDelete))))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Nil(t, got.Element("description"))
}

func TestModifyDeleteMissing(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	err := b.Modify(mkmsg("cn=a,dc=x", el("nope", larch.FlagModDelete)))
	assert.Equal(t, larch.ResultNoSuchAttribute, larch.CodeOf(err))

	err = b.Modify(mkmsg("cn=a,dc=x", el("cn", larch.FlagModDelete, "zzz")))
	assert.Equal(t, larch.ResultNoSuchAttribute, larch.CodeOf(err))
}

func TestModifyUnknownFlag(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	err := b.Modify(mkmsg("cn=a,dc=x", el("cn", 9, "x")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultProtocolError, larch.CodeOf(err))
}

func TestModifyMissingEntry(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	err := b.Modify(mkmsg("cn=nope,dc=x", el("cn", larch.FlagModAdd, "a")))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	base := seqOf(t, b)

	require.NoError(t, b.Delete(larch.NewDN("cn=a,dc=x")))

	_, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
	assert.Nil(t, bucket(t, b, "@INDEX:cn:A"))
	assert.Nil(t, bucket(t, b, "@IDXONE:DC=X"))
	assert.Equal(t, base+1, seqOf(t, b))
}

func TestDeleteMissing(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	seq := seqOf(t, b)

	err := b.Delete(larch.NewDN("cn=nope,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
	assert.Equal(t, seq, seqOf(t, b))
}

func TestRename(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	base := seqOf(t, b)

	require.NoError(t, b.Rename(larch.NewDN("cn=a,dc=x"), larch.NewDN("cn=c,dc=x")))

	_, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
	got, err := b.Fetch(larch.NewDN("cn=c,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "cn=c,dc=x", got.DN.String())

	// The one-level slot tracks exactly the new child.
	assert.Equal(t, []string{"cn=c,dc=x"}, bucketMembers(t, b, "@IDXONE:DC=X"))
	// A rename is one externally visible change.
	assert.Equal(t, base+1, seqOf(t, b))
}

func TestRenameCaseOnly(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	require.NoError(t, b.Rename(larch.NewDN("cn=a,dc=x"), larch.NewDN("CN=A,DC=X")))

	got, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "CN=A,DC=X", got.DN.String())
}

func TestRenameOntoExistingEntry(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))
	require.NoError(t, b.Add(mkmsg("cn=b,dc=x", el("cn", 0, "b"))))

	err := b.Rename(larch.NewDN("cn=a,dc=x"), larch.NewDN("cn=b,dc=x"))
	require.Error(t, err)
	assert.Equal(t, larch.ResultEntryAlreadyExists, larch.CodeOf(err))

	// Both entries survive untouched.
	_, err = b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
	got, err := b.Fetch(larch.NewDN("cn=b,dc=x"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(got.Element("cn").Values[0]))
}

func TestRenameMissingSource(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	err := b.Rename(larch.NewDN("cn=nope,dc=x"), larch.NewDN("cn=c,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
}

func TestAddAttributesValidation(t *testing.T) {
	b := newTestBackend(t)

	err := b.Add(mkmsg(larch.AttributesDN, el(larch.AttributesAttr, 0, "not-a-tuple")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultInvalidAttributeSyntax, larch.CodeOf(err))

	err = b.Add(mkmsg(larch.AttributesDN, el(larch.AttributesAttr, 0, "cn:0:NoSuchSyntax")))
	require.Error(t, err)
	assert.Equal(t, larch.ResultInvalidAttributeSyntax, larch.CodeOf(err))

	require.NoError(t, b.Add(mkmsg(larch.AttributesDN,
		el(larch.AttributesAttr, 0, "cn:0:DirectoryString", "age:0:Integer", "raw:0"))))
}

func TestAttributesLoadAffectsSchema(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.Add(mkmsg(larch.AttributesDN,
		el(larch.AttributesAttr, 0, "age:0:Integer"))))

	attr := b.Schema().AttributeByName("age")
	assert.Equal(t, larch.SyntaxInteger, attr.Syntax.Name)
	assert.NotZero(t, attr.Flags&larch.AttrAllocated)
}

func TestSpecialDNWritesDoNotIndex(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	// Metadata entries never appear in one-level or equality buckets.
	err := b.WalkEntries(func(msg *larch.Message) error {
		if !msg.DN.CheckSpecial(larch.IndexDNPrefix) && !msg.DN.CheckSpecial(larch.OneLevelDNPre) {
			return nil
		}
		if idx := msg.Element(larch.IdxAttr); idx != nil {
			for _, v := range idx.Values {
				assert.False(t, larch.NewDN(string(v)).IsSpecial(),
					"special DN %s listed in bucket %s", v, msg.DN)
			}
		}
		return nil
	})
	require.NoError(t, err)
}
