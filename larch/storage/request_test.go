package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larchdb/larch/larch"
)

func TestRequestDispatchAdd(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	calls := 0
	req := &Request{
		Op:      OpAdd,
		Message: mkmsg("cn=a,dc=x", el("cn", 0, "a")),
		Callback: func(res *Result) {
			calls++
			assert.NoError(t, res.Err)
		},
	}
	require.NoError(t, b.Do(req))

	assert.Equal(t, 1, calls)
	assert.Equal(t, HandleDone, req.Handle.State)
	assert.NoError(t, req.Handle.Status)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", req.Handle.ID.String())

	_, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	require.NoError(t, err)
}

func TestRequestCriticalControlRejected(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	calls := 0
	req := &Request{
		Op:       OpAdd,
		Message:  mkmsg("cn=a,dc=x", el("cn", 0, "a")),
		Controls: []Control{{OID: "1.2.3.4", Critical: true}},
		Callback: func(res *Result) { calls++ },
	}
	err := b.Do(req)
	require.Error(t, err)
	assert.Equal(t, larch.ResultUnsupportedCriticalExtension, larch.CodeOf(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, HandleDone, req.Handle.State)

	// Nothing was dispatched.
	_, err = b.Fetch(larch.NewDN("cn=a,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
}

func TestRequestNonCriticalControlIgnored(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	req := &Request{
		Op:       OpAdd,
		Message:  mkmsg("cn=a,dc=x", el("cn", 0, "a")),
		Controls: []Control{{OID: "1.2.3.4", Critical: false}},
	}
	require.NoError(t, b.Do(req))
}

func TestRequestHandleDoneOnFailure(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	req := &Request{Op: OpDelete, DN: larch.NewDN("cn=nope,dc=x")}
	err := b.Do(req)
	require.Error(t, err)
	assert.Equal(t, HandleDone, req.Handle.State)
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(req.Handle.Status))
}

func TestRequestSequenceNumber(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	base := seqOf(t, b)

	var got uint64
	req := &Request{
		Op:       OpSequenceNumber,
		SeqType:  SeqNext,
		Callback: func(res *Result) { got = res.SeqNum },
	}
	require.NoError(t, b.Do(req))
	assert.Equal(t, base+1, got)
}

func TestRequestSearchBaseLookup(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)
	require.NoError(t, b.Add(mkmsg("cn=a,dc=x", el("cn", 0, "a"))))

	var got *larch.Message
	req := &Request{
		Op:       OpSearch,
		DN:       larch.NewDN("cn=a,dc=x"),
		Callback: func(res *Result) { got = res.Message },
	}
	require.NoError(t, b.Do(req))
	require.NotNil(t, got)
	assert.Equal(t, "cn=a,dc=x", got.DN.String())
}

func TestRequestTransactionMarkers(t *testing.T) {
	b := newTestBackend(t)
	seedMetadata(t, b)

	require.NoError(t, b.Do(&Request{Op: OpStartTransaction}))
	require.NoError(t, b.Do(&Request{
		Op:      OpAdd,
		Message: mkmsg("cn=a,dc=x", el("cn", 0, "a")),
	}))
	require.NoError(t, b.Do(&Request{Op: OpCancelTransaction}))

	// The add was rolled back with the transaction.
	_, err := b.Fetch(larch.NewDN("cn=a,dc=x"))
	assert.Equal(t, larch.ResultNoSuchObject, larch.CodeOf(err))
}
