package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/codec"
)

// SeqType selects a sequence-number query.
type SeqType int

const (
	// SeqHighest asks for the current sequence number, zero when unknown.
	SeqHighest SeqType = iota
	// SeqNext asks for the next sequence number.
	SeqNext
	// SeqHighestTimestamp asks for the last-modified time as Unix seconds.
	SeqHighestTimestamp
)

// timestampNow renders the current UTC time in the whenChanged form, e.g.
// "20260806153000.0Z".
func timestampNow() string {
	return time.Now().UTC().Format(larch.WhenChangedFormat) + ".0Z"
}

// parseTimestamp decodes a whenChanged value to Unix seconds.
func parseTimestamp(s string) (uint64, error) {
	trimmed := strings.TrimSuffix(s, ".0Z")
	t, err := time.ParseInLocation(larch.WhenChangedFormat, trimmed, time.UTC)
	if err != nil {
		return 0, err
	}
	return uint64(t.Unix()), nil
}

// bumpSequence increments @BASEINFO.sequenceNumber and stamps whenChanged,
// inside the same transaction as the triggering operation. Only the first
// call per top-level write takes effect.
func (b *Backend) bumpSequence() error {
	if b.seqBumped {
		return nil
	}
	baseinfo, err := b.fetchByDN(larch.NewDN(larch.BaseInfoDN))
	if err != nil {
		return larch.Errf(larch.ResultOperationsError, "cannot load %s: %v", larch.BaseInfoDN, err)
	}
	seq := baseinfo.Uint64(larch.SequenceNumberAttr, 0) + 1
	baseinfo.SetString(larch.SequenceNumberAttr, strconv.FormatUint(seq, 10))
	baseinfo.SetString(larch.WhenChangedAttr, timestampNow())

	key, err := EntryKey(b.schema, baseinfo.DN)
	if err != nil {
		return err
	}
	data, err := codec.Pack(baseinfo)
	if err != nil {
		return larch.Errf(larch.ResultOperationsError, "cannot pack %s: %v", larch.BaseInfoDN, err)
	}
	if err := b.kv.Store(key, data, StoreReplace); err != nil {
		return err
	}

	// The cached metadata still matches this store state.
	b.cachedSeq = seq
	b.seqBumped = true
	return nil
}

// SequenceNumber answers a sequence query from @BASEINFO. A store that was
// never written reports zero.
func (b *Backend) SequenceNumber(typ SeqType) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	baseinfo, err := b.fetchByDN(larch.NewDN(larch.BaseInfoDN))
	if err != nil {
		if larch.CodeOf(err) == larch.ResultNoSuchObject {
			return 0, nil
		}
		return 0, b.seterr(err)
	}

	switch typ {
	case SeqHighest:
		return baseinfo.Uint64(larch.SequenceNumberAttr, 0), nil
	case SeqNext:
		return baseinfo.Uint64(larch.SequenceNumberAttr, 0) + 1, nil
	case SeqHighestTimestamp:
		date := baseinfo.String(larch.WhenChangedAttr, "")
		if date == "" {
			return 0, nil
		}
		ts, err := parseTimestamp(date)
		if err != nil {
			return 0, b.errf(larch.ResultOperationsError, "bad %s timestamp %q", larch.BaseInfoDN, date)
		}
		return ts, nil
	default:
		return 0, b.errf(larch.ResultProtocolError, "unknown sequence query %d", typ)
	}
}
