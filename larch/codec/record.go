// Package codec serialises directory messages to and from the packed binary
// record form stored in the key/value file. The format is self-describing
// and length-prefixed: a fixed magic/version header, the DN, the element
// count, and for each element its name, flags, value count and values.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/larchdb/larch/larch"
)

// recordMagic identifies packed records; the low byte is the format version.
const recordMagic uint32 = 0x6C726301

// ErrCorruptRecord indicates a packed record that cannot be decoded: short
// input, a bad magic, or counts that do not match the remaining bytes.
var ErrCorruptRecord = errors.New("corrupt packed record")

// maxCount bounds element and value counts so a corrupt length prefix cannot
// drive an allocation of arbitrary size.
const maxCount = 1 << 24

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	return append(buf, tmp[:binary.PutUvarint(tmp[:], n)]...)
}

func appendBytes(buf, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// Pack serialises a message. Packing is deterministic: the same message
// always yields the same bytes.
func Pack(msg *larch.Message) ([]byte, error) {
	if msg == nil || msg.DN == nil {
		return nil, fmt.Errorf("pack: message has no DN")
	}
	buf := make([]byte, 4, 64)
	binary.LittleEndian.PutUint32(buf, recordMagic)
	buf = appendBytes(buf, []byte(msg.DN.String()))
	buf = appendUvarint(buf, uint64(len(msg.Elements)))
	for _, el := range msg.Elements {
		buf = appendBytes(buf, []byte(el.Name))
		buf = appendUvarint(buf, uint64(el.Flags))
		buf = appendUvarint(buf, uint64(len(el.Values)))
		for _, v := range el.Values {
			buf = appendBytes(buf, v)
		}
	}
	return buf, nil
}

type reader struct {
	buf []byte
}

func (r *reader) uvarint() (uint64, error) {
	n, size := binary.Uvarint(r.buf)
	if size <= 0 {
		return 0, ErrCorruptRecord
	}
	r.buf = r.buf[size:]
	return n, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, ErrCorruptRecord
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out, nil
}

// Unpack decodes a packed record back into a message.
func Unpack(data []byte) (*larch.Message, error) {
	if len(data) < 4 || binary.LittleEndian.Uint32(data) != recordMagic {
		return nil, ErrCorruptRecord
	}
	r := &reader{buf: data[4:]}

	dn, err := r.bytes()
	if err != nil {
		return nil, err
	}
	numElements, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if numElements > maxCount {
		return nil, ErrCorruptRecord
	}

	msg := larch.NewMessage(larch.NewDN(string(dn)))
	msg.Elements = make([]larch.Element, 0, numElements)
	for i := uint64(0); i < numElements; i++ {
		name, err := r.bytes()
		if err != nil {
			return nil, err
		}
		flags, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		numValues, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if numValues > maxCount {
			return nil, ErrCorruptRecord
		}
		el := larch.Element{
			Name:   string(name),
			Flags:  larch.ElementFlags(flags),
			Values: make([]larch.Val, 0, numValues),
		}
		for j := uint64(0); j < numValues; j++ {
			v, err := r.bytes()
			if err != nil {
				return nil, err
			}
			el.Values = append(el.Values, larch.Val(v))
		}
		msg.Elements = append(msg.Elements, el)
	}
	if len(r.buf) != 0 {
		return nil, ErrCorruptRecord
	}
	return msg, nil
}
