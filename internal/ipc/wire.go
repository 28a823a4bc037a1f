// Package ipc implements the control-socket protocol: wire framing of the
// tagged data tree with out-of-band file-descriptor transfer, the verb
// dispatch table, and the connection/server bookkeeping described in
// spec §4.4 and §6.
package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nullhaven/overseerd/internal/value"
)

// tag identifies a Value's on-wire leaf/container kind. Distinct from
// value.Kind so the wire format stays stable even if the in-memory
// enumeration is reordered.
type tag byte

const (
	tagNull tag = iota
	tagBool
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagFD
	tagPort
	tagArray
	tagMap
)

// encodeTree serializes v into the in-band payload, appending one
// placeholder token per FD leaf in traversal order and returning the
// ordered list of descriptors to transfer as ancillary data alongside
// this payload.
func encodeTree(v value.Value) ([]byte, []int, error) {
	var buf bytes.Buffer
	var fds []int
	if err := encodeValue(&buf, v, &fds); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), fds, nil
}

func encodeValue(buf *bytes.Buffer, v value.Value, fds *[]int) error {
	switch v.Kind {
	case value.KindNull:
		buf.WriteByte(byte(tagNull))
	case value.KindBool:
		buf.WriteByte(byte(tagBool))
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindInt64:
		buf.WriteByte(byte(tagInt64))
		writeUint64(buf, uint64(v.Int))
	case value.KindFloat64:
		buf.WriteByte(byte(tagFloat64))
		writeUint64(buf, math.Float64bits(v.Float))
	case value.KindString:
		buf.WriteByte(byte(tagString))
		writeBytes(buf, []byte(v.Str))
	case value.KindBytes:
		buf.WriteByte(byte(tagBytes))
		writeBytes(buf, v.Bytes)
	case value.KindFD:
		buf.WriteByte(byte(tagFD))
		writeUint32(buf, uint32(len(*fds)))
		*fds = append(*fds, v.FD.Fd)
	case value.KindPort:
		buf.WriteByte(byte(tagPort))
		writeBytes(buf, []byte(v.Port.Name))
	case value.KindArray:
		buf.WriteByte(byte(tagArray))
		writeUint32(buf, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			if err := encodeValue(buf, e, fds); err != nil {
				return err
			}
		}
	case value.KindMap:
		buf.WriteByte(byte(tagMap))
		writeUint32(buf, uint32(len(v.Map)))
		for k, e := range v.Map {
			writeBytes(buf, []byte(k))
			if err := encodeValue(buf, e, fds); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("ipc: encode: unknown value kind %v", v.Kind)
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// decodeTree parses payload into a Value, installing fds (already marked
// close-on-exec by the caller, in the order they were received) into
// their reserved FD slots by position.
func decodeTree(payload []byte, fds []int) (value.Value, error) {
	r := &reader{buf: payload}
	v, err := decodeValue(r, fds)
	if err != nil {
		return value.Null(), err
	}
	if r.off != len(r.buf) {
		return value.Null(), fmt.Errorf("ipc: decode: %d trailing bytes", len(r.buf)-r.off)
	}
	return v, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("ipc: decode: unexpected end of payload")
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("ipc: decode: unexpected end of payload")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func decodeValue(r *reader, fds []int) (value.Value, error) {
	t, err := r.byte()
	if err != nil {
		return value.Null(), err
	}
	switch tag(t) {
	case tagNull:
		return value.Null(), nil
	case tagBool:
		b, err := r.byte()
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(b != 0), nil
	case tagInt64:
		n, err := r.uint64()
		if err != nil {
			return value.Null(), err
		}
		return value.Int(int64(n)), nil
	case tagFloat64:
		n, err := r.uint64()
		if err != nil {
			return value.Null(), err
		}
		return value.Float(math.Float64frombits(n)), nil
	case tagString:
		b, err := r.bytesField()
		if err != nil {
			return value.Null(), err
		}
		return value.String(string(b)), nil
	case tagBytes:
		b, err := r.bytesField()
		if err != nil {
			return value.Null(), err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return value.BytesVal(cp), nil
	case tagFD:
		idx, err := r.uint32()
		if err != nil {
			return value.Null(), err
		}
		if int(idx) >= len(fds) {
			return value.Null(), fmt.Errorf("ipc: decode: fd slot %d has no matching ancillary descriptor", idx)
		}
		return value.Descriptor(fds[idx], true), nil
	case tagPort:
		b, err := r.bytesField()
		if err != nil {
			return value.Null(), err
		}
		return value.PortRef(string(b)), nil
	case tagArray:
		n, err := r.uint32()
		if err != nil {
			return value.Null(), err
		}
		arr := make([]value.Value, n)
		for i := range arr {
			v, err := decodeValue(r, fds)
			if err != nil {
				return value.Null(), err
			}
			arr[i] = v
		}
		return value.Value{Kind: value.KindArray, Arr: arr}, nil
	case tagMap:
		n, err := r.uint32()
		if err != nil {
			return value.Null(), err
		}
		m := make(map[string]value.Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.bytesField()
			if err != nil {
				return value.Null(), err
			}
			v, err := decodeValue(r, fds)
			if err != nil {
				return value.Null(), err
			}
			m[string(k)] = v
		}
		return value.Value{Kind: value.KindMap, Map: m}, nil
	default:
		return value.Null(), fmt.Errorf("ipc: decode: unknown tag %d", t)
	}
}
