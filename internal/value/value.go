// Package value implements the tagged data tree carried over the control
// socket: the wire payload of every IPC request and reply, and the
// in-memory shape of a job manifest before it is parsed into typed fields.
package value

import "fmt"

// Kind identifies which leaf or container variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindFD
	KindPort
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindFD:
		return "fd"
	case KindPort:
		return "port"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// FD carries a descriptor handle through the tree. Encode transfers it as
// ancillary data and does not close the sender's copy, whatever Owned
// says; Decode installs each received descriptor (marked close-on-exec by
// the connection reader) with Owned set to true.
type FD struct {
	Fd    int
	Owned bool
}

// Port is an opaque platform port-message endpoint reference. The core
// never interprets the contents; it only preserves position across
// encode/decode round-trips.
type Port struct {
	Name string
}

// Value is a single node of the tagged tree. Exactly one of the typed
// fields is meaningful for a given Kind; Array and Map share a Kind
// neither mutually exclusive with the others.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	FD    FD
	Port  Port
	Arr   []Value
	Map   map[string]Value
}

// Null returns the null leaf.
func Null() Value { return Value{Kind: KindNull} }

// Bool wraps a boolean leaf.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int wraps an integer leaf.
func Int(i int64) Value { return Value{Kind: KindInt64, Int: i} }

// Float wraps a real leaf.
func Float(f float64) Value { return Value{Kind: KindFloat64, Float: f} }

// String wraps a string leaf.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// BytesVal wraps an opaque byte-string leaf.
func BytesVal(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Descriptor wraps a file descriptor leaf. Owned records whether the
// holder of the Value owns the descriptor; the encoder does not close it
// either way.
func Descriptor(fd int, owned bool) Value {
	return Value{Kind: KindFD, FD: FD{Fd: fd, Owned: owned}}
}

// PortRef wraps a port-message endpoint reference leaf.
func PortRef(name string) Value { return Value{Kind: KindPort, Port: Port{Name: name}} }

// Array wraps an ordered sequence of values.
func Array(items ...Value) Value { return Value{Kind: KindArray, Arr: items} }

// Map wraps a string-keyed mapping of values.
func Map(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{Kind: KindMap, Map: m}
}

// IsNull reports whether v is the null leaf.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsString returns the string leaf, or ok=false if v is not a string.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsInt returns the integer leaf, or ok=false if v is not an int64.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt64 {
		return 0, false
	}
	return v.Int, true
}

// AsBool returns the bool leaf, or ok=false if v is not a bool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsArray returns the array elements, or ok=false if v is not an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.Arr, true
}

// AsMap returns the mapping, or ok=false if v is not a map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.Map, true
}

// Field looks up a key in a map Value. Returns the null leaf and ok=false
// if v is not a map or the key is absent.
func (v Value) Field(key string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Null(), false
	}
	f, ok := m[key]
	return f, ok
}

// StringField is a convenience accessor combining Field and AsString.
func (v Value) StringField(key string) (string, bool) {
	f, ok := v.Field(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

// IntField is a convenience accessor combining Field and AsInt.
func (v Value) IntField(key string) (int64, bool) {
	f, ok := v.Field(key)
	if !ok {
		return 0, false
	}
	return f.AsInt()
}

// BoolField is a convenience accessor combining Field and AsBool.
func (v Value) BoolField(key string) (bool, bool) {
	f, ok := v.Field(key)
	if !ok {
		return false, false
	}
	return f.AsBool()
}

// DeepCopy returns a structurally independent copy of v. File descriptors
// are NOT duplicated: the copy's FD slot carries the same numeric value
// with Owned forced false, since callers that deep-copy a manifest for an
// IPC reply (get-job, check-in) must never hand out ownership of a live
// descriptor to a client.
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case KindArray:
		out := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.DeepCopy()
		}
		return Value{Kind: KindArray, Arr: out}
	case KindMap:
		out := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.DeepCopy()
		}
		return Value{Kind: KindMap, Map: out}
	case KindBytes:
		b := make([]byte, len(v.Bytes))
		copy(b, v.Bytes)
		return Value{Kind: KindBytes, Bytes: b}
	case KindFD:
		return Value{Kind: KindFD, FD: FD{Fd: v.FD.Fd, Owned: false}}
	default:
		return v
	}
}

// ZeroFDs returns a copy of v with every FD leaf replaced by null. Used to
// sanitize manifests handed back over get-job, which must never leak live
// descriptor numbers to a querying client.
func ZeroFDs(v Value) Value {
	switch v.Kind {
	case KindFD:
		return Null()
	case KindArray:
		out := make([]Value, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = ZeroFDs(e)
		}
		return Value{Kind: KindArray, Arr: out}
	case KindMap:
		out := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			out[k] = ZeroFDs(e)
		}
		return Value{Kind: KindMap, Map: out}
	default:
		return v
	}
}

// Equal reports deep structural equality between a and b. Two FD leaves
// are equal if both are FD-kinded regardless of numeric value: descriptor
// identities are allowed to differ across a round trip, only type and
// position are preserved.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt64:
		return a.Int == b.Int
	case KindFloat64:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindFD:
		return true
	case KindPort:
		return a.Port.Name == b.Port.Name
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "<null>"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	case KindFD:
		return fmt.Sprintf("<fd %d>", v.FD.Fd)
	case KindPort:
		return fmt.Sprintf("<port %s>", v.Port.Name)
	case KindArray:
		return fmt.Sprintf("<array len=%d>", len(v.Arr))
	case KindMap:
		return fmt.Sprintf("<map len=%d>", len(v.Map))
	default:
		return "<invalid>"
	}
}
