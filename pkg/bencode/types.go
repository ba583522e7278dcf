package bencode

// Value represents a bencoded value with one of the
// following concrete types: Dictionary, List, Integer, and
// Bytes
type Value interface {
	Type() Type
	Value() interface{}

	ToDict() (*Dictionary, bool)
	ToList() (List, bool)
	ToInteger() (Integer, bool)
	ToBytes() (Bytes, bool)
}

type Type int

const (
	TypeDict Type = iota
	TypeInteger
	TypeList
	TypeBytes
)

func IsDict(v Value) bool {
	return v.Type() == TypeDict
}

func IsList(v Value) bool {
	return v.Type() == TypeList
}

func IsInteger(v Value) bool {
	return v.Type() == TypeInteger
}

func IsBytes(v Value) bool {
	return v.Type() == TypeBytes
}

// Bytes represents a bencoded string of bytes. The payload
// is arbitrary binary data and may contain NUL bytes.
type Bytes []byte

func (b Bytes) Value() interface{} { return b }
func (b Bytes) Type() Type         { return TypeBytes }

func (b Bytes) ToDict() (*Dictionary, bool) { return nil, false }
func (b Bytes) ToList() (List, bool)        { return nil, false }
func (b Bytes) ToInteger() (Integer, bool)  { return Integer(0), false }
func (b Bytes) ToBytes() (Bytes, bool)      { return b, true }

// List represents a bencoded list
type List []Value

func (l List) Value() interface{} { return l }
func (l List) Type() Type         { return TypeList }

func (l List) ToDict() (*Dictionary, bool) { return nil, false }
func (l List) ToInteger() (Integer, bool)  { return Integer(0), false }
func (l List) ToBytes() (Bytes, bool)      { return nil, false }
func (l List) ToList() (List, bool)        { return l, true }

// Integer represents a bencoded integer
type Integer int64

func (i Integer) Value() interface{} { return i }
func (i Integer) Type() Type         { return TypeInteger }

func (i Integer) ToBytes() (Bytes, bool)      { return nil, false }
func (i Integer) ToDict() (*Dictionary, bool) { return nil, false }
func (i Integer) ToList() (List, bool)        { return nil, false }
func (i Integer) ToInteger() (Integer, bool)  { return i, true }

// Dictionary represents a bencoded dictionary. Keys are
// byte strings and retain the order in which they were
// inserted (or encountered while decoding), so a decoded
// dictionary re-encodes byte-for-byte.
type Dictionary struct {
	keys   []string
	values []Value
}

func (d *Dictionary) Value() interface{} {
	out := make(map[string]Value, len(d.keys))
	for i, key := range d.keys {
		out[key] = d.values[i]
	}

	return out
}

func (d *Dictionary) Type() Type { return TypeDict }

func (d *Dictionary) ToDict() (*Dictionary, bool) { return d, true }
func (d *Dictionary) ToList() (List, bool)        { return nil, false }
func (d *Dictionary) ToInteger() (Integer, bool)  { return Integer(0), false }
func (d *Dictionary) ToBytes() (Bytes, bool)      { return nil, false }

func (d *Dictionary) Get(key []byte) (Value, bool) {
	for i, k := range d.keys {
		if k == string(key) {
			return d.values[i], true
		}
	}

	return nil, false
}

func (d *Dictionary) GetString(key string) (string, bool) {
	v, ok := d.Get([]byte(key))
	if !ok {
		return "", false
	}

	b, ok := v.ToBytes()
	if !ok {
		return "", false
	}

	return string(b), true
}

func (d *Dictionary) GetInteger(key string) (Integer, bool) {
	v, ok := d.Get([]byte(key))
	if !ok {
		return 0, false
	}

	return v.ToInteger()
}

// Set inserts a key-value pair into the dictionary. If the
// key already exists its value is replaced in place and the
// key keeps its original position.
func (d *Dictionary) Set(key []byte, value Value) {
	for i, k := range d.keys {
		if k == string(key) {
			d.values[i] = value
			return
		}
	}

	d.keys = append(d.keys, string(key))
	d.values = append(d.values, value)
}

func (d *Dictionary) SetStringKey(key string, value Value) {
	d.Set([]byte(key), value)
}

func (d *Dictionary) Keys() [][]byte {
	out := make([][]byte, 0, len(d.keys))
	for _, key := range d.keys {
		out = append(out, []byte(key))
	}

	return out
}

func (d *Dictionary) Values() []Value {
	out := make([]Value, len(d.values))
	copy(out, d.values)

	return out
}

func (d *Dictionary) Len() int { return len(d.keys) }
