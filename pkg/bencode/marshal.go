package bencode

import (
	"bytes"
	"fmt"
	"io"
)

type Marshaler struct {
	w io.Writer
}

func NewMarshaler(w io.Writer) *Marshaler {
	return &Marshaler{w: w}
}

func (m *Marshaler) Marshal(v Value) (int, error) {
	if i, ok := v.ToInteger(); ok {
		return m.encodeInt(i)
	}

	if b, ok := v.ToBytes(); ok {
		return m.encodeBytes(b)
	}

	if l, ok := v.ToList(); ok {
		return m.encodeList(l)
	}

	if d, ok := v.ToDict(); ok {
		return m.encodeDict(d)
	}

	return 0, fmt.Errorf("bencode: cannot marshal value of type %d", v.Type())
}

func (m *Marshaler) encodeInt(i Integer) (int, error) {
	return fmt.Fprintf(m.w, "i%de", int64(i))
}

func (m *Marshaler) encodeBytes(b []byte) (int, error) {
	return fmt.Fprintf(m.w, "%d:%s", len(b), b)
}

func (m *Marshaler) encodeList(v List) (int, error) {
	var nBytes int

	n, err := m.w.Write([]byte("l"))
	nBytes += n
	if err != nil {
		return nBytes, err
	}

	for _, item := range v {
		n, err := m.Marshal(item)
		nBytes += n
		if err != nil {
			return nBytes, err
		}
	}

	n, err = m.w.Write([]byte("e"))
	nBytes += n

	return nBytes, err
}

// encodeDict writes keys in the order the dictionary holds
// them; no canonical re-sort, so decode-then-encode is
// byte-identical for valid input.
func (m *Marshaler) encodeDict(d *Dictionary) (int, error) {
	var nBytes int

	n, err := m.w.Write([]byte("d"))
	nBytes += n
	if err != nil {
		return nBytes, err
	}

	for i, k := range d.keys {
		n, err := m.encodeBytes([]byte(k))
		nBytes += n
		if err != nil {
			return nBytes, err
		}

		n, err = m.Marshal(d.values[i])
		nBytes += n
		if err != nil {
			return nBytes, err
		}
	}

	n, err = m.w.Write([]byte("e"))
	nBytes += n

	return nBytes, err
}

// Marshal returns the bencoded form of v.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer

	_, err := NewMarshaler(&buf).Marshal(v)

	return buf.Bytes(), err
}
