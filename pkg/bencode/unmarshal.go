package bencode

import (
	"errors"
	"fmt"
	"strconv"
)

// Decode errors. Every malformed input maps onto exactly
// one of these; callers match with errors.Is.
var (
	ErrMalformedInteger      = errors.New("bencode: malformed integer")
	ErrTruncatedString       = errors.New("bencode: truncated string")
	ErrUnterminatedContainer = errors.New("bencode: unterminated container")
	ErrTrailingData          = errors.New("bencode: trailing data after top-level value")
	ErrInvalidTypeMarker     = errors.New("bencode: invalid type marker")
)

type unmarshaler struct {
	data []byte
	pos  int
}

// Unmarshal parses a single bencoded value from data and
// stores the result in the value pointed to by v. The whole
// input must be consumed: any bytes remaining after the
// top-level value make the decode fail, and no partial
// result is ever returned.
func Unmarshal(data []byte, v *Value) error {
	u := unmarshaler{data: data}

	val, err := u.unmarshal()
	if err != nil {
		return err
	}

	if u.pos != len(u.data) {
		return fmt.Errorf("%w: %d bytes at offset %d", ErrTrailingData, len(u.data)-u.pos, u.pos)
	}

	*v = val
	return nil
}

func (u *unmarshaler) unmarshal() (Value, error) {
	if u.pos >= len(u.data) {
		return nil, fmt.Errorf("%w: unexpected end of input at offset %d", ErrInvalidTypeMarker, u.pos)
	}

	switch b := u.data[u.pos]; {
	case b == 'i':
		return u.unmarshalInt()
	case b == 'l':
		return u.unmarshalList()
	case b == 'd':
		return u.unmarshalDict()
	case b >= '0' && b <= '9':
		return u.unmarshalBytes()
	default:
		return nil, fmt.Errorf("%w: %q at offset %d", ErrInvalidTypeMarker, b, u.pos)
	}
}

func (u *unmarshaler) unmarshalInt() (Value, error) {
	start := u.pos
	u.pos++ // 'i'

	end := u.pos
	for end < len(u.data) && u.data[end] != 'e' {
		end++
	}

	if end == len(u.data) {
		return nil, fmt.Errorf("%w: missing terminator at offset %d", ErrMalformedInteger, start)
	}

	span := string(u.data[u.pos:end])
	if !validIntegerSpan(span) {
		return nil, fmt.Errorf("%w: %q at offset %d", ErrMalformedInteger, span, start)
	}

	n, err := strconv.ParseInt(span, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q at offset %d", ErrMalformedInteger, span, start)
	}

	u.pos = end + 1
	return Integer(n), nil
}

// validIntegerSpan checks the textual form before numeric
// conversion: at least one digit, no leading zeros, no -0.
func validIntegerSpan(s string) bool {
	if s == "" {
		return false
	}

	digits := s
	if s[0] == '-' {
		digits = s[1:]
		if digits == "" || digits[0] == '0' {
			return false
		}
	}

	if len(digits) > 1 && digits[0] == '0' {
		return false
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}

	return true
}

func (u *unmarshaler) unmarshalBytes() (Value, error) {
	start := u.pos

	end := u.pos
	for end < len(u.data) && u.data[end] >= '0' && u.data[end] <= '9' {
		end++
	}

	if end == len(u.data) || u.data[end] != ':' {
		return nil, fmt.Errorf("%w: missing length separator at offset %d", ErrTruncatedString, start)
	}

	span := string(u.data[u.pos:end])
	if len(span) > 1 && span[0] == '0' {
		return nil, fmt.Errorf("%w: leading zero in string length at offset %d", ErrMalformedInteger, start)
	}

	length, err := strconv.ParseInt(span, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: string length %q at offset %d", ErrMalformedInteger, span, start)
	}

	u.pos = end + 1
	if int64(len(u.data)-u.pos) < length {
		return nil, fmt.Errorf("%w: declared %d bytes, %d remain at offset %d", ErrTruncatedString, length, len(u.data)-u.pos, start)
	}

	out := make(Bytes, length)
	copy(out, u.data[u.pos:u.pos+int(length)])
	u.pos += int(length)

	return out, nil
}

func (u *unmarshaler) unmarshalList() (Value, error) {
	start := u.pos
	u.pos++ // 'l'

	list := List{}
	for {
		if u.pos >= len(u.data) {
			return nil, fmt.Errorf("%w: list opened at offset %d", ErrUnterminatedContainer, start)
		}

		if u.data[u.pos] == 'e' {
			u.pos++
			return list, nil
		}

		item, err := u.unmarshal()
		if err != nil {
			return nil, err
		}

		list = append(list, item)
	}
}

func (u *unmarshaler) unmarshalDict() (Value, error) {
	start := u.pos
	u.pos++ // 'd'

	var dict Dictionary
	for {
		if u.pos >= len(u.data) {
			return nil, fmt.Errorf("%w: dictionary opened at offset %d", ErrUnterminatedContainer, start)
		}

		if u.data[u.pos] == 'e' {
			u.pos++
			return &dict, nil
		}

		// Keys must be byte strings.
		if b := u.data[u.pos]; b < '0' || b > '9' {
			return nil, fmt.Errorf("%w: non-string dictionary key %q at offset %d", ErrInvalidTypeMarker, b, u.pos)
		}

		key, err := u.unmarshalBytes()
		if err != nil {
			return nil, err
		}

		if u.pos >= len(u.data) {
			return nil, fmt.Errorf("%w: dictionary opened at offset %d", ErrUnterminatedContainer, start)
		}

		val, err := u.unmarshal()
		if err != nil {
			return nil, err
		}

		kb, _ := key.ToBytes()
		dict.Set(kb, val)
	}
}
