package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalValid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		want  Value
	}{
		{name: "integer", input: "i42e", want: Integer(42)},
		{name: "zero", input: "i0e", want: Integer(0)},
		{name: "negative", input: "i-42e", want: Integer(-42)},
		{name: "max int64", input: "i9223372036854775807e", want: Integer(9223372036854775807)},
		{name: "min int64", input: "i-9223372036854775808e", want: Integer(-9223372036854775808)},
		{name: "string", input: "4:spam", want: Bytes("spam")},
		{name: "empty string", input: "0:", want: Bytes("")},
		{name: "string with NUL", input: "3:a\x00b", want: Bytes{'a', 0, 'b'}},
		{name: "empty list", input: "le", want: List{}},
		{name: "list of ints", input: "li1ei2ei3ee", want: List{Integer(1), Integer(2), Integer(3)}},
		{name: "nested list", input: "ll4:spamee", want: List{List{Bytes("spam")}}},
		{name: "empty dict", input: "de", want: &Dictionary{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var v Value
			err := Unmarshal([]byte(tc.input), &v)

			require.NoError(t, err)
			require.Equal(t, tc.want, v)
		})
	}
}

func TestUnmarshalDict(t *testing.T) {
	var v Value
	err := Unmarshal([]byte("d3:bar4:spam3:fooi42ee"), &v)
	require.NoError(t, err)

	d, ok := v.ToDict()
	require.True(t, ok)
	require.Equal(t, 2, d.Len())

	bar, ok := d.GetString("bar")
	require.True(t, ok)
	require.Equal(t, "spam", bar)

	foo, ok := d.GetInteger("foo")
	require.True(t, ok)
	require.Equal(t, Integer(42), foo)

	_, ok = d.Get([]byte("baz"))
	require.False(t, ok)
}

func TestUnmarshalRejects(t *testing.T) {
	for _, tc := range []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "leading zero", input: "i03e", wantErr: ErrMalformedInteger},
		{name: "negative zero", input: "i-0e", wantErr: ErrMalformedInteger},
		{name: "negative leading zero", input: "i-03e", wantErr: ErrMalformedInteger},
		{name: "truncated integer", input: "i42", wantErr: ErrMalformedInteger},
		{name: "empty integer", input: "ie", wantErr: ErrMalformedInteger},
		{name: "bare minus", input: "i-e", wantErr: ErrMalformedInteger},
		{name: "non-digit integer", input: "i4x2e", wantErr: ErrMalformedInteger},
		{name: "integer overflow", input: "i9223372036854775808e", wantErr: ErrMalformedInteger},
		{name: "truncated string", input: "10:short", wantErr: ErrTruncatedString},
		{name: "missing colon", input: "4spam", wantErr: ErrTruncatedString},
		{name: "leading zero length", input: "01:x", wantErr: ErrMalformedInteger},
		{name: "unterminated list", input: "li1ei2e", wantErr: ErrUnterminatedContainer},
		{name: "unterminated dict", input: "d3:fooi1e", wantErr: ErrUnterminatedContainer},
		{name: "dict missing value", input: "d3:foo", wantErr: ErrUnterminatedContainer},
		{name: "non-string dict key", input: "di1ei2ee", wantErr: ErrInvalidTypeMarker},
		{name: "trailing bytes", input: "i42eextra", wantErr: ErrTrailingData},
		{name: "trailing after list", input: "lee", wantErr: ErrTrailingData},
		{name: "invalid marker", input: "x", wantErr: ErrInvalidTypeMarker},
		{name: "empty input", input: "", wantErr: ErrInvalidTypeMarker},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var v Value
			err := Unmarshal([]byte(tc.input), &v)

			require.Error(t, err)
			require.ErrorIs(t, err, tc.wantErr)
			require.Nil(t, v)
		})
	}
}
