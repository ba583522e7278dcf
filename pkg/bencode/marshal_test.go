package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	dict := &Dictionary{}
	dict.SetStringKey("announce", Bytes("udp://tracker.example.com:6969"))
	dict.SetStringKey("length", Integer(12345))

	for _, tc := range []struct {
		name  string
		value Value
		want  string
	}{
		{name: "integer", value: Integer(42), want: "i42e"},
		{name: "negative", value: Integer(-7), want: "i-7e"},
		{name: "string", value: Bytes("spam"), want: "4:spam"},
		{name: "empty string", value: Bytes(""), want: "0:"},
		{name: "list", value: List{Integer(1), Bytes("a")}, want: "li1e1:ae"},
		{name: "dict", value: dict, want: "d8:announce30:udp://tracker.example.com:69696:lengthi12345ee"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.value)

			require.NoError(t, err)
			require.Equal(t, tc.want, string(got))
		})
	}
}

// Encoding a decoded value must reproduce the input
// byte-for-byte, including non-sorted dictionary keys.
func TestRoundTrip(t *testing.T) {
	for _, input := range []string{
		"i42e",
		"i-1e",
		"0:",
		"4:spam",
		"le",
		"li1ei2ei3ee",
		"d3:bar4:spam3:fooi42ee",
		"d3:zzz1:a3:aaa1:be", // keys out of lexicographic order
		"d4:infod5:filesld6:lengthi1eeeee",
		"ll4:spamli9223372036854775807eeee",
	} {
		var v Value
		require.NoError(t, Unmarshal([]byte(input), &v), input)

		out, err := Marshal(v)
		require.NoError(t, err, input)
		require.Equal(t, input, string(out))
	}
}

func TestDictionaryOrder(t *testing.T) {
	d := &Dictionary{}
	d.SetStringKey("b", Integer(1))
	d.SetStringKey("a", Integer(2))
	d.SetStringKey("b", Integer(3)) // replaces in place

	require.Equal(t, [][]byte{[]byte("b"), []byte("a")}, d.Keys())

	got, ok := d.GetInteger("b")
	require.True(t, ok)
	require.Equal(t, Integer(3), got)
}
