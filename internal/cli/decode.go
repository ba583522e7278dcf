package cli

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/nvensby/btcore/pkg/bencode"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a bencoded file and print its structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var v bencode.Value
		if err := bencode.Unmarshal(data, &v); err != nil {
			return err
		}

		fmt.Println(render(v, 0))
		return nil
	},
}

// render prints a decoded value with binary payloads
// abbreviated, since info dictionaries embed raw piece
// hashes.
func render(v bencode.Value, depth int) string {
	pad := strings.Repeat("  ", depth)

	if i, ok := v.ToInteger(); ok {
		return fmt.Sprintf("%d", int64(i))
	}

	if b, ok := v.ToBytes(); ok {
		if printable(b) && len(b) <= 80 {
			return fmt.Sprintf("%q", string(b))
		}
		return fmt.Sprintf("<%d bytes>", len(b))
	}

	if l, ok := v.ToList(); ok {
		if len(l) == 0 {
			return "[]"
		}

		var sb strings.Builder
		sb.WriteString("[\n")
		for _, item := range l {
			fmt.Fprintf(&sb, "%s  %s\n", pad, render(item, depth+1))
		}
		sb.WriteString(pad + "]")

		return sb.String()
	}

	if d, ok := v.ToDict(); ok {
		if d.Len() == 0 {
			return "{}"
		}

		var sb strings.Builder
		sb.WriteString("{\n")
		values := d.Values()
		for i, key := range d.Keys() {
			fmt.Fprintf(&sb, "%s  %q: %s\n", pad, string(key), render(values[i], depth+1))
		}
		sb.WriteString(pad + "}")

		return sb.String()
	}

	return "<?>"
}

func printable(b []byte) bool {
	for _, r := range string(b) {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			return false
		}
	}

	return true
}
