package swarm

import "fmt"

// Azureus-style peer-id tags: "-XX1234-" where XX names the
// client and the digits its version.
var dashID = map[string]string{
	"AZ": "Azureus",
	"DE": "Deluge",
	"JS": "JSTorrent",
	"LT": "libtorrent",
	"lt": "libTorrent",
	"qB": "qBittorrent",
	"TR": "Transmission",
	"UT": "µTorrent",
	"UW": "µTorrent Web",
	"WW": "WebTorrent",
}

// ClientName derives a human-readable client name from the
// 20-byte peer id. Unknown formats come back as "Unknown".
func ClientName(id []byte) string {
	if len(id) != 20 {
		return "Unknown"
	}

	// Mainline style: 'M' followed by dash-separated version.
	if id[0] == 'M' {
		return fmt.Sprintf("Mainline %s", versionUntilDashes(id[1:]))
	}

	if id[0] == '-' && id[7] == '-' {
		if name, ok := dashID[string(id[1:3])]; ok {
			return fmt.Sprintf("%s %c.%c.%c", name, id[3], id[4], id[5])
		}
	}

	return "Unknown"
}

func versionUntilDashes(b []byte) string {
	var out []byte
	for _, c := range b {
		if c == '-' {
			out = append(out, '.')
			continue
		}

		if c < '0' || c > '9' {
			break
		}

		out = append(out, c)
	}

	for len(out) > 0 && out[len(out)-1] == '.' {
		out = out[:len(out)-1]
	}

	return string(out)
}
