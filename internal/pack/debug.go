package pack

import (
	"fmt"
	"strings"

	"github.com/raa-org/sevpn/internal/bytesx"
)

// debugAllowlist enumerates the keys whose values are safe to print.
// Everything else is redacted: credentials, keys, cookies, and raw
// payloads must never reach the logs.
var debugAllowlist = map[string]bool{
	"method":                           true,
	"hubname":                          true,
	"username":                         true,
	"protocol":                         true,
	"authtype":                         true,
	"use_encrypt":                      true,
	"use_compress":                     true,
	"max_connection":                   true,
	"half_connection":                  true,
	"qos":                              true,
	"client_str":                       true,
	"client_ver":                       true,
	"client_build":                     true,
	"hello":                            true,
	"version":                          true,
	"build":                            true,
	"error":                            true,
	"session_name":                     true,
	"connection_name":                  true,
	"timeout":                          true,
	"enable_udp_recovery":              true,
	"use_udp_acceleration":             true,
	"udp_acceleration_version":         true,
	"udp_accel_fast_disconnect_detect": true,
	"use_hmac_on_udp_acceleration":     true,
}

// DebugString renders the pack for logging. Values for keys outside
// the allowlist are replaced by a marker naming the item type and
// value count.
func (p *Pack) DebugString() string {
	var b strings.Builder
	b.WriteString("pack{")
	for i, it := range p.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(it.Name)
		b.WriteString("=")
		if !debugAllowlist[it.Name] {
			fmt.Fprintf(&b, "<redacted %s x%d>", it.Type, it.numValues())
			continue
		}
		switch it.Type {
		case TypeInt:
			fmt.Fprintf(&b, "%v", it.Ints)
		case TypeInt64:
			fmt.Fprintf(&b, "%v", it.Int64s)
		case TypeStr, TypeUnistr:
			fmt.Fprintf(&b, "%q", it.Strs)
		case TypeData:
			for j, d := range it.Datas {
				if j > 0 {
					b.WriteString("|")
				}
				b.WriteString(bytesx.HexPrefix(d, 16))
			}
		}
	}
	b.WriteString("}")
	return b.String()
}
