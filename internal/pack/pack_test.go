package pack

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPackRoundTrip(t *testing.T) {
	p := New()
	p.AddStr("method", "login")
	p.AddStr("hubname", "DEFAULT")
	p.AddInt("authtype", 1)
	p.AddInt64("tick64", 0xDEADBEEFCAFEBABE)
	p.AddData("random", bytes.Repeat([]byte{0xAB}, 20))
	p.AddUnistr("banner", "hello")
	p.AddBool("use_encrypt", true)
	p.AddIPv4("server_ip", net.IPv4(10, 0, 0, 1))

	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p.Items(), got.Items()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPackMultiValueRoundTrip(t *testing.T) {
	p := New()
	p.items = append(p.items, &Item{
		Name: "port",
		Type: TypeInt,
		Ints: []uint32{443, 992, 5555},
	})
	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{443, 992, 5555}, got.Items()[0].Ints); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

// The name length field counts a historical trailing NUL that is not
// written, while string value lengths count the bytes verbatim.
func TestPackNameLengthAsymmetry(t *testing.T) {
	p := New()
	p.AddStr("abc", "xyz")
	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	// item_count(4) then name_len_plus_one
	nameLen := binary.BigEndian.Uint32(raw[4:8])
	if nameLen != 4 {
		t.Fatalf("name length field = %d, want 4", nameLen)
	}
	if string(raw[8:11]) != "abc" {
		t.Fatalf("name bytes = %q", raw[8:11])
	}
	// type(4) value_count(4) then the string length, verbatim
	strLen := binary.BigEndian.Uint32(raw[19:23])
	if strLen != 3 {
		t.Fatalf("string length field = %d, want 3", strLen)
	}
}

func TestPackFirstValueWins(t *testing.T) {
	p := New()
	p.AddInt("k", 1)
	p.AddInt("k", 2)
	if got := p.GetInt("k"); got != 1 {
		t.Fatalf("GetInt = %d, want 1", got)
	}
}

func TestPackIPv4LittleEndian(t *testing.T) {
	ip := net.IPv4(10, 0, 0, 5)
	v := IPv4ToInt(ip)
	want := uint32(10) | 0<<8 | 0<<16 | 5<<24
	if v != want {
		t.Fatalf("IPv4ToInt = %08x, want %08x", v, want)
	}
	if got := IntToIPv4(v); !got.Equal(ip) {
		t.Fatalf("IntToIPv4 = %s, want %s", got, ip)
	}
}

func TestPackUnmarshalBounds(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty input", []byte{}},
		{"truncated item count", []byte{0, 0}},
		{"absurd item count", []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"truncated name", []byte{
			0, 0, 0, 1, // one item
			0, 0, 0, 10, // name len 10
			'a', 'b', // short
		}},
		{"zero name length", []byte{
			0, 0, 0, 1,
			0, 0, 0, 0,
		}},
		{"oversized value count", func() []byte {
			buf := &bytes.Buffer{}
			_ = binary.Write(buf, binary.BigEndian, uint32(1))
			_ = binary.Write(buf, binary.BigEndian, uint32(2))
			buf.WriteString("k")
			_ = binary.Write(buf, binary.BigEndian, uint32(TypeInt))
			_ = binary.Write(buf, binary.BigEndian, uint32(maxValueNum+1))
			return buf.Bytes()
		}()},
		{"truncated data value", func() []byte {
			buf := &bytes.Buffer{}
			_ = binary.Write(buf, binary.BigEndian, uint32(1))
			_ = binary.Write(buf, binary.BigEndian, uint32(2))
			buf.WriteString("k")
			_ = binary.Write(buf, binary.BigEndian, uint32(TypeData))
			_ = binary.Write(buf, binary.BigEndian, uint32(1))
			_ = binary.Write(buf, binary.BigEndian, uint32(100))
			buf.WriteString("short")
			return buf.Bytes()
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.raw); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestPackDebugStringRedacts(t *testing.T) {
	p := New()
	p.AddStr("method", "login")
	p.AddData("secure_password", bytes.Repeat([]byte{0x42}, 20))
	out := p.DebugString()
	if !strings.Contains(out, `method=["login"]`) {
		t.Errorf("allowlisted key not printed: %s", out)
	}
	if strings.Contains(out, "4242") {
		t.Errorf("secret leaked into debug output: %s", out)
	}
	if !strings.Contains(out, "secure_password=<redacted") {
		t.Errorf("missing redaction marker: %s", out)
	}
}

func TestPackIPv6Companions(t *testing.T) {
	p := New()
	ip := net.ParseIP("fe80::1")
	p.AddIPv6("server_ip", ip, 3)
	if !p.GetBool("server_ip@ipv6_bool") {
		t.Fatal("missing ipv6 bool")
	}
	arr := p.GetData("server_ip@ipv6_array")
	if len(arr) != 16 || !net.IP(arr).Equal(ip) {
		t.Fatalf("bad ipv6 array: %v", arr)
	}
	if got := p.GetInt("server_ip@ipv6_scope_id"); got != 3 {
		t.Fatalf("scope id = %d", got)
	}
}
