package pack

import (
	"encoding/binary"
	"net"
)

// AddInt appends an Int item.
func (p *Pack) AddInt(name string, value uint32) {
	p.items = append(p.items, &Item{Name: name, Type: TypeInt, Ints: []uint32{value}})
}

// AddInt64 appends an Int64 item.
func (p *Pack) AddInt64(name string, value uint64) {
	p.items = append(p.items, &Item{Name: name, Type: TypeInt64, Int64s: []uint64{value}})
}

// AddStr appends a Str item.
func (p *Pack) AddStr(name, value string) {
	p.items = append(p.items, &Item{Name: name, Type: TypeStr, Strs: []string{value}})
}

// AddUnistr appends a Unistr item.
func (p *Pack) AddUnistr(name, value string) {
	p.items = append(p.items, &Item{Name: name, Type: TypeUnistr, Strs: []string{value}})
}

// AddData appends a Data item.
func (p *Pack) AddData(name string, value []byte) {
	p.items = append(p.items, &Item{Name: name, Type: TypeData, Datas: [][]byte{value}})
}

// AddBool appends an Int item holding 0 or 1.
func (p *Pack) AddBool(name string, value bool) {
	v := uint32(0)
	if value {
		v = 1
	}
	p.AddInt(name, v)
}

// AddIPv4 appends an Int item holding the address octets in
// little-endian order (b0 | b1<<8 | b2<<16 | b3<<24).
func (p *Pack) AddIPv4(name string, ip net.IP) {
	p.AddInt(name, IPv4ToInt(ip))
}

// AddIPv6 appends the three companion items used to carry an IPv6
// address alongside an IPv4-shaped key.
func (p *Pack) AddIPv6(name string, ip net.IP, scopeID uint32) {
	p.AddBool(name+"@ipv6_bool", true)
	addr := make([]byte, 16)
	copy(addr, ip.To16())
	p.AddData(name+"@ipv6_array", addr)
	p.AddInt(name+"@ipv6_scope_id", scopeID)
}

// GetInt returns the first Int value for name, or zero.
func (p *Pack) GetInt(name string) uint32 {
	if it := p.find(name); it != nil && it.Type == TypeInt && len(it.Ints) > 0 {
		return it.Ints[0]
	}
	return 0
}

// GetInt64 returns the first Int64 value for name, or zero.
func (p *Pack) GetInt64(name string) uint64 {
	if it := p.find(name); it != nil && it.Type == TypeInt64 && len(it.Int64s) > 0 {
		return it.Int64s[0]
	}
	return 0
}

// GetStr returns the first Str or Unistr value for name, or "".
func (p *Pack) GetStr(name string) string {
	it := p.find(name)
	if it == nil {
		return ""
	}
	if (it.Type == TypeStr || it.Type == TypeUnistr) && len(it.Strs) > 0 {
		return it.Strs[0]
	}
	return ""
}

// GetData returns the first Data value for name, or nil.
func (p *Pack) GetData(name string) []byte {
	if it := p.find(name); it != nil && it.Type == TypeData && len(it.Datas) > 0 {
		return it.Datas[0]
	}
	return nil
}

// GetBool returns whether the first Int value for name is nonzero.
func (p *Pack) GetBool(name string) bool {
	return p.GetInt(name) != 0
}

// GetIPv4 returns the first Int value for name decoded as an IPv4
// address, or nil when the item is absent.
func (p *Pack) GetIPv4(name string) net.IP {
	it := p.find(name)
	if it == nil || it.Type != TypeInt || len(it.Ints) == 0 {
		return nil
	}
	return IntToIPv4(it.Ints[0])
}

// Has returns whether an item with the given name exists.
func (p *Pack) Has(name string) bool {
	return p.find(name) != nil
}

// IPv4ToInt encodes an IPv4 address per the pack convention: octets
// in little-endian order.
func IPv4ToInt(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(ip4)
}

// IntToIPv4 decodes the pack IPv4 integer representation.
func IntToIPv4(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.LittleEndian.PutUint32(ip, v)
	return ip
}
