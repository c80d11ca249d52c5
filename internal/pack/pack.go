// Package pack implements the SoftEther Pack container, the
// tag/type/value format carried by the control-plane messages of the
// handshake.
package pack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ItemType is the wire type tag of a pack item.
type ItemType uint32

const (
	// TypeInt is an unsigned 32-bit integer value.
	TypeInt = ItemType(0)

	// TypeData is an opaque byte string value.
	TypeData = ItemType(1)

	// TypeStr is an UTF-8 string value.
	TypeStr = ItemType(2)

	// TypeUnistr is an UTF-8 string value using the "unicode" tag.
	TypeUnistr = ItemType(3)

	// TypeInt64 is an unsigned 64-bit integer value.
	TypeInt64 = ItemType(4)
)

// String implements fmt.Stringer.
func (t ItemType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeData:
		return "data"
	case TypeStr:
		return "str"
	case TypeUnistr:
		return "unistr"
	case TypeInt64:
		return "int64"
	default:
		return "invalid"
	}
}

const (
	// maxItemName is the maximum name length after NUL stripping.
	maxItemName = 63

	// maxValueNum is the maximum number of values per item.
	maxValueNum = 262144

	// maxItemNum is the maximum number of items per pack.
	maxItemNum = 262144

	// maxValueSize bounds a single data or string value.
	maxValueSize = 64 * 1024 * 1024
)

// ErrMarshalPack is the error returned when we cannot serialize a pack.
var ErrMarshalPack = errors.New("pack: cannot marshal")

// ErrParsePack is the error returned when we cannot parse a pack.
var ErrParsePack = errors.New("pack: parse error")

// Item is a single named entry of a [Pack]. An item holds one or more
// values, all of the same type.
type Item struct {
	// Name is the ASCII item name.
	Name string

	// Type is the wire type of all values of this item.
	Type ItemType

	// Ints holds the values when Type is TypeInt.
	Ints []uint32

	// Int64s holds the values when Type is TypeInt64.
	Int64s []uint64

	// Datas holds the values when Type is TypeData.
	Datas [][]byte

	// Strs holds the values when Type is TypeStr or TypeUnistr.
	Strs []string
}

// numValues returns the number of values carried by the item.
func (it *Item) numValues() int {
	switch it.Type {
	case TypeInt:
		return len(it.Ints)
	case TypeInt64:
		return len(it.Int64s)
	case TypeData:
		return len(it.Datas)
	case TypeStr, TypeUnistr:
		return len(it.Strs)
	default:
		return 0
	}
}

// Pack is an ordered sequence of items. Keys are unique by
// convention; lookups return the first match.
type Pack struct {
	items []*Item
}

// New creates an empty [Pack].
func New() *Pack {
	return &Pack{}
}

// Items returns the items in insertion order.
func (p *Pack) Items() []*Item {
	return p.items
}

// find returns the first item with the given name, or nil.
func (p *Pack) find(name string) *Item {
	for _, it := range p.items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

// Marshal serializes the pack. All integers are big endian. The item
// name is stored as length+1 followed by the name bytes without the
// trailing NUL, mirroring the historical format.
func (p *Pack) Marshal() ([]byte, error) {
	if len(p.items) > maxItemNum {
		return nil, fmt.Errorf("%w: too many items", ErrMarshalPack)
	}
	buf := &bytes.Buffer{}
	writeUint32(buf, uint32(len(p.items)))
	for _, it := range p.items {
		if len(it.Name) == 0 || len(it.Name) > maxItemName {
			return nil, fmt.Errorf("%w: bad item name %q", ErrMarshalPack, it.Name)
		}
		count := it.numValues()
		if count == 0 || count > maxValueNum {
			return nil, fmt.Errorf("%w: bad value count for %q", ErrMarshalPack, it.Name)
		}
		writeUint32(buf, uint32(len(it.Name)+1))
		buf.WriteString(it.Name)
		writeUint32(buf, uint32(it.Type))
		writeUint32(buf, uint32(count))
		switch it.Type {
		case TypeInt:
			for _, v := range it.Ints {
				writeUint32(buf, v)
			}
		case TypeInt64:
			for _, v := range it.Int64s {
				var b [8]byte
				binary.BigEndian.PutUint64(b[:], v)
				buf.Write(b[:])
			}
		case TypeData:
			for _, v := range it.Datas {
				if len(v) > maxValueSize {
					return nil, fmt.Errorf("%w: oversized data value for %q", ErrMarshalPack, it.Name)
				}
				writeUint32(buf, uint32(len(v)))
				buf.Write(v)
			}
		case TypeStr, TypeUnistr:
			for _, v := range it.Strs {
				if len(v) > maxValueSize {
					return nil, fmt.Errorf("%w: oversized string value for %q", ErrMarshalPack, it.Name)
				}
				writeUint32(buf, uint32(len(v)))
				buf.WriteString(v)
			}
		default:
			return nil, fmt.Errorf("%w: unknown type %d for %q", ErrMarshalPack, it.Type, it.Name)
		}
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a serialized pack, bound-checking every length.
//
// Note the length asymmetry inherited from the original format: the
// name length field includes a trailing NUL that is not part of the
// name bytes, while string value lengths count the bytes verbatim.
func Unmarshal(data []byte) (*Pack, error) {
	r := &reader{data: data}
	itemCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if itemCount > maxItemNum {
		return nil, fmt.Errorf("%w: too many items (%d)", ErrParsePack, itemCount)
	}
	p := New()
	for i := uint32(0); i < itemCount; i++ {
		nameLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if nameLen == 0 || nameLen > maxItemName+1 {
			return nil, fmt.Errorf("%w: bad name length %d", ErrParsePack, nameLen)
		}
		nameBytes, err := r.take(int(nameLen - 1))
		if err != nil {
			return nil, err
		}
		if idx := bytes.IndexByte(nameBytes, 0); idx >= 0 {
			nameBytes = nameBytes[:idx]
		}
		typeTag, err := r.uint32()
		if err != nil {
			return nil, err
		}
		valueCount, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if valueCount > maxValueNum {
			return nil, fmt.Errorf("%w: too many values (%d)", ErrParsePack, valueCount)
		}
		it := &Item{Name: string(nameBytes), Type: ItemType(typeTag)}
		for j := uint32(0); j < valueCount; j++ {
			switch it.Type {
			case TypeInt:
				v, err := r.uint32()
				if err != nil {
					return nil, err
				}
				it.Ints = append(it.Ints, v)
			case TypeInt64:
				b, err := r.take(8)
				if err != nil {
					return nil, err
				}
				it.Int64s = append(it.Int64s, binary.BigEndian.Uint64(b))
			case TypeData:
				size, err := r.uint32()
				if err != nil {
					return nil, err
				}
				if size > maxValueSize {
					return nil, fmt.Errorf("%w: oversized data value", ErrParsePack)
				}
				b, err := r.take(int(size))
				if err != nil {
					return nil, err
				}
				it.Datas = append(it.Datas, append([]byte(nil), b...))
			case TypeStr, TypeUnistr:
				size, err := r.uint32()
				if err != nil {
					return nil, err
				}
				if size > maxValueSize {
					return nil, fmt.Errorf("%w: oversized string value", ErrParsePack)
				}
				b, err := r.take(int(size))
				if err != nil {
					return nil, err
				}
				it.Strs = append(it.Strs, string(b))
			default:
				return nil, fmt.Errorf("%w: unknown type %d", ErrParsePack, typeTag)
			}
		}
		p.items = append(p.items, it)
	}
	return p, nil
}

// reader is a bound-checked cursor over a byte slice.
type reader struct {
	data []byte
	off  int
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, fmt.Errorf("%w: truncated input", ErrParsePack)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
