package amf

import (
	"fmt"
	"time"

	"github.com/ssungk/rtmpc/pkg/bin"
)

// Decoder reads values from a byte slice. Every value read through one
// Decoder shares the reference tables of its Session.
type Decoder struct {
	r     *bin.Reader
	s     *Session
	depth int
}

// NewDecoder creates a decoder over data with a fresh session
func NewDecoder(data []byte, registry TypeRegistry) *Decoder {
	return NewSessionDecoder(data, NewSession(registry))
}

// NewSessionDecoder creates a decoder reading within an existing session
func NewSessionDecoder(data []byte, s *Session) *Decoder {
	return &Decoder{r: bin.NewReader(data), s: s}
}

// Reader exposes the underlying reader to externalizable types
func (d *Decoder) Reader() *bin.Reader {
	return d.r
}

// Session returns the decoder's session
func (d *Decoder) Session() *Session {
	return d.s
}

// Len returns the number of unread bytes
func (d *Decoder) Len() int {
	return d.r.Len()
}

// DecodeAMF0Sequence decodes values until data is exhausted
func DecodeAMF0Sequence(data []byte) ([]any, error) {
	d := NewDecoder(data, nil)
	var values []any
	for d.Len() > 0 {
		v, err := d.DecodeAMF0()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeAMF3Sequence decodes values until data is exhausted
func DecodeAMF3Sequence(data []byte) ([]any, error) {
	d := NewDecoder(data, nil)
	var values []any
	for d.Len() > 0 {
		v, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeAMF0 decodes a single AMF0 value.
func (d *Decoder) DecodeAMF0() (any, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxNesting {
		return nil, ErrNestingTooDeep
	}

	marker, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch marker {
	case numberMarker:
		return d.r.ReadFloat64()
	case booleanMarker:
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case stringMarker:
		return d.r.ReadUTF()
	case longStringMarker:
		return d.r.ReadLongUTF()
	case objectMarker:
		return d.readAMF0Object("")
	case typedObjectMarker:
		name, err := d.r.ReadUTF()
		if err != nil {
			return nil, err
		}
		return d.readAMF0Object(name)
	case nullMarker:
		return nil, nil
	case undefinedMarker, unsupportedMarker:
		return Undefined{}, nil
	case referenceMarker:
		idx, err := d.r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return d.amf0Ref(int(idx))
	case ecmaArrayMarker:
		return d.readAMF0ECMAArray()
	case strictArrayMarker:
		return d.readAMF0StrictArray()
	case dateMarker:
		millis, err := d.r.ReadFloat64()
		if err != nil {
			return nil, err
		}
		// timezone, ignored
		if _, err := d.r.ReadInt16(); err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(millis)), nil
	case xmlDocumentMarker:
		s, err := d.r.ReadLongUTF()
		if err != nil {
			return nil, err
		}
		return XMLDocument(s), nil
	case avmPlusMarker:
		return d.DecodeAMF3()
	default:
		return nil, fmt.Errorf("%w: AMF0 0x%02x", ErrUnsupportedMarker, marker)
	}
}

func (d *Decoder) amf0Ref(idx int) (any, error) {
	objs := d.s.amf0Objects
	if idx >= len(objs) {
		return nil, fmt.Errorf("%w: AMF0 object %d of %d", ErrInvalidReference, idx, len(objs))
	}
	if _, ok := objs[idx].(reservation); ok {
		return nil, fmt.Errorf("%w: AMF0 object %d", ErrUnsupportedCyclicReference, idx)
	}
	return objs[idx], nil
}

func (d *Decoder) reserveAMF0() int {
	d.s.amf0Objects = append(d.s.amf0Objects, reservation{})
	return len(d.s.amf0Objects) - 1
}

// readAMF0Properties reads name/value pairs up to the object end marker
func (d *Decoder) readAMF0Properties(set func(key string, v any) error) error {
	for {
		key, err := d.r.ReadUTF()
		if err != nil {
			return err
		}
		if key == "" {
			end, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			if end != objectEndMarker {
				return fmt.Errorf("%w: expected object end, got 0x%02x", ErrUnsupportedMarker, end)
			}
			return nil
		}
		v, err := d.DecodeAMF0()
		if err != nil {
			return err
		}
		if err := set(key, v); err != nil {
			return err
		}
	}
}

// readAMF0Object reads an anonymous (empty name) or typed object
func (d *Decoder) readAMF0Object(name string) (any, error) {
	idx := d.reserveAMF0()
	reg := d.s.registry

	if name != "" && reg.CanCreate(name) {
		inst, err := reg.Create(name)
		if err != nil {
			return nil, err
		}
		err = d.readAMF0Properties(func(key string, v any) error {
			return reg.SetMember(inst, key, v)
		})
		if err != nil {
			return nil, err
		}
		d.s.amf0Objects[idx] = inst
		return inst, nil
	}
	if name != "" && !reg.AnonymousFallback() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}

	obj := NewObject()
	err := d.readAMF0Properties(func(key string, v any) error {
		obj.Set(key, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if name != "" {
		obj.Trait = &ClassTrait{Name: name, Members: append([]string(nil), obj.Keys()...)}
	}
	d.s.amf0Objects[idx] = obj
	return obj, nil
}

func (d *Decoder) readAMF0ECMAArray() (any, error) {
	// the count is a hint only; the end marker terminates
	if _, err := d.r.ReadUint32(); err != nil {
		return nil, err
	}
	idx := d.reserveAMF0()
	arr := make(ECMAArray)
	err := d.readAMF0Properties(func(key string, v any) error {
		arr[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.s.amf0Objects[idx] = arr
	return arr, nil
}

func (d *Decoder) readAMF0StrictArray() (any, error) {
	n, err := d.r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(d.r.Len()) {
		return nil, fmt.Errorf("%w: %d elements declared, %d bytes left", bin.ErrUnexpectedEndOfData, n, d.r.Len())
	}
	idx := d.reserveAMF0()
	items := make([]any, n)
	for i := range items {
		if items[i], err = d.DecodeAMF0(); err != nil {
			return nil, err
		}
	}
	d.s.amf0Objects[idx] = items
	return items, nil
}
