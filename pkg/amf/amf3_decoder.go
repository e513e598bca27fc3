package amf

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ssungk/rtmpc/pkg/bin"
)

// DecodeAMF3 decodes a single AMF3 value.
func (d *Decoder) DecodeAMF3() (any, error) {
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
	case amf3UndefinedMarker:
		return Undefined{}, nil
	case amf3NullMarker:
		return nil, nil
	case amf3FalseMarker:
		return false, nil
	case amf3TrueMarker:
		return true, nil
	case amf3IntegerMarker:
		return d.readAMF3Integer()
	case amf3DoubleMarker:
		return d.r.ReadFloat64()
	case amf3StringMarker:
		return d.readAMF3String()
	case amf3XMLDocMarker:
		return d.readAMF3Text(func(s string) any { return XMLDocument(s) })
	case amf3DateMarker:
		return d.readAMF3Date()
	case amf3ArrayMarker:
		return d.readAMF3Array()
	case amf3ObjectMarker:
		return d.readAMF3Object()
	case amf3XMLMarker:
		return d.readAMF3Text(func(s string) any { return XML(s) })
	case amf3ByteArrayMarker:
		return d.readAMF3ByteArray()
	case amf3VectorIntMarker, amf3VectorUintMarker, amf3VectorDoubleMarker, amf3VectorObjectMarker:
		return d.readAMF3Vector(marker)
	case amf3DictionaryMarker:
		return d.readAMF3Dictionary()
	default:
		return nil, fmt.Errorf("%w: AMF3 0x%02x", ErrUnsupportedMarker, marker)
	}
}

// readU29 decodes a variable-length U29. The first three bytes carry
// seven bits each, the fourth carries eight.
func (d *Decoder) readU29() (uint32, error) {
	var result uint32
	for i := 0; i < 3; i++ {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return result<<7 | uint32(b), nil
		}
		result = result<<7 | uint32(b&0x7F)
	}
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return result<<8 | uint32(b), nil
}

// readAMF3Integer sign-extends a U29 from bit 28
func (d *Decoder) readAMF3Integer() (int32, error) {
	raw, err := d.readU29()
	if err != nil {
		return 0, err
	}
	return int32(raw<<3) >> 3, nil
}

// readAMF3Header reads an inline/reference header. A reference is
// resolved against the object table.
func (d *Decoder) readAMF3Header() (n int, ref any, isRef bool, err error) {
	u29, err := d.readU29()
	if err != nil {
		return 0, nil, false, err
	}
	if u29&1 == 0 {
		ref, err = d.objectRef(int(u29 >> 1))
		return 0, ref, true, err
	}
	return int(u29 >> 1), nil, false, nil
}

func (d *Decoder) objectRef(idx int) (any, error) {
	table := d.s.amf3.objectTable
	if idx >= len(table) {
		return nil, fmt.Errorf("%w: object %d of %d", ErrInvalidReference, idx, len(table))
	}
	if _, ok := table[idx].(reservation); ok {
		return nil, fmt.Errorf("%w: object %d", ErrUnsupportedCyclicReference, idx)
	}
	return table[idx], nil
}

// reserve takes the next object table slot before nested values are read
func (d *Decoder) reserve() int {
	ctx := d.s.amf3
	ctx.objectTable = append(ctx.objectTable, reservation{})
	return len(ctx.objectTable) - 1
}

func (d *Decoder) fill(idx int, v any) {
	d.s.amf3.objectTable[idx] = v
}

// checkCount rejects element counts that cannot fit in the remaining input
func (d *Decoder) checkCount(n, size int) error {
	if n < 0 || n > d.r.Len()/size {
		return fmt.Errorf("%w: %d elements declared, %d bytes left", bin.ErrUnexpectedEndOfData, n, d.r.Len())
	}
	return nil
}

func (d *Decoder) readAMF3String() (string, error) {
	u29, err := d.readU29()
	if err != nil {
		return "", err
	}

	ctx := d.s.amf3
	if u29&1 == 0 {
		idx := int(u29 >> 1)
		if idx >= len(ctx.stringTable) {
			return "", fmt.Errorf("%w: string %d of %d", ErrInvalidReference, idx, len(ctx.stringTable))
		}
		return ctx.stringTable[idx], nil
	}

	length := int(u29 >> 1)
	if length == 0 {
		return "", nil
	}
	s, err := d.r.ReadString(length)
	if err != nil {
		return "", err
	}
	ctx.stringTable = append(ctx.stringTable, s)
	return s, nil
}

func (d *Decoder) readAMF3Text(wrap func(string) any) (any, error) {
	n, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	s, err := d.r.ReadString(n)
	if err != nil {
		return nil, err
	}
	v := wrap(s)
	d.fill(d.reserve(), v)
	return v, nil
}

func (d *Decoder) readAMF3Date() (any, error) {
	_, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	millis, err := d.r.ReadFloat64()
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(int64(millis))
	d.fill(d.reserve(), t)
	return t, nil
}

func (d *Decoder) readAMF3ByteArray() (any, error) {
	n, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	b, err := d.r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	d.fill(d.reserve(), b)
	return b, nil
}

// readAMF3Array decodes an array. Without associative members the result
// is []any; otherwise an ECMAArray holding the dense elements under their
// stringified indices.
func (d *Decoder) readAMF3Array() (any, error) {
	dense, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	if err := d.checkCount(dense, 1); err != nil {
		return nil, err
	}
	idx := d.reserve()

	var assoc ECMAArray
	for {
		key, err := d.readAMF3String()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		v, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		if assoc == nil {
			assoc = make(ECMAArray)
		}
		assoc[key] = v
	}

	items := make([]any, dense)
	for i := range items {
		v, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		items[i] = v
	}

	if assoc == nil {
		d.fill(idx, items)
		return items, nil
	}
	for i, v := range items {
		assoc[strconv.Itoa(i)] = v
	}
	d.fill(idx, assoc)
	return assoc, nil
}

// readAMF3Trait reads a trait reference or an inline trait from an object
// header whose inline bit is already consumed.
func (d *Decoder) readAMF3Trait(header uint32) (*ClassTrait, error) {
	ctx := d.s.amf3
	if header&0x01 == 0 {
		idx := int(header >> 1)
		if idx >= len(ctx.traitTable) {
			return nil, fmt.Errorf("%w: trait %d of %d", ErrInvalidReference, idx, len(ctx.traitTable))
		}
		return ctx.traitTable[idx], nil
	}

	t := &ClassTrait{
		Externalizable: header&0x02 != 0,
		Dynamic:        header&0x04 != 0,
	}
	count := int(header >> 3)
	name, err := d.readAMF3String()
	if err != nil {
		return nil, err
	}
	t.Name = name
	if err := d.checkCount(count, 1); err != nil {
		return nil, err
	}
	if count > 0 {
		t.Members = make([]string, count)
	}
	for i := range t.Members {
		if t.Members[i], err = d.readAMF3String(); err != nil {
			return nil, err
		}
	}
	ctx.traitTable = append(ctx.traitTable, t)
	return t, nil
}

func (d *Decoder) readAMF3Object() (any, error) {
	u29, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u29&1 == 0 {
		return d.objectRef(int(u29 >> 1))
	}

	t, err := d.readAMF3Trait(u29 >> 1)
	if err != nil {
		return nil, err
	}
	idx := d.reserve()
	reg := d.s.registry

	if t.Externalizable {
		if !reg.CanCreate(t.Name) {
			return nil, fmt.Errorf("%w: externalizable %q", ErrUnknownType, t.Name)
		}
		inst, err := reg.Create(t.Name)
		if err != nil {
			return nil, err
		}
		ext, ok := inst.(Externalizable)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not externalizable", ErrTypeMismatch, t.Name)
		}
		if err := ext.ReadExternal(d); err != nil {
			return nil, err
		}
		d.fill(idx, inst)
		return inst, nil
	}

	var set func(name string, v any) error
	var result any
	switch {
	case t.Name != "" && reg.CanCreate(t.Name):
		inst, err := reg.Create(t.Name)
		if err != nil {
			return nil, err
		}
		set = func(name string, v any) error { return reg.SetMember(inst, name, v) }
		result = inst
	case t.Name != "" && !reg.AnonymousFallback():
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t.Name)
	default:
		var obj *Object
		if t.IsAnonymous() && t.Dynamic && len(t.Members) == 0 {
			obj = NewObject()
		} else {
			obj = NewTypedObject(t)
		}
		set = func(name string, v any) error {
			obj.Set(name, v)
			return nil
		}
		result = obj
	}

	for _, m := range t.Members {
		v, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		if err := set(m, v); err != nil {
			return nil, err
		}
	}
	if t.Dynamic {
		for {
			key, err := d.readAMF3String()
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			v, err := d.DecodeAMF3()
			if err != nil {
				return nil, err
			}
			if err := set(key, v); err != nil {
				return nil, err
			}
		}
	}

	d.fill(idx, result)
	return result, nil
}

func (d *Decoder) readAMF3Vector(marker byte) (any, error) {
	n, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	size := 1
	switch marker {
	case amf3VectorIntMarker, amf3VectorUintMarker:
		size = 4
	case amf3VectorDoubleMarker:
		size = 8
	}
	if err := d.checkCount(n, size); err != nil {
		return nil, err
	}
	fixedByte, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	fixed := fixedByte != 0
	idx := d.reserve()

	var result any
	switch marker {
	case amf3VectorIntMarker:
		v := &IntVector{Fixed: fixed, Items: make([]int32, n)}
		for i := range v.Items {
			if v.Items[i], err = d.r.ReadInt32(); err != nil {
				return nil, err
			}
		}
		result = v
	case amf3VectorUintMarker:
		v := &UintVector{Fixed: fixed, Items: make([]uint32, n)}
		for i := range v.Items {
			if v.Items[i], err = d.r.ReadUint32(); err != nil {
				return nil, err
			}
		}
		result = v
	case amf3VectorDoubleMarker:
		v := &DoubleVector{Fixed: fixed, Items: make([]float64, n)}
		for i := range v.Items {
			if v.Items[i], err = d.r.ReadFloat64(); err != nil {
				return nil, err
			}
		}
		result = v
	default:
		typeName, err := d.readAMF3String()
		if err != nil {
			return nil, err
		}
		v := &ObjectVector{Fixed: fixed, TypeName: typeName, Items: make([]any, n)}
		for i := range v.Items {
			if v.Items[i], err = d.DecodeAMF3(); err != nil {
				return nil, err
			}
		}
		result = v
	}

	d.fill(idx, result)
	return result, nil
}

func (d *Decoder) readAMF3Dictionary() (any, error) {
	n, ref, isRef, err := d.readAMF3Header()
	if err != nil || isRef {
		return ref, err
	}
	if err := d.checkCount(n, 2); err != nil {
		return nil, err
	}
	// weak keys flag, ignored
	if _, err := d.r.ReadByte(); err != nil {
		return nil, err
	}
	idx := d.reserve()

	dict := &Dictionary{Entries: make([]DictionaryEntry, 0, n)}
	for i := 0; i < n; i++ {
		k, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeAMF3()
		if err != nil {
			return nil, err
		}
		dict.Entries = append(dict.Entries, DictionaryEntry{Key: k, Value: v})
	}
	d.fill(idx, dict)
	return dict, nil
}
