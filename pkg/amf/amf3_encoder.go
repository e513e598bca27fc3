package amf

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// EncodeAMF3 appends a single AMF3 value.
func (e *Encoder) EncodeAMF3(value any) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxNesting {
		return ErrNestingTooDeep
	}
	return e.encodeAMF3Value(value)
}

// writeU29 encodes the low 29 bits of value as a variable-length U29.
func (e *Encoder) writeU29(value uint32) error {
	w := e.w
	value &= u29Mask
	switch {
	case value < 0x80:
		w.WriteByte(byte(value))
	case value < 0x4000:
		w.WriteByte(byte(value>>7 | 0x80))
		w.WriteByte(byte(value & 0x7F))
	case value < 0x200000:
		w.WriteByte(byte(value>>14 | 0x80))
		w.WriteByte(byte(value>>7 | 0x80))
		w.WriteByte(byte(value & 0x7F))
	default:
		w.WriteByte(byte(value>>22 | 0x80))
		w.WriteByte(byte(value>>15 | 0x80))
		w.WriteByte(byte(value>>8 | 0x80))
		w.WriteByte(byte(value))
	}
	return nil
}

// writeInline writes an inline header carrying n
func (e *Encoder) writeInline(n int) error {
	if n < 0 || n > maxU29Length {
		return fmt.Errorf("%w: %d", ErrLengthTooLarge, n)
	}
	return e.writeU29(uint32(n)<<1 | 1)
}

// writeAMF3Ref writes a reference and reports true when value was already
// written in this session. Otherwise value takes the next object table slot.
func (e *Encoder) writeAMF3Ref(value any) (bool, error) {
	ctx := e.s.amf3
	id, ok := identityOf(value)
	if ok {
		if idx, found := ctx.objectTableMap[id]; found {
			if idx > maxU29Length {
				return false, fmt.Errorf("%w: object reference %d", ErrLengthTooLarge, idx)
			}
			return true, e.writeU29(uint32(idx) << 1)
		}
		ctx.objectTableMap[id] = len(ctx.objectTable)
	}
	ctx.objectTable = append(ctx.objectTable, value)
	return false, nil
}

// writeAMF3String writes a string payload using the string table.
// The empty string is always written inline and never tabled.
func (e *Encoder) writeAMF3String(value string) error {
	if value == "" {
		return e.writeU29(1)
	}
	ctx := e.s.amf3
	if idx, ok := ctx.stringTableMap[value]; ok {
		return e.writeU29(uint32(idx) << 1)
	}
	if err := e.writeInline(len(value)); err != nil {
		return err
	}
	ctx.stringTableMap[value] = len(ctx.stringTable)
	ctx.stringTable = append(ctx.stringTable, value)
	e.w.WriteString(value)
	return nil
}

// writeAMF3Trait writes a trait reference or an inline trait.
func (e *Encoder) writeAMF3Trait(t *ClassTrait) error {
	ctx := e.s.amf3
	key := t.key()
	if idx, ok := ctx.traitTableMap[key]; ok {
		return e.writeU29(uint32(idx)<<2 | 0x01)
	}
	if len(t.Members) > maxU29Length>>3 {
		return fmt.Errorf("%w: %d sealed members", ErrLengthTooLarge, len(t.Members))
	}
	ctx.traitTableMap[key] = len(ctx.traitTable)
	ctx.traitTable = append(ctx.traitTable, t)

	header := uint32(len(t.Members))<<4 | 0x03
	if t.Externalizable {
		header |= 0x04
	}
	if t.Dynamic {
		header |= 0x08
	}
	if err := e.writeU29(header); err != nil {
		return err
	}
	if err := e.writeAMF3String(t.Name); err != nil {
		return err
	}
	for _, m := range t.Members {
		if err := e.writeAMF3String(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeAMF3Integer(v int64) error {
	if v < minInt29 || v > maxInt29 {
		return e.writeAMF3Double(float64(v))
	}
	e.w.WriteByte(amf3IntegerMarker)
	return e.writeU29(uint32(v))
}

func (e *Encoder) writeAMF3Double(v float64) error {
	e.w.WriteByte(amf3DoubleMarker)
	e.w.WriteFloat64(v)
	return nil
}

func (e *Encoder) writeAMF3Date(v time.Time) error {
	e.w.WriteByte(amf3DateMarker)
	if _, err := e.writeAMF3Ref(v); err != nil {
		return err
	}
	if err := e.writeU29(1); err != nil {
		return err
	}
	e.w.WriteFloat64(float64(v.UnixMilli()))
	return nil
}

// writeAMF3Text writes XML and XMLDocument values. They occupy object
// table slots but are never deduplicated.
func (e *Encoder) writeAMF3Text(marker byte, value any, text string) error {
	e.w.WriteByte(marker)
	if _, err := e.writeAMF3Ref(value); err != nil {
		return err
	}
	if err := e.writeInline(len(text)); err != nil {
		return err
	}
	e.w.WriteString(text)
	return nil
}

func (e *Encoder) writeAMF3ByteArray(v []byte) error {
	e.w.WriteByte(amf3ByteArrayMarker)
	if done, err := e.writeAMF3Ref(v); done || err != nil {
		return err
	}
	if err := e.writeInline(len(v)); err != nil {
		return err
	}
	e.w.Write(v)
	return nil
}

// writeAMF3Array writes a dense array
func (e *Encoder) writeAMF3Array(ref any, n int, item func(i int) any) error {
	e.w.WriteByte(amf3ArrayMarker)
	if done, err := e.writeAMF3Ref(ref); done || err != nil {
		return err
	}
	if err := e.writeInline(n); err != nil {
		return err
	}
	if err := e.writeAMF3String(""); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := e.EncodeAMF3(item(i)); err != nil {
			return err
		}
	}
	return nil
}

// writeAMF3ECMAArray writes an associative array. Keys "0".."n-1" go to
// the dense portion so a decoded merged array encodes back to its shape.
func (e *Encoder) writeAMF3ECMAArray(v ECMAArray) error {
	e.w.WriteByte(amf3ArrayMarker)
	if done, err := e.writeAMF3Ref(v); done || err != nil {
		return err
	}

	dense := 0
	for {
		if _, ok := v[strconv.Itoa(dense)]; !ok {
			break
		}
		dense++
	}
	if err := e.writeInline(dense); err != nil {
		return err
	}

	for _, k := range sortedKeys(v) {
		if i, err := strconv.Atoi(k); err == nil && i >= 0 && i < dense && strconv.Itoa(i) == k {
			continue
		}
		if k == "" {
			return fmt.Errorf("%w: empty associative key", ErrUnsupportedType)
		}
		if err := e.writeAMF3String(k); err != nil {
			return err
		}
		if err := e.EncodeAMF3(v[k]); err != nil {
			return err
		}
	}
	if err := e.writeAMF3String(""); err != nil {
		return err
	}

	for i := 0; i < dense; i++ {
		if err := e.EncodeAMF3(v[strconv.Itoa(i)]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeAMF3Object(o *Object) error {
	e.w.WriteByte(amf3ObjectMarker)
	if done, err := e.writeAMF3Ref(o); done || err != nil {
		return err
	}

	t := o.trait()
	if t.Externalizable {
		return fmt.Errorf("%w: externalizable %s has no native type", ErrUnknownType, t.Name)
	}
	if err := e.writeAMF3Trait(t); err != nil {
		return err
	}
	for _, m := range t.Members {
		v, ok := o.Get(m)
		if !ok {
			v = Undefined{}
		}
		if err := e.EncodeAMF3(v); err != nil {
			return err
		}
	}
	if !t.Dynamic {
		return nil
	}
	for _, k := range o.dynamicKeys(t) {
		if k == "" {
			return fmt.Errorf("%w: empty dynamic member name", ErrUnsupportedType)
		}
		if err := e.writeAMF3String(k); err != nil {
			return err
		}
		if err := e.EncodeAMF3(o.values[k]); err != nil {
			return err
		}
	}
	return e.writeAMF3String("")
}

// writeAMF3Map writes a string-keyed map as an anonymous object with
// sorted keys.
func (e *Encoder) writeAMF3Map(ref any, keys []string, value func(k string) any) error {
	e.w.WriteByte(amf3ObjectMarker)
	if done, err := e.writeAMF3Ref(ref); done || err != nil {
		return err
	}
	if err := e.writeAMF3Trait(anonymousTrait()); err != nil {
		return err
	}
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: empty dynamic member name", ErrUnsupportedType)
		}
		if err := e.writeAMF3String(k); err != nil {
			return err
		}
		if err := e.EncodeAMF3(value(k)); err != nil {
			return err
		}
	}
	return e.writeAMF3String("")
}

// writeAMF3Registered writes a native value described by the registry
func (e *Encoder) writeAMF3Registered(v any) error {
	trait, err := e.s.registry.TraitOf(v)
	if err != nil {
		return err
	}
	e.w.WriteByte(amf3ObjectMarker)
	if done, err := e.writeAMF3Ref(v); done || err != nil {
		return err
	}
	if err := e.writeAMF3Trait(trait); err != nil {
		return err
	}

	if trait.Externalizable {
		ext, ok := v.(Externalizable)
		if !ok {
			return fmt.Errorf("%w: %T is not externalizable", ErrTypeMismatch, v)
		}
		return ext.WriteExternal(e)
	}

	for _, m := range trait.Members {
		mv, err := e.s.registry.GetMember(v, m)
		if err != nil {
			return err
		}
		if err := e.EncodeAMF3(mv); err != nil {
			return err
		}
	}
	if trait.Dynamic {
		return e.writeAMF3String("")
	}
	return nil
}

func (e *Encoder) writeAMF3Vector(marker byte, ref any, fixed bool, n int, body func() error) error {
	e.w.WriteByte(marker)
	if done, err := e.writeAMF3Ref(ref); done || err != nil {
		return err
	}
	if err := e.writeInline(n); err != nil {
		return err
	}
	if fixed {
		e.w.WriteByte(1)
	} else {
		e.w.WriteByte(0)
	}
	return body()
}

func (e *Encoder) writeAMF3Dictionary(d *Dictionary) error {
	e.w.WriteByte(amf3DictionaryMarker)
	if done, err := e.writeAMF3Ref(d); done || err != nil {
		return err
	}
	if err := e.writeInline(len(d.Entries)); err != nil {
		return err
	}
	// weak keys are not supported
	e.w.WriteByte(0)
	for _, entry := range d.Entries {
		if err := e.EncodeAMF3(entry.Key); err != nil {
			return err
		}
		if err := e.EncodeAMF3(entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// encodeAMF3Value dispatches on the value model first, then on the
// registry, then on reflected Go kinds.
func (e *Encoder) encodeAMF3Value(value any) error {
	switch v := value.(type) {
	case nil:
		return e.w.WriteByte(amf3NullMarker)
	case Undefined:
		return e.w.WriteByte(amf3UndefinedMarker)
	case bool:
		if v {
			return e.w.WriteByte(amf3TrueMarker)
		}
		return e.w.WriteByte(amf3FalseMarker)
	case int32:
		return e.writeAMF3Integer(int64(v))
	case int:
		return e.writeAMF3Integer(int64(v))
	case float64:
		return e.writeAMF3Double(v)
	case string:
		e.w.WriteByte(amf3StringMarker)
		return e.writeAMF3String(v)
	case time.Time:
		return e.writeAMF3Date(v)
	case XML:
		return e.writeAMF3Text(amf3XMLMarker, v, string(v))
	case XMLDocument:
		return e.writeAMF3Text(amf3XMLDocMarker, v, string(v))
	case []byte:
		return e.writeAMF3ByteArray(v)
	case []any:
		return e.writeAMF3Array(v, len(v), func(i int) any { return v[i] })
	case ECMAArray:
		return e.writeAMF3ECMAArray(v)
	case map[string]any:
		return e.writeAMF3Map(v, sortedKeys(v), func(k string) any { return v[k] })
	case *Object:
		if v == nil {
			return e.w.WriteByte(amf3NullMarker)
		}
		return e.writeAMF3Object(v)
	case *IntVector:
		return e.writeAMF3Vector(amf3VectorIntMarker, v, v.Fixed, len(v.Items), func() error {
			for _, item := range v.Items {
				e.w.WriteInt32(item)
			}
			return nil
		})
	case *UintVector:
		return e.writeAMF3Vector(amf3VectorUintMarker, v, v.Fixed, len(v.Items), func() error {
			for _, item := range v.Items {
				e.w.WriteUint32(item)
			}
			return nil
		})
	case *DoubleVector:
		return e.writeAMF3Vector(amf3VectorDoubleMarker, v, v.Fixed, len(v.Items), func() error {
			for _, item := range v.Items {
				e.w.WriteFloat64(item)
			}
			return nil
		})
	case *ObjectVector:
		return e.writeAMF3Vector(amf3VectorObjectMarker, v, v.Fixed, len(v.Items), func() error {
			if err := e.writeAMF3String(v.TypeName); err != nil {
				return err
			}
			for _, item := range v.Items {
				if err := e.EncodeAMF3(item); err != nil {
					return err
				}
			}
			return nil
		})
	case *Dictionary:
		if v == nil {
			return e.w.WriteByte(amf3NullMarker)
		}
		return e.writeAMF3Dictionary(v)
	}

	if _, ok := e.s.registry.CanonicalName(value); ok {
		return e.writeAMF3Registered(value)
	}
	if _, ok := value.(Externalizable); ok {
		return fmt.Errorf("%w: %T is not registered", ErrUnknownType, value)
	}
	return e.encodeAMF3Reflect(value)
}

// encodeAMF3Reflect handles named and generic Go kinds
func (e *Encoder) encodeAMF3Reflect(value any) error {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return e.encodeAMF3Value(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeAMF3Integer(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > maxInt29 {
			return e.writeAMF3Double(float64(u))
		}
		return e.writeAMF3Integer(int64(u))
	case reflect.Float32, reflect.Float64:
		return e.writeAMF3Double(rv.Float())
	case reflect.String:
		e.w.WriteByte(amf3StringMarker)
		return e.writeAMF3String(rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return e.w.WriteByte(amf3NullMarker)
		}
	case reflect.Slice:
		if rv.IsNil() {
			return e.w.WriteByte(amf3NullMarker)
		}
		return e.writeAMF3Array(value, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Array:
		return e.writeAMF3Array(value, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return e.w.WriteByte(amf3NullMarker)
		}
		keys := make([]string, 0, rv.Len())
		index := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
			index[k.String()] = k
		}
		sort.Strings(keys)
		return e.writeAMF3Map(value, keys, func(k string) any { return rv.MapIndex(index[k]).Interface() })
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, value)
}
