package amf

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/ssungk/rtmpc/pkg/bin"
)

// Encoder serializes values into a growable buffer. Every value written
// through one Encoder shares the reference tables of its Session.
type Encoder struct {
	w     *bin.Writer
	s     *Session
	depth int
}

// NewEncoder creates an encoder with a fresh session
func NewEncoder(registry TypeRegistry) *Encoder {
	return NewSessionEncoder(NewSession(registry))
}

// NewSessionEncoder creates an encoder writing within an existing session
func NewSessionEncoder(s *Session) *Encoder {
	return &Encoder{w: bin.NewWriter(256), s: s}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.w.Bytes()
}

// Writer exposes the underlying buffer to externalizable types
func (e *Encoder) Writer() *bin.Writer {
	return e.w
}

// Session returns the encoder's session
func (e *Encoder) Session() *Session {
	return e.s
}

// Reset discards output and starts a new session
func (e *Encoder) Reset() {
	e.w.Reset()
	e.s.Reset()
}

// EncodeAMF0Sequence encodes values within one session
func EncodeAMF0Sequence(values ...any) ([]byte, error) {
	e := NewEncoder(nil)
	for _, v := range values {
		if err := e.EncodeAMF0(v); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}

// EncodeAMF3Sequence encodes values within one session
func EncodeAMF3Sequence(values ...any) ([]byte, error) {
	e := NewEncoder(nil)
	for _, v := range values {
		if err := e.EncodeAMF3(v); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}

// EncodeAMF0 appends a single AMF0 value. Values that only exist in AMF3
// are written behind the AVM+ marker.
func (e *Encoder) EncodeAMF0(value any) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxNesting {
		return ErrNestingTooDeep
	}

	switch v := value.(type) {
	case nil:
		return e.w.WriteByte(nullMarker)
	case Undefined:
		return e.w.WriteByte(undefinedMarker)
	case bool:
		e.w.WriteByte(booleanMarker)
		if v {
			return e.w.WriteByte(1)
		}
		return e.w.WriteByte(0)
	case float64:
		return e.writeAMF0Number(v)
	case int32:
		return e.writeAMF0Number(float64(v))
	case int:
		return e.writeAMF0Number(float64(v))
	case string:
		return e.writeAMF0String(v)
	case XMLDocument:
		e.w.WriteByte(xmlDocumentMarker)
		return e.w.WriteLongUTF(string(v))
	case time.Time:
		e.w.WriteByte(dateMarker)
		e.w.WriteFloat64(float64(v.UnixMilli()))
		// timezone, always 0
		e.w.WriteInt16(0)
		return nil
	case *Object:
		if v == nil {
			return e.w.WriteByte(nullMarker)
		}
		return e.writeAMF0Object(v)
	case ECMAArray:
		return e.writeAMF0ECMAArray(v)
	case map[string]any:
		return e.writeAMF0Map(v, sortedKeys(v), func(k string) any { return v[k] })
	case []any:
		return e.writeAMF0StrictArray(v, len(v), func(i int) any { return v[i] })
	case XML, []byte, *IntVector, *UintVector, *DoubleVector, *ObjectVector, *Dictionary:
		return e.writeAVMPlus(v)
	}

	if trait, err := e.s.registry.TraitOf(value); err == nil {
		if trait.Externalizable {
			return e.writeAVMPlus(value)
		}
		return e.writeAMF0Registered(value, trait)
	}
	return e.encodeAMF0Reflect(value)
}

// EncodeAVMPlus appends value as AMF3 behind the AVM+ marker, the form
// arguments of AMF3 command messages take
func (e *Encoder) EncodeAVMPlus(value any) error {
	return e.writeAVMPlus(value)
}

func (e *Encoder) writeAVMPlus(v any) error {
	e.w.WriteByte(avmPlusMarker)
	return e.EncodeAMF3(v)
}

func (e *Encoder) writeAMF0Number(v float64) error {
	e.w.WriteByte(numberMarker)
	e.w.WriteFloat64(v)
	return nil
}

func (e *Encoder) writeAMF0String(s string) error {
	if len(s) <= math.MaxUint16 {
		e.w.WriteByte(stringMarker)
		return e.w.WriteUTF(s)
	}
	e.w.WriteByte(longStringMarker)
	return e.w.WriteLongUTF(s)
}

// writeAMF0Ref writes a reference and reports true when value was already
// written in this session. Otherwise value takes the next reference slot.
func (e *Encoder) writeAMF0Ref(value any) bool {
	s := e.s
	id, ok := identityOf(value)
	if ok {
		if idx, found := s.amf0Index[id]; found && idx <= math.MaxUint16 {
			e.w.WriteByte(referenceMarker)
			e.w.WriteUint16(uint16(idx))
			return true
		}
		s.amf0Index[id] = len(s.amf0Objects)
	}
	s.amf0Objects = append(s.amf0Objects, value)
	return false
}

func (e *Encoder) writeAMF0Property(key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty property name", ErrUnsupportedType)
	}
	if err := e.w.WriteUTF(key); err != nil {
		return fmt.Errorf("property %.32q: %w", key, err)
	}
	return e.EncodeAMF0(value)
}

func (e *Encoder) writeAMF0ObjectEnd() error {
	e.w.WriteUint16(0)
	return e.w.WriteByte(objectEndMarker)
}

func (e *Encoder) writeAMF0Object(o *Object) error {
	if e.writeAMF0Ref(o) {
		return nil
	}
	if name := o.ClassName(); name != "" {
		e.w.WriteByte(typedObjectMarker)
		if err := e.w.WriteUTF(name); err != nil {
			return err
		}
	} else {
		e.w.WriteByte(objectMarker)
	}
	for _, k := range o.Keys() {
		if err := e.writeAMF0Property(k, o.values[k]); err != nil {
			return err
		}
	}
	return e.writeAMF0ObjectEnd()
}

func (e *Encoder) writeAMF0Map(ref any, keys []string, value func(k string) any) error {
	if e.writeAMF0Ref(ref) {
		return nil
	}
	e.w.WriteByte(objectMarker)
	for _, k := range keys {
		if err := e.writeAMF0Property(k, value(k)); err != nil {
			return err
		}
	}
	return e.writeAMF0ObjectEnd()
}

func (e *Encoder) writeAMF0ECMAArray(v ECMAArray) error {
	if e.writeAMF0Ref(v) {
		return nil
	}
	e.w.WriteByte(ecmaArrayMarker)
	e.w.WriteUint32(uint32(len(v)))
	for _, k := range sortedKeys(v) {
		if err := e.writeAMF0Property(k, v[k]); err != nil {
			return err
		}
	}
	return e.writeAMF0ObjectEnd()
}

func (e *Encoder) writeAMF0StrictArray(ref any, n int, item func(i int) any) error {
	if e.writeAMF0Ref(ref) {
		return nil
	}
	e.w.WriteByte(strictArrayMarker)
	e.w.WriteUint32(uint32(n))
	for i := 0; i < n; i++ {
		if err := e.EncodeAMF0(item(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeAMF0Registered(v any, trait *ClassTrait) error {
	if e.writeAMF0Ref(v) {
		return nil
	}
	e.w.WriteByte(typedObjectMarker)
	if err := e.w.WriteUTF(trait.Name); err != nil {
		return err
	}
	for _, m := range trait.Members {
		mv, err := e.s.registry.GetMember(v, m)
		if err != nil {
			return err
		}
		if err := e.writeAMF0Property(m, mv); err != nil {
			return err
		}
	}
	return e.writeAMF0ObjectEnd()
}

// encodeAMF0Reflect handles named and generic Go kinds
func (e *Encoder) encodeAMF0Reflect(value any) error {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return e.EncodeAMF0(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeAMF0Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return e.writeAMF0Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return e.writeAMF0Number(rv.Float())
	case reflect.String:
		return e.writeAMF0String(rv.String())
	case reflect.Pointer:
		if rv.IsNil() {
			return e.w.WriteByte(nullMarker)
		}
	case reflect.Slice:
		if rv.IsNil() {
			return e.w.WriteByte(nullMarker)
		}
		return e.writeAMF0StrictArray(value, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Array:
		return e.writeAMF0StrictArray(value, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return e.w.WriteByte(nullMarker)
		}
		keys := make([]string, 0, rv.Len())
		index := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
			index[k.String()] = k
		}
		sort.Strings(keys)
		return e.writeAMF0Map(value, keys, func(k string) any { return rv.MapIndex(index[k]).Interface() })
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, value)
}
