package amf

import (
	"errors"
	"reflect"
)

// AMF0 Type Markers
const (
	numberMarker      = 0x00
	booleanMarker     = 0x01
	stringMarker      = 0x02
	objectMarker      = 0x03
	movieClipMarker   = 0x04 // Not supported
	nullMarker        = 0x05
	undefinedMarker   = 0x06
	referenceMarker   = 0x07
	ecmaArrayMarker   = 0x08
	objectEndMarker   = 0x09
	strictArrayMarker = 0x0A
	dateMarker        = 0x0B
	longStringMarker  = 0x0C
	unsupportedMarker = 0x0D
	recordSetMarker   = 0x0E // Not supported
	xmlDocumentMarker = 0x0F
	typedObjectMarker = 0x10
	avmPlusMarker     = 0x11 // AMF3
)

// AMF3 Type Markers
const (
	amf3UndefinedMarker    = 0x00
	amf3NullMarker         = 0x01
	amf3FalseMarker        = 0x02
	amf3TrueMarker         = 0x03
	amf3IntegerMarker      = 0x04
	amf3DoubleMarker       = 0x05
	amf3StringMarker       = 0x06
	amf3XMLDocMarker       = 0x07
	amf3DateMarker         = 0x08
	amf3ArrayMarker        = 0x09
	amf3ObjectMarker       = 0x0A
	amf3XMLMarker          = 0x0B
	amf3ByteArrayMarker    = 0x0C
	amf3VectorIntMarker    = 0x0D
	amf3VectorUintMarker   = 0x0E
	amf3VectorDoubleMarker = 0x0F
	amf3VectorObjectMarker = 0x10
	amf3DictionaryMarker   = 0x11
)

// U29 limits
const (
	u29Mask      = 0x1FFFFFFF
	minInt29     = -1 << 28
	maxInt29     = 1<<28 - 1
	maxU29Length = 1<<28 - 1 // inline headers spend one bit on the reference flag
	maxNesting   = 1024
)

var (
	ErrUnsupportedMarker          = errors.New("unsupported AMF marker")
	ErrUnsupportedType            = errors.New("unsupported value type")
	ErrUnknownType                = errors.New("unknown class type")
	ErrUnsupportedCyclicReference = errors.New("cyclic references are not supported")
	ErrInvalidReference           = errors.New("reference index out of bounds")
	ErrTypeMismatch               = errors.New("value type mismatch")
	ErrLengthTooLarge             = errors.New("length exceeds U29 range")
	ErrNestingTooDeep             = errors.New("value nesting too deep")
)

// reservation marks an object table slot whose value is still being decoded
type reservation struct{}

// identity is the reference-table key for values with pointer identity
type identity struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// identityOf returns the identity of pointer-like values.
// Zero-length slices and nil values have no identity.
func identityOf(v any) (identity, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	}
	return identity{}, false
}

// AMF3Context holds the state for a single AMF3 encoding or decoding session,
// managing reference tables for strings, complex objects and traits.
type AMF3Context struct {
	stringTable    []string
	stringTableMap map[string]int
	objectTable    []any
	objectTableMap map[identity]int
	traitTable     []*ClassTrait
	traitTableMap  map[string]int
}

// NewAMF3Context creates and initializes a new AMF3Context.
func NewAMF3Context() *AMF3Context {
	return &AMF3Context{
		stringTable:    make([]string, 0),
		stringTableMap: make(map[string]int),
		objectTable:    make([]any, 0),
		objectTableMap: make(map[identity]int),
		traitTable:     make([]*ClassTrait, 0),
		traitTableMap:  make(map[string]int),
	}
}

// Session scopes one independent serialization unit: a type registry plus
// fresh AMF0 and AMF3 reference tables.
type Session struct {
	registry    TypeRegistry
	amf0Objects []any
	amf0Index   map[identity]int
	amf3        *AMF3Context
}

// NewSession creates a session. A nil registry uses DefaultRegistry.
func NewSession(registry TypeRegistry) *Session {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Session{
		registry:  registry,
		amf0Index: make(map[identity]int),
		amf3:      NewAMF3Context(),
	}
}

// Registry returns the session's type registry
func (s *Session) Registry() TypeRegistry {
	return s.registry
}

// Reset clears all reference tables
func (s *Session) Reset() {
	s.amf0Objects = nil
	s.amf0Index = make(map[identity]int)
	s.amf3 = NewAMF3Context()
}
