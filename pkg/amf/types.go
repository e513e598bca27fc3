package amf

import (
	"sort"
	"strings"
)

// Undefined is the AMF undefined value. Null decodes to nil.
type Undefined struct{}

// XML is an AMF3 E4X XML value
type XML string

// XMLDocument is a legacy flash.xml.XMLDocument value
type XMLDocument string

// ECMAArray is an associative array. AMF3 arrays carrying associative
// members decode to it, with dense elements keyed by their index.
type ECMAArray map[string]any

// ClassTrait describes the shape of an AMF3 object.
// It is immutable once built and compared structurally.
type ClassTrait struct {
	Name           string
	Members        []string
	Externalizable bool
	Dynamic        bool
}

// IsAnonymous reports whether the trait has no class name
func (t *ClassTrait) IsAnonymous() bool {
	return t.Name == ""
}

// Equal reports structural equality
func (t *ClassTrait) Equal(o *ClassTrait) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.key() == o.key()
}

// key is the trait cache key
func (t *ClassTrait) key() string {
	var sb strings.Builder
	sb.WriteString(t.Name)
	sb.WriteByte(0)
	if t.Externalizable {
		sb.WriteByte('e')
	}
	if t.Dynamic {
		sb.WriteByte('d')
	}
	for _, m := range t.Members {
		sb.WriteByte(0)
		sb.WriteString(m)
	}
	return sb.String()
}

// hasMember reports whether name is a sealed member
func (t *ClassTrait) hasMember(name string) bool {
	for _, m := range t.Members {
		if m == name {
			return true
		}
	}
	return false
}

// anonymousTrait is the trait of untyped dynamic objects
func anonymousTrait() *ClassTrait {
	return &ClassTrait{Dynamic: true}
}

// Object is a typed or anonymous AMF object with ordered fields.
// A nil Trait means an anonymous dynamic object.
type Object struct {
	Trait  *ClassTrait
	keys   []string
	values map[string]any
}

// NewObject creates an anonymous dynamic object
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// NewTypedObject creates an object with a sealed trait
func NewTypedObject(trait *ClassTrait) *Object {
	return &Object{Trait: trait, values: make(map[string]any)}
}

// ClassName returns the class name, empty for anonymous objects
func (o *Object) ClassName() string {
	if o.Trait == nil {
		return ""
	}
	return o.Trait.Name
}

// Set sets a field, keeping first-insertion order
func (o *Object) Set(key string, value any) *Object {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get returns a field value
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// GetString returns a field as string, or "" when absent or not a string
func (o *Object) GetString(key string) string {
	s, _ := o.values[key].(string)
	return s
}

// Keys returns field names in insertion order
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of fields
func (o *Object) Len() int {
	return len(o.keys)
}

// trait returns the effective trait used for AMF3 encoding
func (o *Object) trait() *ClassTrait {
	if o.Trait == nil {
		return anonymousTrait()
	}
	return o.Trait
}

// dynamicKeys returns the fields that are not sealed members
func (o *Object) dynamicKeys(t *ClassTrait) []string {
	if len(t.Members) == 0 {
		return o.keys
	}
	keys := make([]string, 0, len(o.keys))
	for _, k := range o.keys {
		if !t.hasMember(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// IntVector is a Vector.<int>
type IntVector struct {
	Fixed bool
	Items []int32
}

// UintVector is a Vector.<uint>
type UintVector struct {
	Fixed bool
	Items []uint32
}

// DoubleVector is a Vector.<Number>
type DoubleVector struct {
	Fixed bool
	Items []float64
}

// ObjectVector is a Vector.<T> of objects
type ObjectVector struct {
	Fixed    bool
	TypeName string
	Items    []any
}

// DictionaryEntry is one key/value pair of a Dictionary
type DictionaryEntry struct {
	Key   any
	Value any
}

// Dictionary is a flash.utils.Dictionary. Keys may be any value, so
// entries are kept in wire order rather than in a Go map.
type Dictionary struct {
	Entries []DictionaryEntry
}

// Get returns the value of the first entry whose key equals key.
// Only comparable keys can match.
func (d *Dictionary) Get(key any) (any, bool) {
	for _, e := range d.Entries {
		if comparableEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Set appends or replaces an entry
func (d *Dictionary) Set(key, value any) {
	for i, e := range d.Entries {
		if comparableEqual(e.Key, key) {
			d.Entries[i].Value = value
			return
		}
	}
	d.Entries = append(d.Entries, DictionaryEntry{Key: key, Value: value})
}

func comparableEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// sortedKeys returns map keys in ascending order so encoding is deterministic
func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
