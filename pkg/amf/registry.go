package amf

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// TypeRegistry bridges AMF class traits and native Go values.
// The codec never reflects over values itself; it asks the registry.
type TypeRegistry interface {
	// CanCreate reports whether name maps to a native type
	CanCreate(name string) bool
	// Create returns a new instance for a wire class name
	Create(name string) (any, error)
	// CanonicalName returns the wire class name of a native value
	CanonicalName(v any) (string, bool)
	// TraitOf returns the class trait of a native value
	TraitOf(v any) (*ClassTrait, error)
	// GetMember reads a member of a native value
	GetMember(v any, name string) (any, error)
	// SetMember writes a member of a native value.
	// Unknown member names are ignored.
	SetMember(v any, name string, value any) error
	// AnonymousFallback reports whether unknown class names decode to *Object
	AnonymousFallback() bool
}

// DefaultRegistry is used when a nil registry is given
var DefaultRegistry = NewRegistry()

// classInfo is the cached mapping of one registered struct type
type classInfo struct {
	typ    reflect.Type
	trait  *ClassTrait
	fields map[string]int
}

// Registry is a TypeRegistry backed by explicitly registered struct types.
// Members come from exported fields, named by the `amf` tag or by the
// field name with a lower-case first letter. `amf:"-"` skips a field.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*classInfo
	byType   map[reflect.Type]*classInfo
	fallback bool
}

// NewRegistry creates a registry with the Flex collection types registered
// and anonymous fallback enabled.
func NewRegistry() *Registry {
	r := &Registry{
		byName:   make(map[string]*classInfo),
		byType:   make(map[reflect.Type]*classInfo),
		fallback: true,
	}
	r.MustRegister(ArrayCollectionClass, (*ArrayCollection)(nil))
	r.MustRegister(ObjectProxyClass, (*ObjectProxy)(nil))
	return r
}

// SetAnonymousFallback enables or disables decoding unknown classes as *Object
func (r *Registry) SetAnonymousFallback(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = enabled
}

// AnonymousFallback implements TypeRegistry
func (r *Registry) AnonymousFallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Register maps a wire class name to the struct type of prototype.
// prototype may be a struct value or a pointer to one.
func (r *Registry) Register(name string, prototype any) error {
	if name == "" {
		return fmt.Errorf("register: empty class name")
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("register %s: nil prototype", name)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("register %s: %s is not a struct", name, t)
	}

	info := &classInfo{
		typ:    t,
		fields: make(map[string]int),
		trait:  &ClassTrait{Name: name},
	}

	if reflect.PointerTo(t).Implements(externalizableType) {
		info.trait.Externalizable = true
	} else {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			member := memberName(f)
			if member == "" {
				continue
			}
			info.fields[member] = i
			info.trait.Members = append(info.trait.Members, member)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = info
	r.byType[t] = info
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(name string, prototype any) {
	if err := r.Register(name, prototype); err != nil {
		panic(err)
	}
}

func memberName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("amf"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	r, size := utf8.DecodeRuneInString(f.Name)
	return string(unicode.ToLower(r)) + f.Name[size:]
}

// CanCreate implements TypeRegistry
func (r *Registry) CanCreate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Create implements TypeRegistry. Instances are pointers to the struct.
func (r *Registry) Create(name string) (any, error) {
	r.mu.RLock()
	info, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return reflect.New(info.typ).Interface(), nil
}

// lookup finds the class info of a registered struct pointer
func (r *Registry) lookup(v any) (*classInfo, reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, reflect.Value{}, false
	}
	r.mu.RLock()
	info, ok := r.byType[rv.Type().Elem()]
	r.mu.RUnlock()
	return info, rv.Elem(), ok
}

// CanonicalName implements TypeRegistry
func (r *Registry) CanonicalName(v any) (string, bool) {
	info, _, ok := r.lookup(v)
	if !ok {
		return "", false
	}
	return info.trait.Name, true
}

// TraitOf implements TypeRegistry
func (r *Registry) TraitOf(v any) (*ClassTrait, error) {
	info, _, ok := r.lookup(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	return info.trait, nil
}

// GetMember implements TypeRegistry
func (r *Registry) GetMember(v any, name string) (any, error) {
	info, rv, ok := r.lookup(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	idx, ok := info.fields[name]
	if !ok {
		return nil, fmt.Errorf("%s has no member %q", info.trait.Name, name)
	}
	return rv.Field(idx).Interface(), nil
}

// SetMember implements TypeRegistry
func (r *Registry) SetMember(v any, name string, value any) error {
	info, rv, ok := r.lookup(v)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	idx, ok := info.fields[name]
	if !ok {
		return nil
	}
	if err := assign(rv.Field(idx), value); err != nil {
		return fmt.Errorf("%s.%s: %w", info.trait.Name, name, err)
	}
	return nil
}

// assign stores a decoded value into a struct field, converting numbers
// and slices as needed
func assign(dst reflect.Value, value any) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if _, ok := value.(Undefined); ok {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if isNumberKind(src.Kind()) && isNumberKind(dst.Kind()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	if src.Kind() == reflect.Slice && dst.Kind() == reflect.Slice {
		out := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			if err := assign(out.Index(i), src.Index(i).Interface()); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	}
	if src.Kind() == dst.Kind() && src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("%w: cannot assign %T to %s", ErrTypeMismatch, value, dst.Type())
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
