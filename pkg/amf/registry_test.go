package amf

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistryTrait(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("com.example.Point", point{}); err != nil {
		t.Fatal(err)
	}

	trait, err := reg.TraitOf(&point{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(trait.Members, []string{"x", "y", "label"}) {
		t.Errorf("unexpected members %v", trait.Members)
	}
	if name, ok := reg.CanonicalName(&point{}); !ok || name != "com.example.Point" {
		t.Errorf("unexpected canonical name %q %v", name, ok)
	}
	if _, ok := reg.CanonicalName(point{}); ok {
		t.Error("only pointers are registered values")
	}
}

func TestRegistryRegisterErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("", point{}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register("x", 5); err == nil {
		t.Error("expected error for non-struct")
	}
	if err := reg.Register("x", nil); err == nil {
		t.Error("expected error for nil prototype")
	}
}

func TestRegistrySetMember(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("com.example.Point", point{})

	v, err := reg.Create("com.example.Point")
	if err != nil {
		t.Fatal(err)
	}
	p := v.(*point)

	// AMF0 숫자는 float64로 들어옴
	if err := reg.SetMember(p, "x", 12.0); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetMember(p, "unknown", "ignored"); err != nil {
		t.Errorf("unknown members should be ignored, got %v", err)
	}
	if err := reg.SetMember(p, "label", nil); err != nil {
		t.Fatal(err)
	}
	if p.X != 12 || p.Label != "" {
		t.Errorf("unexpected %+v", p)
	}

	if err := reg.SetMember(p, "label", []any{1}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}

	if _, err := reg.Create("com.example.Missing"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestRegistrySliceConversion(t *testing.T) {
	type tags struct {
		Names []string
	}
	reg := NewRegistry()
	reg.MustRegister("com.example.Tags", tags{})

	v, _ := reg.Create("com.example.Tags")
	if err := reg.SetMember(v, "names", []any{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if got := v.(*tags).Names; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("unexpected %v", got)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{ArrayCollectionClass, ObjectProxyClass} {
		if !reg.CanCreate(name) {
			t.Errorf("%s should be registered", name)
		}
	}
	trait, err := reg.TraitOf(&ArrayCollection{})
	if err != nil {
		t.Fatal(err)
	}
	if !trait.Externalizable {
		t.Error("ArrayCollection trait should be externalizable")
	}
	if !reg.AnonymousFallback() {
		t.Error("fallback should default to true")
	}
}
