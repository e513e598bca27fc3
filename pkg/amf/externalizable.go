package amf

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Flex collection class names
const (
	ArrayCollectionClass = "flex.messaging.io.ArrayCollection"
	ObjectProxyClass     = "flex.messaging.io.ObjectProxy"
)

// Externalizable values own their AMF3 wire representation.
// The codec calls them instead of walking trait members.
type Externalizable interface {
	ReadExternal(d *Decoder) error
	WriteExternal(e *Encoder) error
}

var externalizableType = reflect.TypeOf((*Externalizable)(nil)).Elem()

// ArrayCollection wraps a single AMF3 array
type ArrayCollection struct {
	Items []any
}

// ReadExternal implements Externalizable
func (c *ArrayCollection) ReadExternal(d *Decoder) error {
	v, err := d.DecodeAMF3()
	if err != nil {
		return err
	}
	switch items := v.(type) {
	case nil:
		c.Items = nil
	case []any:
		c.Items = items
	case ECMAArray:
		c.Items = make([]any, 0, len(items))
		for _, k := range collectionOrder(items) {
			c.Items = append(c.Items, items[k])
		}
	default:
		return fmt.Errorf("%w: array collection source is %T", ErrTypeMismatch, v)
	}
	return nil
}

// collectionOrder lists index keys in numeric order, then the associative
// keys sorted by name.
func collectionOrder(items ECMAArray) []string {
	var indices []int
	var names []string
	for k := range items {
		if i, err := strconv.Atoi(k); err == nil && i >= 0 && strconv.Itoa(i) == k {
			indices = append(indices, i)
			continue
		}
		names = append(names, k)
	}
	sort.Ints(indices)
	sort.Strings(names)

	keys := make([]string, 0, len(items))
	for _, i := range indices {
		keys = append(keys, strconv.Itoa(i))
	}
	return append(keys, names...)
}

// WriteExternal implements Externalizable
func (c *ArrayCollection) WriteExternal(e *Encoder) error {
	items := c.Items
	if items == nil {
		items = []any{}
	}
	return e.EncodeAMF3(items)
}

// ObjectProxy wraps a single AMF3 value, usually an anonymous object
type ObjectProxy struct {
	Value any
}

// ReadExternal implements Externalizable
func (p *ObjectProxy) ReadExternal(d *Decoder) error {
	v, err := d.DecodeAMF3()
	if err != nil {
		return err
	}
	p.Value = v
	return nil
}

// WriteExternal implements Externalizable
func (p *ObjectProxy) WriteExternal(e *Encoder) error {
	return e.EncodeAMF3(p.Value)
}
