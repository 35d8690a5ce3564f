package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Option is a single name/value selection such as color=red.
type Option struct {
	Name  string
	Value string
}

// Options is an ordered string map. Order is preserved through JSON
// encoding, which is why it is not a Go map.
type Options []Option

// Set replaces the value for name or appends a new option.
func (o *Options) Set(name, value string) {
	for i := range *o {
		if (*o)[i].Name == name {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, Option{Name: name, Value: value})
}

// Encode writes options as a JSON object, keys in insertion order.
func (o Options) Encode(e *jx.Encoder) {
	e.ObjStart()
	for _, opt := range o {
		e.FieldStart(opt.Name)
		e.Str(opt.Value)
	}
	e.ObjEnd()
}

// Decode reads a JSON object of string values. A JSON null yields nil. A
// repeated key keeps its first position and its last value.
func (o *Options) Decode(d *jx.Decoder) error {
	if d.Next() == jx.Null {
		*o = nil
		return d.Null()
	}
	var out Options
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "option %q", key)
		}
		out.Set(key, v)
		return nil
	}); err != nil {
		return err
	}
	*o = out
	return nil
}

// MarshalJSON implements json.Marshaler so options can be stored in JSON
// columns without losing order.
func (o Options) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	o.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Options) UnmarshalJSON(data []byte) error {
	return o.Decode(jx.DecodeBytes(data))
}
