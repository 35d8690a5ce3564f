package customer

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode writes the address as a JSON object.
func (a Address) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("name")
	e.Str(a.Name)
	e.FieldStart("line1")
	e.Str(a.Line1)
	if a.Line2 != "" {
		e.FieldStart("line2")
		e.Str(a.Line2)
	}
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	if a.Phone != "" {
		e.FieldStart("phone")
		e.Str(a.Phone)
	}
	e.ObjEnd()
}

// Decode reads an address object. Unknown fields are skipped.
func (a *Address) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var (
			dst *string
			err error
		)
		switch key {
		case "name":
			dst = &a.Name
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "postalCode":
			dst = &a.PostalCode
		case "country":
			dst = &a.Country
		case "phone":
			dst = &a.Phone
		default:
			return d.Skip()
		}
		if *dst, err = d.Str(); err != nil {
			return errors.Wrapf(err, "address %s", key)
		}
		return nil
	})
}

// MarshalJSON implements json.Marshaler for JSON column storage.
func (a Address) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	a.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Address) UnmarshalJSON(data []byte) error {
	return a.Decode(jx.DecodeBytes(data))
}
