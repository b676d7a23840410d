// Package attrvalue decodes the type-tagged attribute encoding used by change-feed
// records ({"S":..}, {"N":..}, {"BOOL":..}, {"M":..}, {"L":..}, {"NULL":true}) into a
// plain value tree, and encodes value trees back into it.
//
// Decoded values are one of: string, decimal.Decimal, bool, nil, map[string]any, []any.
package attrvalue

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "S"
	case KindNumber:
		return "N"
	case KindBool:
		return "BOOL"
	case KindMap:
		return "M"
	case KindList:
		return "L"
	default:
		return "NULL"
	}
}

// AttributeValue is one tagged attribute. Text holds the payload of S and N.
type AttributeValue struct {
	Kind Kind
	Text string
	Bool bool
	Map  map[string]AttributeValue
	List []AttributeValue
}

// Image is a full record snapshot, attribute name -> tagged value.
type Image map[string]AttributeValue

func String(s string) AttributeValue { return AttributeValue{Kind: KindString, Text: s} }
func Number(n string) AttributeValue { return AttributeValue{Kind: KindNumber, Text: n} }
func Bool(b bool) AttributeValue     { return AttributeValue{Kind: KindBool, Bool: b} }
func Null() AttributeValue           { return AttributeValue{Kind: KindNull} }

func List(l ...AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindList, List: l}
}
func Map(m map[string]AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindMap, Map: m}
}

func (av *AttributeValue) UnmarshalJSON(b []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return errors.Wrap(err, "attribute value")
	}
	if len(tagged) != 1 {
		return errors.Errorf("attribute value must carry exactly one type tag, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "S":
			av.Kind = KindString
			return json.Unmarshal(raw, &av.Text)
		case "N":
			av.Kind = KindNumber
			if err := json.Unmarshal(raw, &av.Text); err != nil {
				return errors.Wrap(err, "N must be a numeric string")
			}
			if _, err := decimal.NewFromString(av.Text); err != nil {
				return errors.Wrapf(err, "N %q", av.Text)
			}
			return nil
		case "BOOL":
			av.Kind = KindBool
			return json.Unmarshal(raw, &av.Bool)
		case "NULL":
			av.Kind = KindNull
			return nil
		case "M":
			av.Kind = KindMap
			av.Map = map[string]AttributeValue{}
			return json.Unmarshal(raw, &av.Map)
		case "L":
			av.Kind = KindList
			return json.Unmarshal(raw, &av.List)
		default:
			return errors.Errorf("unsupported attribute type %q", tag)
		}
	}
	return nil
}

func (av AttributeValue) MarshalJSON() ([]byte, error) {
	switch av.Kind {
	case KindString:
		return json.Marshal(map[string]string{"S": av.Text})
	case KindNumber:
		return json.Marshal(map[string]string{"N": av.Text})
	case KindBool:
		return json.Marshal(map[string]bool{"BOOL": av.Bool})
	case KindMap:
		m := av.Map
		if m == nil {
			m = map[string]AttributeValue{}
		}
		return json.Marshal(map[string]map[string]AttributeValue{"M": m})
	case KindList:
		l := av.List
		if l == nil {
			l = []AttributeValue{}
		}
		return json.Marshal(map[string][]AttributeValue{"L": l})
	default:
		return []byte(`{"NULL":true}`), nil
	}
}

// Decode converts one tagged value into the plain value tree.
func Decode(av AttributeValue) (any, error) {
	switch av.Kind {
	case KindString:
		return av.Text, nil
	case KindNumber:
		d, err := decimal.NewFromString(av.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "N %q", av.Text)
		}
		return d, nil
	case KindBool:
		return av.Bool, nil
	case KindNull:
		return nil, nil
	case KindMap:
		return DecodeImage(av.Map)
	case KindList:
		out := make([]any, 0, len(av.List))
		for i, el := range av.List {
			v, err := Decode(el)
			if err != nil {
				return nil, errors.Wrapf(err, "[%d]", i)
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, errors.Errorf("unknown attribute kind %d", av.Kind)
}

func DecodeImage(img map[string]AttributeValue) (map[string]any, error) {
	out := make(map[string]any, len(img))
	for k, av := range img {
		v, err := Decode(av)
		if err != nil {
			return nil, errors.Wrap(err, k)
		}
		out[k] = v
	}
	return out, nil
}

// Encode is the inverse of Decode. Integers and floats are accepted as numbers.
func Encode(v any) (AttributeValue, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case decimal.Decimal:
		return Number(t.String()), nil
	case int:
		return Number(decimal.NewFromInt(int64(t)).String()), nil
	case int64:
		return Number(decimal.NewFromInt(t).String()), nil
	case float64:
		return Number(decimal.NewFromFloat(t).String()), nil
	case map[string]any:
		m, err := EncodeImage(t)
		if err != nil {
			return AttributeValue{}, err
		}
		return Map(m), nil
	case []any:
		l := make([]AttributeValue, 0, len(t))
		for i, el := range t {
			av, err := Encode(el)
			if err != nil {
				return AttributeValue{}, errors.Wrapf(err, "[%d]", i)
			}
			l = append(l, av)
		}
		return List(l...), nil
	}
	return AttributeValue{}, errors.Errorf("cannot encode %T", v)
}

func EncodeImage(m map[string]any) (Image, error) {
	out := make(Image, len(m))
	for k, v := range m {
		av, err := Encode(v)
		if err != nil {
			return nil, errors.Wrap(err, k)
		}
		out[k] = av
	}
	return out, nil
}
