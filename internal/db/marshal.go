package db

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Marshaller converts between domain values and the native values the
// call layer binds and reads. The zero value is the strict marshaller:
// natives outside the closed type table fail the conversion. Permissive
// restores the pass-through behavior for unrecognized natives.
type Marshaller struct {
	Permissive bool
}

// pgTimestamp is the text rendering of the single native timestamp
// representation all temporal domain values collapse to.
const pgTimestamp = "2006-01-02 15:04:05.999999999Z07:00"

// ToNative converts a domain value into the representation the call
// layer binds. Scalars and booleans map one to one, every temporal
// value collapses to the native timestamp type, slices map through the
// closed array element table, and Records are converted field by field
// in descriptor order.
func (m *Marshaller) ToNative(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, []byte, float32, float64,
		int, int8, int16, int32, int64:
		return x, nil
	case time.Time:
		return x, nil
	case Record:
		return m.recordToStruct(x)
	case *Record:
		if x == nil {
			return nil, nil
		}
		return m.recordToStruct(*x)
	case Struct:
		return x, nil
	case []string, []int64, []float64, []bool, [][]byte:
		return pq.Array(x), nil
	case []int, []int32, []int16, []float32:
		return pq.GenericArray{A: x}, nil
	case []time.Time:
		return pq.GenericArray{A: x}, nil
	case *OutParam:
		return nil, unsupported("out parameter outside procedure call")
	case *Cursor:
		return nil, unsupported("cursor cannot be bound as an input")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return nil, unsupported("array element %s", rv.Type().Elem())
	}
	return nil, unsupported("%T", v)
}

// ToNativeArray converts an untyped element sequence with a declared
// element kind into a native array value. Element kinds outside the
// closed table fail the call.
func (m *Marshaller) ToNativeArray(elem Kind, values []any) (any, error) {
	if _, ok := arrayElemType[elem]; !ok {
		return nil, unsupported("array element kind %s", elem)
	}
	texts := make([]string, len(values))
	nulls := make([]bool, len(values))
	for i, v := range values {
		if v == nil {
			nulls[i] = true
			continue
		}
		native, err := m.ToNative(v)
		if err != nil {
			return nil, err
		}
		text, null, err := formatNativeText(native)
		if err != nil {
			return nil, err
		}
		texts[i], nulls[i] = text, null
	}
	return textArray(encodeArray(texts, nulls)), nil
}

// textArray is a pre-encoded native array literal.
type textArray string

func (a textArray) Value() (driver.Value, error) { return string(a), nil }

func (m *Marshaller) recordToStruct(rec Record) (Struct, error) {
	if rec.Desc == nil {
		return Struct{}, unsupported("record without UDT descriptor")
	}
	attrs := make([]any, 0, len(rec.Desc.Fields))
	for _, field := range rec.Desc.Fields {
		v := rec.Fields[field.Name]
		native, err := m.fieldToNative(v, field.Type)
		if err != nil {
			return Struct{}, fmt.Errorf("udt %s field %s: %w", rec.Desc.Name, field.Name, err)
		}
		attrs = append(attrs, native)
	}
	return Struct{Name: rec.Desc.Name, Attrs: attrs}, nil
}

func (m *Marshaller) fieldToNative(v any, dest DestType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dest.Kind {
	case KindStruct:
		rec, ok := v.(Record)
		if !ok {
			return nil, unsupported("%T as struct field", v)
		}
		if dest.UDT != nil && rec.Desc == nil {
			rec.Desc = dest.UDT
		}
		return m.recordToStruct(rec)
	case KindArray:
		if vs, ok := v.([]any); ok {
			return m.ToNativeArray(dest.Elem, vs)
		}
		return m.ToNative(v)
	default:
		return m.ToNative(v)
	}
}

// Value renders the structured value as its native composite literal so
// it binds directly as a call parameter.
func (s Struct) Value() (driver.Value, error) {
	texts := make([]string, len(s.Attrs))
	nulls := make([]bool, len(s.Attrs))
	for i, attr := range s.Attrs {
		text, null, err := formatNativeText(attr)
		if err != nil {
			return nil, err
		}
		texts[i], nulls[i] = text, null
	}
	return encodeComposite(texts, nulls), nil
}

// formatNativeText renders a native value into the text form used
// inside composite and array literals.
func formatNativeText(v any) (text string, null bool, err error) {
	switch x := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return x, false, nil
	case bool:
		if x {
			return "t", false, nil
		}
		return "f", false, nil
	case int:
		return strconv.FormatInt(int64(x), 10), false, nil
	case int8:
		return strconv.FormatInt(int64(x), 10), false, nil
	case int16:
		return strconv.FormatInt(int64(x), 10), false, nil
	case int32:
		return strconv.FormatInt(int64(x), 10), false, nil
	case int64:
		return strconv.FormatInt(x, 10), false, nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), false, nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), false, nil
	case time.Time:
		return x.Format(pgTimestamp), false, nil
	case []byte:
		return `\x` + hex.EncodeToString(x), false, nil
	case Struct:
		val, err := x.Value()
		if err != nil {
			return "", false, err
		}
		return val.(string), false, nil
	case textArray:
		return string(x), false, nil
	}
	return "", false, unsupported("%T inside composite value", v)
}

// FromNative converts a native value back into a domain value. Nil
// stays nil. A zero DestType (KindObject) triggers best-effort
// inference: temporal and structured natives are converted, scalars in
// the closed table pass through, and anything else fails unless the
// marshaller is permissive.
func (m *Marshaller) FromNative(native any, dest DestType) (any, error) {
	return m.fromNative(native, dest, nil)
}

// FromNativeUDT behaves like FromNative with a type-name map for
// decoding structured natives on the untyped path.
func (m *Marshaller) FromNativeUDT(native any, dest DestType, udtMap UDTMap) (any, error) {
	return m.fromNative(native, dest, udtMap)
}

func (m *Marshaller) fromNative(native any, dest DestType, udtMap UDTMap) (any, error) {
	if native == nil {
		return nil, nil
	}
	switch dest.Kind {
	case KindObject:
		return m.inferDecode(native, udtMap)
	case KindBool:
		return decodeBool(native)
	case KindTinyInt, KindSmallInt, KindInteger, KindBigInt:
		return decodeInt(native)
	case KindFloat, KindDouble:
		return decodeFloat(native)
	case KindNumeric:
		return decodeNumeric(native)
	case KindVarchar:
		return decodeString(native)
	case KindBinary:
		return decodeBinary(native)
	case KindTimestamp:
		return decodeTime(native)
	case KindArray:
		return m.decodeArray(native, dest.Elem, udtMap)
	case KindStruct:
		return m.decodeStruct(native, dest.UDT, udtMap)
	case KindCursor, KindTable:
		return nil, unsupported("%s destination outside result decoding", dest.Kind)
	}
	return nil, unsupported("destination kind %s", dest.Kind)
}

func (m *Marshaller) inferDecode(native any, udtMap UDTMap) (any, error) {
	switch x := native.(type) {
	case bool, string, []byte, float32, float64,
		int, int8, int16, int32, int64:
		return x, nil
	case time.Time:
		return x, nil
	case Struct:
		if desc, ok := udtMap[x.Name]; ok {
			return m.structToRecord(x, desc, udtMap)
		}
		// Unregistered UDT: the ordered attribute list is still usable.
		return x.Attrs, nil
	}
	if m.Permissive {
		return native, nil
	}
	return nil, unsupported("native %T", native)
}

func (m *Marshaller) decodeArray(native any, elem Kind, udtMap UDTMap) (any, error) {
	if _, ok := arrayElemType[elem]; !ok && elem != KindObject {
		return nil, unsupported("array element kind %s", elem)
	}
	var raw []*string
	switch x := native.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			v, err := m.fromNative(e, DestType{Kind: elem}, udtMap)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case string:
		var err error
		raw, err = parseArray(x)
		if err != nil {
			return nil, err
		}
	case []byte:
		var err error
		raw, err = parseArray(string(x))
		if err != nil {
			return nil, err
		}
	default:
		return nil, unsupported("%T as native array", native)
	}
	out := make([]any, len(raw))
	for i, e := range raw {
		if e == nil {
			continue
		}
		v, err := m.fromNative(*e, DestType{Kind: elem}, udtMap)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Marshaller) decodeStruct(native any, desc *UDTDescriptor, udtMap UDTMap) (any, error) {
	if desc == nil {
		return nil, unsupported("struct destination without UDT descriptor")
	}
	switch x := native.(type) {
	case Struct:
		if x.Name != "" && !strings.EqualFold(x.Name, desc.Name) {
			return nil, fmt.Errorf("db: cannot convert UDT value from %s to %s", x.Name, desc.Name)
		}
		return m.structToRecord(x, desc, udtMap)
	case string:
		return m.decodeStructText(x, desc, udtMap)
	case []byte:
		return m.decodeStructText(string(x), desc, udtMap)
	}
	return nil, unsupported("%T as native struct", native)
}

func (m *Marshaller) decodeStructText(text string, desc *UDTDescriptor, udtMap UDTMap) (any, error) {
	raw, err := parseComposite(text)
	if err != nil {
		return nil, err
	}
	attrs := make([]any, len(raw))
	for i, r := range raw {
		if r != nil {
			attrs[i] = *r
		}
	}
	return m.structToRecord(Struct{Name: desc.Name, Attrs: attrs}, desc, udtMap)
}

func (m *Marshaller) structToRecord(s Struct, desc *UDTDescriptor, udtMap UDTMap) (Record, error) {
	rec := Record{Desc: desc, Fields: make(map[string]any, len(desc.Fields))}
	for i, field := range desc.Fields {
		if i >= len(s.Attrs) {
			break
		}
		v, err := m.fromNative(s.Attrs[i], field.Type, udtMap)
		if err != nil {
			return Record{}, fmt.Errorf("udt %s field %s: %w", desc.Name, field.Name, err)
		}
		rec.Fields[field.Name] = v
	}
	return rec, nil
}

func decodeBool(native any) (any, error) {
	switch x := native.(type) {
	case bool:
		return x, nil
	case string:
		return parseBoolText(x)
	case []byte:
		return parseBoolText(string(x))
	}
	return nil, unsupported("%T as bool", native)
}

func parseBoolText(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func decodeInt(native any) (any, error) {
	switch x := native.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("db: non-integral %v as integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return nil, unsupported("%T as integer", native)
}

func decodeFloat(native any) (any, error) {
	switch x := native.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	}
	return nil, unsupported("%T as float", native)
}

// decodeNumeric keeps arbitrary-precision values as their text form.
func decodeNumeric(native any) (any, error) {
	switch x := native.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return nil, unsupported("%T as numeric", native)
}

func decodeString(native any) (any, error) {
	switch x := native.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return nil, unsupported("%T as string", native)
}

func decodeBinary(native any) (any, error) {
	switch x := native.(type) {
	case []byte:
		return x, nil
	case string:
		if strings.HasPrefix(x, `\x`) {
			return hex.DecodeString(x[2:])
		}
		return []byte(x), nil
	}
	return nil, unsupported("%T as binary", native)
}

func decodeTime(native any) (any, error) {
	switch x := native.(type) {
	case time.Time:
		return x, nil
	case string:
		return parseTimeText(x)
	case []byte:
		return parseTimeText(string(x))
	}
	return nil, unsupported("%T as timestamp", native)
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{pgTimestamp, time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("db: cannot parse timestamp %q", s)
}
