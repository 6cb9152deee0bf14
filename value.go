// value.go: tagged variable values and explicit coercion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ValueType tags the kind of data held by a Value.
type ValueType int

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBoolean
	TypeArray
	TypeObject
)

// String returns the lowercase name used in configuration files.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// ParseValueType maps a configuration type name to a ValueType.
// An empty name means string.
func ParseValueType(name string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "string", "str":
		return TypeString, nil
	case "number", "int", "integer", "float":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "array", "list":
		return TypeArray, nil
	case "object", "map":
		return TypeObject, nil
	default:
		return TypeString, fmt.Errorf("unknown value type %q", name)
	}
}

// Value is an immutable tagged union holding exactly one of
// string, number, boolean, array or object.
type Value struct {
	kind ValueType
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
}

func StringValue(s string) Value  { return Value{kind: TypeString, str: s} }
func NumberValue(n float64) Value { return Value{kind: TypeNumber, num: n} }
func BooleanValue(b bool) Value   { return Value{kind: TypeBoolean, b: b} }

// ArrayValue copies items into a new array value.
func ArrayValue(items ...Value) Value {
	arr := make([]Value, len(items))
	for i, item := range items {
		arr[i] = item.Clone()
	}
	return Value{kind: TypeArray, arr: arr}
}

// ObjectValue copies fields into a new object value.
func ObjectValue(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v.Clone()
	}
	return Value{kind: TypeObject, obj: obj}
}

func (v Value) Kind() ValueType { return v.kind }

func (v Value) AsString() (string, bool)  { return v.str, v.kind == TypeString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == TypeNumber }
func (v Value) AsBoolean() (bool, bool)   { return v.b, v.kind == TypeBoolean }

// AsArray returns a copy of the array elements.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != TypeArray {
		return nil, false
	}
	out := make([]Value, len(v.arr))
	for i, item := range v.arr {
		out[i] = item.Clone()
	}
	return out, true
}

// AsObject returns a copy of the object fields.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != TypeObject {
		return nil, false
	}
	out := make(map[string]Value, len(v.obj))
	for k, f := range v.obj {
		out[k] = f.Clone()
	}
	return out, true
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case TypeArray:
		return ArrayValue(v.arr...)
	case TypeObject:
		return ObjectValue(v.obj)
	default:
		return v
	}
}

// Equal reports deep equality including the type tag.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case TypeString:
		return v.str == other.str
	case TypeNumber:
		return v.num == other.num
	case TypeBoolean:
		return v.b == other.b
	case TypeArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case TypeObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, f := range v.obj {
			o, ok := other.obj[k]
			if !ok || !f.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts the value to plain Go data (string, float64, bool, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case TypeNumber:
		return v.num
	case TypeBoolean:
		return v.b
	case TypeArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case TypeObject:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.Interface()
		}
		return out
	default:
		return v.str
	}
}

// String renders the value the way it would appear in an environment variable.
// Arrays and objects render as JSON with sorted keys.
func (v Value) String() string {
	switch v.kind {
	case TypeString:
		return v.str
	case TypeNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// MarshalJSON encodes the plain Go form of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// FromAny converts decoded configuration data into a Value. It accepts the
// shapes produced by encoding/json, yaml.v3 and BurntSushi/toml.
func FromAny(data any) (Value, error) {
	switch d := data.(type) {
	case nil:
		return StringValue(""), nil
	case Value:
		return d.Clone(), nil
	case string:
		return StringValue(d), nil
	case bool:
		return BooleanValue(d), nil
	case float64:
		return NumberValue(d), nil
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		n, err := cast.ToFloat64E(d)
		if err != nil {
			return Value{}, err
		}
		return NumberValue(n), nil
	case []any:
		arr := make([]Value, 0, len(d))
		for _, item := range d {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, v)
		}
		return Value{kind: TypeArray, arr: arr}, nil
	case []string:
		arr := make([]Value, 0, len(d))
		for _, item := range d {
			arr = append(arr, StringValue(item))
		}
		return Value{kind: TypeArray, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]Value, len(d))
		for k, item := range d {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Value{kind: TypeObject, obj: obj}, nil
	case map[any]any:
		obj := make(map[string]Value, len(d))
		for k, item := range d {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[fmt.Sprint(k)] = v
		}
		return Value{kind: TypeObject, obj: obj}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", data)
	}
}

// Coerce converts a raw environment string to the target type.
//
// Numbers go through strconv.ParseFloat. Booleans accept true/false, 1/0,
// yes/no and on/off. Arrays accept a JSON array or a comma separated list.
// Objects require a JSON object.
func Coerce(raw string, target ValueType) (Value, error) {
	trimmed := strings.TrimSpace(raw)
	switch target {
	case TypeString:
		return StringValue(raw), nil
	case TypeNumber:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, NewCoercionFailedError(raw, target, err)
		}
		return NumberValue(n), nil
	case TypeBoolean:
		switch strings.ToLower(trimmed) {
		case "true", "1", "yes", "on":
			return BooleanValue(true), nil
		case "false", "0", "no", "off", "":
			return BooleanValue(false), nil
		}
		return Value{}, NewCoercionFailedError(raw, target, nil)
	case TypeArray:
		if strings.HasPrefix(trimmed, "[") {
			var items []any
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return Value{}, NewCoercionFailedError(raw, target, err)
			}
			return FromAny(items)
		}
		if trimmed == "" {
			return Value{kind: TypeArray, arr: []Value{}}, nil
		}
		parts := strings.Split(trimmed, ",")
		arr := make([]Value, 0, len(parts))
		for _, p := range parts {
			arr = append(arr, StringValue(strings.TrimSpace(p)))
		}
		return Value{kind: TypeArray, arr: arr}, nil
	case TypeObject:
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return Value{}, NewCoercionFailedError(raw, target, err)
		}
		return FromAny(fields)
	default:
		return Value{}, NewCoercionFailedError(raw, target, nil)
	}
}

// CoerceValue converts an already typed value to target. Strings are parsed
// with Coerce; a matching type is returned unchanged; numbers and booleans
// convert to strings.
func CoerceValue(v Value, target ValueType) (Value, error) {
	if v.kind == target {
		return v.Clone(), nil
	}
	if target == TypeString && v.kind != TypeArray && v.kind != TypeObject {
		return StringValue(v.String()), nil
	}
	if v.kind == TypeString {
		return Coerce(v.str, target)
	}
	return Value{}, NewCoercionFailedError(v.String(), target, nil)
}
