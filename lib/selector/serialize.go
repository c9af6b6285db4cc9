// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ExtensionKey is the payload key holding protocol-extension fields,
// keyed by field number.
const ExtensionKey = "extension"

// Serialize encodes data against the schema for selector. Nested maps
// become submessages, slices become repeated fields, enum fields accept
// symbolic names (or ordinals), and nil values are skipped. Unknown
// field names and unknown enum names are a [SerializationError].
func (r *Registry) Serialize(selector string, data map[string]any) ([]byte, error) {
	descriptor, err := r.Resolve(selector)
	if err != nil {
		return nil, err
	}
	message := dynamicpb.NewMessage(descriptor)
	encoder := &encoder{registry: r, selector: selector}
	if err := encoder.fill(message, data, ""); err != nil {
		return nil, err
	}
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(message)
	if err != nil {
		return nil, &SerializationError{Selector: selector, Reason: "marshal failed", Err: err}
	}
	return raw, nil
}

type encoder struct {
	registry *Registry
	selector string
}

func (e *encoder) fail(field, reason string, args ...any) error {
	return &SerializationError{Selector: e.selector, Field: field, Reason: fmt.Sprintf(reason, args...)}
}

func joinField(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (e *encoder) fill(message protoreflect.Message, data map[string]any, prefix string) error {
	descriptor := message.Descriptor()
	for name, value := range data {
		if value == nil {
			continue
		}
		fieldPath := joinField(prefix, name)
		if name == ExtensionKey && descriptor.Fields().ByName(protoreflect.Name(name)) == nil {
			if err := e.fillExtensions(message, value, fieldPath); err != nil {
				return err
			}
			continue
		}
		field := descriptor.Fields().ByName(protoreflect.Name(name))
		if field == nil {
			return e.fail(fieldPath, "unknown field for %s", descriptor.FullName())
		}
		if err := e.setField(message, field, value, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) fillExtensions(message protoreflect.Message, value any, fieldPath string) error {
	entries := reflect.ValueOf(value)
	if entries.Kind() != reflect.Map {
		return e.fail(fieldPath, "extension payload must be a map keyed by field number, got %T", value)
	}
	iterator := entries.MapRange()
	for iterator.Next() {
		number, err := extensionNumber(iterator.Key().Interface())
		if err != nil {
			return e.fail(fieldPath, "%v", err)
		}
		extensionType, err := e.registry.types.FindExtensionByNumber(message.Descriptor().FullName(), number)
		if err != nil {
			return e.fail(fieldPath, "unknown extension %d for %s", number, message.Descriptor().FullName())
		}
		entry := iterator.Value().Interface()
		if entry == nil {
			continue
		}
		extensionPath := joinField(fieldPath, strconv.Itoa(int(number)))
		if err := e.setField(message, extensionType.TypeDescriptor(), entry, extensionPath); err != nil {
			return err
		}
	}
	return nil
}

func extensionNumber(key any) (protoreflect.FieldNumber, error) {
	switch typed := key.(type) {
	case string:
		parsed, err := strconv.ParseInt(typed, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("extension key %q is not a field number", typed)
		}
		return protoreflect.FieldNumber(parsed), nil
	default:
		number, ok := asInt64(key)
		if !ok {
			return 0, fmt.Errorf("extension key %v (%T) is not a field number", key, key)
		}
		return protoreflect.FieldNumber(number), nil
	}
}

func (e *encoder) setField(message protoreflect.Message, field protoreflect.FieldDescriptor, value any, fieldPath string) error {
	switch {
	case field.IsMap():
		return e.setMap(message, field, value, fieldPath)
	case field.IsList():
		return e.setList(message, field, value, fieldPath)
	case field.Message() != nil:
		nested, ok := value.(map[string]any)
		if !ok {
			return e.fail(fieldPath, "expected a mapping for message field, got %T", value)
		}
		child := message.NewField(field).Message()
		if err := e.fill(child, nested, fieldPath); err != nil {
			return err
		}
		message.Set(field, protoreflect.ValueOfMessage(child))
		return nil
	default:
		converted, err := e.scalar(field, value, fieldPath)
		if err != nil {
			return err
		}
		message.Set(field, converted)
		return nil
	}
}

func (e *encoder) setList(message protoreflect.Message, field protoreflect.FieldDescriptor, value any, fieldPath string) error {
	items := reflect.ValueOf(value)
	if items.Kind() != reflect.Slice && items.Kind() != reflect.Array {
		return e.fail(fieldPath, "expected a list for repeated field, got %T", value)
	}
	// A []byte for a repeated field is almost always a mistake; reject it
	// rather than treat each byte as an element.
	if _, isBytes := value.([]byte); isBytes {
		return e.fail(fieldPath, "expected a list for repeated field, got []byte")
	}
	list := message.NewField(field).List()
	for i := 0; i < items.Len(); i++ {
		item := items.Index(i).Interface()
		if item == nil {
			continue
		}
		itemPath := fmt.Sprintf("%s[%d]", fieldPath, i)
		if field.Message() != nil {
			nested, ok := item.(map[string]any)
			if !ok {
				return e.fail(itemPath, "expected a mapping for repeated message element, got %T", item)
			}
			element := list.NewElement()
			if err := e.fill(element.Message(), nested, itemPath); err != nil {
				return err
			}
			list.Append(element)
			continue
		}
		converted, err := e.scalar(field, item, itemPath)
		if err != nil {
			return err
		}
		list.Append(converted)
	}
	message.Set(field, protoreflect.ValueOfList(list))
	return nil
}

func (e *encoder) setMap(message protoreflect.Message, field protoreflect.FieldDescriptor, value any, fieldPath string) error {
	entries := reflect.ValueOf(value)
	if entries.Kind() != reflect.Map {
		return e.fail(fieldPath, "expected a mapping for map field, got %T", value)
	}
	target := message.NewField(field).Map()
	keyField := field.MapKey()
	valueField := field.MapValue()
	iterator := entries.MapRange()
	for iterator.Next() {
		rawKey := iterator.Key().Interface()
		entryPath := fmt.Sprintf("%s[%v]", fieldPath, rawKey)
		key, err := e.scalar(keyField, rawKey, entryPath)
		if err != nil {
			return err
		}
		rawValue := iterator.Value().Interface()
		if rawValue == nil {
			continue
		}
		if valueField.Message() != nil {
			nested, ok := rawValue.(map[string]any)
			if !ok {
				return e.fail(entryPath, "expected a mapping for map value, got %T", rawValue)
			}
			element := target.NewValue()
			if err := e.fill(element.Message(), nested, entryPath); err != nil {
				return err
			}
			target.Set(key.MapKey(), element)
			continue
		}
		converted, err := e.scalar(valueField, rawValue, entryPath)
		if err != nil {
			return err
		}
		target.Set(key.MapKey(), converted)
	}
	message.Set(field, protoreflect.ValueOfMap(target))
	return nil
}

func (e *encoder) scalar(field protoreflect.FieldDescriptor, value any, fieldPath string) (protoreflect.Value, error) {
	switch field.Kind() {
	case protoreflect.BoolKind:
		if typed, ok := value.(bool); ok {
			return protoreflect.ValueOfBool(typed), nil
		}
	case protoreflect.StringKind:
		switch typed := value.(type) {
		case string:
			return protoreflect.ValueOfString(typed), nil
		case []byte:
			return protoreflect.ValueOfString(string(typed)), nil
		}
	case protoreflect.BytesKind:
		switch typed := value.(type) {
		case []byte:
			return protoreflect.ValueOfBytes(typed), nil
		case string:
			return protoreflect.ValueOfBytes([]byte(typed)), nil
		}
	case protoreflect.EnumKind:
		return e.enum(field, value, fieldPath)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if number, ok := asInt64(value); ok && number >= math.MinInt32 && number <= math.MaxInt32 {
			return protoreflect.ValueOfInt32(int32(number)), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if number, ok := asInt64(value); ok {
			return protoreflect.ValueOfInt64(number), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if number, ok := asUint64(value); ok && number <= math.MaxUint32 {
			return protoreflect.ValueOfUint32(uint32(number)), nil
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if number, ok := asUint64(value); ok {
			return protoreflect.ValueOfUint64(number), nil
		}
	case protoreflect.FloatKind:
		if number, ok := asFloat64(value); ok {
			return protoreflect.ValueOfFloat32(float32(number)), nil
		}
	case protoreflect.DoubleKind:
		if number, ok := asFloat64(value); ok {
			return protoreflect.ValueOfFloat64(number), nil
		}
	}
	return protoreflect.Value{}, e.fail(fieldPath, "cannot use %T as %s", value, field.Kind())
}

func (e *encoder) enum(field protoreflect.FieldDescriptor, value any, fieldPath string) (protoreflect.Value, error) {
	values := field.Enum().Values()
	if name, ok := value.(string); ok {
		enumValue := values.ByName(protoreflect.Name(name))
		if enumValue == nil {
			return protoreflect.Value{}, e.fail(fieldPath, "unknown enum name %q for %s", name, field.Enum().FullName())
		}
		return protoreflect.ValueOfEnum(enumValue.Number()), nil
	}
	if number, ok := asInt64(value); ok && number >= math.MinInt32 && number <= math.MaxInt32 {
		if values.ByNumber(protoreflect.EnumNumber(number)) == nil {
			return protoreflect.Value{}, e.fail(fieldPath, "unknown enum ordinal %d for %s", number, field.Enum().FullName())
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(number)), nil
	}
	return protoreflect.Value{}, e.fail(fieldPath, "cannot use %T as enum %s", value, field.Enum().FullName())
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint:
		return int64(typed), typed <= math.MaxInt64
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		return int64(typed), typed <= math.MaxInt64
	case float64:
		return floatToInt64(typed)
	case float32:
		return floatToInt64(float64(typed))
	}
	return 0, false
}

// floatToInt64 accepts integral floats in [-2^63, 2^63). MaxInt64 is not
// representable as a float64 and rounds up to 2^63, so the upper bound
// is exclusive.
func floatToInt64(value float64) (int64, bool) {
	if value != math.Trunc(value) || value < -0x1p63 || value >= 0x1p63 {
		return 0, false
	}
	return int64(value), true
}

func asUint64(value any) (uint64, bool) {
	switch typed := value.(type) {
	case uint:
		return uint64(typed), true
	case uint8:
		return uint64(typed), true
	case uint16:
		return uint64(typed), true
	case uint32:
		return uint64(typed), true
	case uint64:
		return typed, true
	}
	number, ok := asInt64(value)
	if !ok || number < 0 {
		return 0, false
	}
	return uint64(number), true
}

func asFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	}
	number, ok := asInt64(value)
	return float64(number), ok
}
