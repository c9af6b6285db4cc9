// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Deserialize decodes raw against the schema for selector into a
// generic map. Only populated fields appear in the result. Bytes fields
// stay []byte, enum fields become their symbolic name (or the ordinal
// when the number is not declared), submessages become nested maps,
// repeated fields become []any, and extension fields are collected
// under [ExtensionKey] keyed by field number.
func (r *Registry) Deserialize(selector string, raw []byte) (map[string]any, error) {
	descriptor, err := r.Resolve(selector)
	if err != nil {
		return nil, err
	}
	message := dynamicpb.NewMessage(descriptor)
	options := proto.UnmarshalOptions{Resolver: r.types}
	if err := options.Unmarshal(raw, message); err != nil {
		return nil, &SerializationError{Selector: selector, Reason: "unmarshal failed", Err: err}
	}
	return messageToMap(message), nil
}

func messageToMap(message protoreflect.Message) map[string]any {
	result := make(map[string]any)
	var extensions map[int32]any
	message.Range(func(field protoreflect.FieldDescriptor, value protoreflect.Value) bool {
		converted := fieldToAny(field, value)
		if field.IsExtension() {
			if extensions == nil {
				extensions = make(map[int32]any)
			}
			extensions[int32(field.Number())] = converted
			return true
		}
		result[string(field.Name())] = converted
		return true
	})
	if extensions != nil {
		result[ExtensionKey] = extensions
	}
	return result
}

func fieldToAny(field protoreflect.FieldDescriptor, value protoreflect.Value) any {
	switch {
	case field.IsMap():
		entries := make(map[any]any)
		valueField := field.MapValue()
		value.Map().Range(func(key protoreflect.MapKey, entry protoreflect.Value) bool {
			entries[key.Interface()] = singularToAny(valueField, entry)
			return true
		})
		return entries
	case field.IsList():
		list := value.List()
		items := make([]any, list.Len())
		for i := 0; i < list.Len(); i++ {
			items[i] = singularToAny(field, list.Get(i))
		}
		return items
	default:
		return singularToAny(field, value)
	}
}

func singularToAny(field protoreflect.FieldDescriptor, value protoreflect.Value) any {
	switch field.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return messageToMap(value.Message())
	case protoreflect.EnumKind:
		number := value.Enum()
		if enumValue := field.Enum().Values().ByNumber(number); enumValue != nil {
			return string(enumValue.Name())
		}
		return int32(number)
	case protoreflect.BytesKind:
		raw := value.Bytes()
		copied := make([]byte, len(raw))
		copy(copied, raw)
		return copied
	default:
		return value.Interface()
	}
}
