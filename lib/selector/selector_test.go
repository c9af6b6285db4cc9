// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func TestSelectorForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"v3/asset/ip/v4/v4.proto", "v3.asset.ip.v4"},
		{"/v3/asset/ip.proto", "v3.asset"},
		{"top.proto", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := selectorForPath(tt.path); got != tt.want {
				t.Errorf("selectorForPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestAncestors(t *testing.T) {
	got := Ancestors("v3.asset.ip.v4")
	want := []string{"v3.asset.ip", "v3.asset", "v3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Ancestors = %v, want %v", got, want)
	}
	if got := Ancestors("v3"); len(got) != 0 {
		t.Errorf("Ancestors(v3) = %v, want empty", got)
	}
}

func TestResolve(t *testing.T) {
	registry := MustBuiltin()

	t.Run("single match", func(t *testing.T) {
		descriptor, err := registry.Resolve("v3.asset.ip.v4")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if descriptor.FullName() != "v3.asset.ip.v4.Message" {
			t.Errorf("resolved %s", descriptor.FullName())
		}
	})

	t.Run("no match", func(t *testing.T) {
		_, err := registry.Resolve("v3.asset.nothing")
		var missing *NoMatchingSchemaError
		if !errors.As(err, &missing) {
			t.Fatalf("expected NoMatchingSchemaError, got %v", err)
		}
		if missing.Selector != "v3.asset.nothing" {
			t.Errorf("selector = %q", missing.Selector)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		ambiguous := MustBuiltin()
		err := ambiguous.RegisterFileProto(schemaFile("v3/asset/ip/v4/alternate.proto", "v3.asset.ip.v4.alternate",
			&descriptorpb.DescriptorProto{
				Name:  proto.String("Message"),
				Field: []*descriptorpb.FieldDescriptorProto{scalarField("host", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}))
		if err != nil {
			t.Fatalf("RegisterFileProto: %v", err)
		}
		_, err = ambiguous.Resolve("v3.asset.ip.v4")
		var conflict *AmbiguousSchemaError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected AmbiguousSchemaError, got %v", err)
		}
		if len(conflict.Candidates) != 2 {
			t.Errorf("candidates = %v, want 2", conflict.Candidates)
		}
	})

	t.Run("unknown selector fails serialize", func(t *testing.T) {
		_, err := registry.Serialize("v3.nope", map[string]any{"x": 1})
		var missing *NoMatchingSchemaError
		if !errors.As(err, &missing) {
			t.Fatalf("expected NoMatchingSchemaError, got %v", err)
		}
	})
}

// allTypesRegistry registers "test.all" with one field of every
// supported shape, and a proto2 "test.ext" schema with one extension.
func allTypesRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()

	color := &descriptorpb.EnumDescriptorProto{
		Name:  proto.String("Color"),
		Value: []*descriptorpb.EnumValueDescriptorProto{enumValue("NONE", 0), enumValue("RED", 1), enumValue("BLUE", 2)},
	}
	child := &descriptorpb.DescriptorProto{
		Name: proto.String("Child"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("label", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("weight", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		},
	}
	childField := scalarField("child", 10, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	childField.TypeName = proto.String(".test.all.Message.Child")

	err := registry.RegisterFileProto(schemaFile("test/all/all.proto", "test.all", &descriptorpb.DescriptorProto{
		Name:       proto.String("Message"),
		NestedType: []*descriptorpb.DescriptorProto{child},
		EnumType:   []*descriptorpb.EnumDescriptorProto{color},
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("blob", 2, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
			scalarField("count", 3, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			scalarField("ratio", 4, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
			scalarField("enabled", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
			enumField("color", 6, ".test.all.Message.Color"),
			repeatedScalarField("tags", 7, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			repeatedMessageField("children", 8, ".test.all.Message.Child"),
			scalarField("port", 9, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
			childField,
		},
	}))
	if err != nil {
		t.Fatalf("registering test.all: %v", err)
	}

	extensionFile := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("test/ext/ext.proto"),
		Package: proto.String("test.ext"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name:  proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{scalarField("base", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			ExtensionRange: []*descriptorpb.DescriptorProto_ExtensionRange{
				{Start: proto.Int32(100), End: proto.Int32(200)},
			},
		}},
		Extension: []*descriptorpb.FieldDescriptorProto{{
			Name:     proto.String("note"),
			Number:   proto.Int32(100),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
			Extendee: proto.String(".test.ext.Message"),
		}},
	}
	if err := registry.RegisterFileProto(extensionFile); err != nil {
		t.Fatalf("registering test.ext: %v", err)
	}
	return registry
}

func TestSerializationRoundTrip(t *testing.T) {
	registry := allTypesRegistry(t)

	data := map[string]any{
		"name":    "scanner",
		"blob":    []byte{0x00, 0xff, 0x10, 0x80},
		"count":   int64(-42),
		"ratio":   0.25,
		"enabled": true,
		"color":   "BLUE",
		"tags":    []any{"a", "b", "c"},
		"children": []any{
			map[string]any{"label": "first", "weight": int32(1)},
			map[string]any{"label": "second", "weight": int32(2)},
		},
		"port":  uint32(8443),
		"child": map[string]any{"label": "only"},
	}

	raw, err := registry.Serialize("test.all", data)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := registry.Deserialize("test.all", raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded, data) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", decoded, data)
	}
}

func TestBuiltinRoundTripKeepsExplicitZeroValues(t *testing.T) {
	registry := MustBuiltin()

	tests := []struct {
		selector string
		data     map[string]any
	}{
		{"v3.asset.ip.v4", map[string]any{
			"host":       "10.0.0.1",
			"version":    uint32(4),
			"mask":       "",
			"is_private": false,
		}},
		{"v3.asset.ip.v6", map[string]any{
			"host":       "::1",
			"version":    uint32(0),
			"is_private": true,
		}},
		{"v3.asset.domain_name", map[string]any{"name": ""}},
		{"v3.asset.file", map[string]any{
			"content": []byte("127.0.0.1 localhost"),
			"path":    "/etc/hosts",
		}},
		{"v3.report.vulnerability", map[string]any{
			"title":       "x",
			"risk_rating": "UNKNOWN",
			"references": []any{
				map[string]any{"title": "", "url": "https://example.com"},
			},
			"categories": []any{"web"},
			"raw_output": []byte("out"),
		}},
		{"v3.healthcheck.ping", map[string]any{"body": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			raw, err := registry.Serialize(tt.selector, tt.data)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			decoded, err := registry.Deserialize(tt.selector, raw)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.data) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", decoded, tt.data)
			}
		})
	}
}

func TestSerializeIntegerBounds(t *testing.T) {
	registry := allTypesRegistry(t)

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"largest exact float", float64(1 << 62), false},
		{"two to the 63", 0x1p63, true},
		{"negative two to the 63", -0x1p63, false},
		{"fractional", 1.5, true},
		{"float32 two to the 63", float32(0x1p63), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Serialize("test.all", map[string]any{"count": tt.value})
			if (err != nil) != tt.wantErr {
				t.Errorf("Serialize(count=%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSerializeAcceptsLooseInputTypes(t *testing.T) {
	registry := allTypesRegistry(t)

	raw, err := registry.Serialize("test.all", map[string]any{
		"count":    7,
		"port":     float64(80),
		"color":    1,
		"tags":     []string{"x"},
		"children": []map[string]any{{"label": "typed"}},
		"blob":     "text",
	})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := registry.Deserialize("test.all", raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	want := map[string]any{
		"count":    int64(7),
		"port":     uint32(80),
		"color":    "RED",
		"tags":     []any{"x"},
		"children": []any{map[string]any{"label": "typed"}},
		"blob":     []byte("text"),
	}
	if !reflect.DeepEqual(decoded, want) {
		t.Errorf("decoded %#v, want %#v", decoded, want)
	}
}

func TestSerializeNullIsDefault(t *testing.T) {
	registry := allTypesRegistry(t)

	raw, err := registry.Serialize("test.all", map[string]any{"name": nil, "child": nil, "count": int64(3)})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := registry.Deserialize("test.all", raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded, map[string]any{"count": int64(3)}) {
		t.Errorf("decoded %#v, want only count", decoded)
	}
}

func TestSerializeErrors(t *testing.T) {
	registry := allTypesRegistry(t)

	tests := []struct {
		name      string
		data      map[string]any
		wantField string
	}{
		{"unknown field", map[string]any{"bogus": 1}, "bogus"},
		{"unknown nested field", map[string]any{"child": map[string]any{"bogus": 1}}, "child.bogus"},
		{"unknown enum name", map[string]any{"color": "GREEN"}, "color"},
		{"unknown enum ordinal", map[string]any{"color": 9}, "color"},
		{"wrong scalar type", map[string]any{"enabled": "yes"}, "enabled"},
		{"scalar for message", map[string]any{"child": "flat"}, "child"},
		{"scalar for repeated", map[string]any{"tags": "one"}, "tags"},
		{"negative unsigned", map[string]any{"port": -1}, "port"},
		{"bad repeated element", map[string]any{"children": []any{"flat"}}, "children[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Serialize("test.all", tt.data)
			var serializationErr *SerializationError
			if !errors.As(err, &serializationErr) {
				t.Fatalf("expected SerializationError, got %v", err)
			}
			if serializationErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q (%v)", serializationErr.Field, tt.wantField, err)
			}
		})
	}
}

func TestDeserializeGarbage(t *testing.T) {
	registry := MustBuiltin()
	_, err := registry.Deserialize("v3.asset.ip", []byte{0xff, 0xff, 0xff})
	var serializationErr *SerializationError
	if !errors.As(err, &serializationErr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestExtensionRoundTrip(t *testing.T) {
	registry := allTypesRegistry(t)

	data := map[string]any{
		"base":       "core",
		ExtensionKey: map[int32]any{100: "attached"},
	}
	raw, err := registry.Serialize("test.ext", data)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := registry.Deserialize("test.ext", raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded, data) {
		t.Errorf("decoded %#v, want %#v", decoded, data)
	}

	_, err = registry.Serialize("test.ext", map[string]any{ExtensionKey: map[string]any{"150": "x"}})
	var serializationErr *SerializationError
	if !errors.As(err, &serializationErr) {
		t.Fatalf("unknown extension: expected SerializationError, got %v", err)
	}
}

func TestChildPayloadParsesAsAncestor(t *testing.T) {
	registry := MustBuiltin()

	raw, err := registry.Serialize("v3.asset.ip.v4", map[string]any{
		"host":       "10.0.0.1",
		"version":    uint32(4),
		"mask":       "24",
		"is_private": true,
	})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parent, err := registry.Deserialize("v3.asset.ip", raw)
	if err != nil {
		t.Fatalf("Deserialize as ancestor: %v", err)
	}
	want := map[string]any{"host": "10.0.0.1", "version": uint32(4), "mask": "24"}
	if !reflect.DeepEqual(parent, want) {
		t.Errorf("ancestor view = %#v, want %#v", parent, want)
	}
}

func TestCheckAncestors(t *testing.T) {
	registry := MustBuiltin()
	for _, selector := range []string{"v3.asset.ip.v4", "v3.asset.ip.v6"} {
		if err := registry.CheckAncestors(selector); err != nil {
			t.Errorf("CheckAncestors(%s): %v", selector, err)
		}
	}

	broken := NewRegistry()
	for _, file := range []*descriptorpb.FileDescriptorProto{
		schemaFile("a/b/b.proto", "a.b", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{scalarField("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)},
		}),
		schemaFile("a/b/c/c.proto", "a.b.c", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{scalarField("id", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64)},
		}),
	} {
		if err := broken.RegisterFileProto(file); err != nil {
			t.Fatalf("RegisterFileProto: %v", err)
		}
	}
	if err := broken.CheckAncestors("a.b.c"); err == nil {
		t.Error("expected superset violation for a.b.c")
	}
}

func TestLoadDescriptorSet(t *testing.T) {
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{
		schemaFile("v3/asset/ip/ip.proto", "v3.asset.ip", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{scalarField("host", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)},
		}),
		schemaFile("v3/capture/pcap/pcap.proto", "v3.capture.pcap", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{scalarField("frames", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES)},
		}),
	}}
	data, err := proto.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	path := filepath.Join(t.TempDir(), "agent.pb")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	registry := MustBuiltin()
	if err := registry.LoadDescriptorSet(path); err != nil {
		t.Fatalf("LoadDescriptorSet: %v", err)
	}
	if _, err := registry.Resolve("v3.capture.pcap"); err != nil {
		t.Errorf("Resolve after load: %v", err)
	}
	// The repeated built-in file is skipped, not registered twice.
	if _, err := registry.Resolve("v3.asset.ip"); err != nil {
		t.Errorf("built-in selector became unresolvable: %v", err)
	}
}

func TestMessageViewsAgree(t *testing.T) {
	registry := MustBuiltin()
	message, err := registry.NewMessageFromData("v3.report.vulnerability", map[string]any{
		"title":       "Open redirect",
		"risk_rating": "HIGH",
		"references":  []any{map[string]any{"title": "CWE-601", "url": "https://cwe.mitre.org/data/definitions/601.html"}},
	})
	if err != nil {
		t.Fatalf("NewMessageFromData: %v", err)
	}
	fromRaw, err := registry.NewMessageFromRaw(message.Selector(), message.Raw())
	if err != nil {
		t.Fatalf("NewMessageFromRaw: %v", err)
	}
	if !reflect.DeepEqual(fromRaw.Data(), message.Data()) {
		t.Errorf("views disagree: %#v vs %#v", fromRaw.Data(), message.Data())
	}
	if message.Data()["risk_rating"] != "HIGH" {
		t.Errorf("risk_rating = %v", message.Data()["risk_rating"])
	}
}

func TestOpaqueMessageKeepsRawBytes(t *testing.T) {
	raw := []byte{0x0a, 0x01, 'x'}
	message := OpaqueMessage("acme.asset.repo", raw)
	if message.Selector() != "acme.asset.repo" {
		t.Errorf("Selector() = %q", message.Selector())
	}
	if !reflect.DeepEqual(message.Raw(), raw) {
		t.Errorf("Raw() = %v, want %v", message.Raw(), raw)
	}
	if message.Data() != nil {
		t.Errorf("Data() = %#v, want nil", message.Data())
	}
}
