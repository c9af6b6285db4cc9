// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Builtin returns a registry preloaded with the schemas every scan
// runtime understands: the asset hierarchy consumed by scanners, the
// vulnerability report emitted by them, and the health-check ping.
func Builtin() (*Registry, error) {
	registry := NewRegistry()
	for _, file := range builtinFiles() {
		if err := registry.RegisterFileProto(file); err != nil {
			return nil, fmt.Errorf("built-in schema: %w", err)
		}
	}
	return registry, nil
}

// MustBuiltin is Builtin for package-level initialization. The built-in
// descriptors are static, so a failure is a programming error.
func MustBuiltin() *Registry {
	registry, err := Builtin()
	if err != nil {
		panic(err)
	}
	return registry
}

func builtinFiles() []*descriptorpb.FileDescriptorProto {
	ipFields := func() []*descriptorpb.FieldDescriptorProto {
		return []*descriptorpb.FieldDescriptorProto{
			scalarField("host", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("version", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
			scalarField("mask", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		}
	}
	ipVersionFields := func() []*descriptorpb.FieldDescriptorProto {
		return append(ipFields(), scalarField("is_private", 4, descriptorpb.FieldDescriptorProto_TYPE_BOOL))
	}

	return []*descriptorpb.FileDescriptorProto{
		schemaFile("v3/asset/ip/ip.proto", "v3.asset.ip", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: ipFields(),
		}),
		schemaFile("v3/asset/ip/v4/v4.proto", "v3.asset.ip.v4", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: ipVersionFields(),
		}),
		schemaFile("v3/asset/ip/v6/v6.proto", "v3.asset.ip.v6", &descriptorpb.DescriptorProto{
			Name:  proto.String("Message"),
			Field: ipVersionFields(),
		}),
		schemaFile("v3/asset/domain_name/domain_name.proto", "v3.asset.domain_name", &descriptorpb.DescriptorProto{
			Name: proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			},
		}),
		schemaFile("v3/asset/file/file.proto", "v3.asset.file", &descriptorpb.DescriptorProto{
			Name: proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("content", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				scalarField("path", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("content_url", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			},
		}),
		vulnerabilityFile(),
		schemaFile("v3/healthcheck/ping/ping.proto", "v3.healthcheck.ping", &descriptorpb.DescriptorProto{
			Name: proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("body", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			},
		}),
	}
}

func vulnerabilityFile() *descriptorpb.FileDescriptorProto {
	riskRating := &descriptorpb.EnumDescriptorProto{
		Name: proto.String("RiskRating"),
		Value: []*descriptorpb.EnumValueDescriptorProto{
			enumValue("UNKNOWN", 0),
			enumValue("CRITICAL", 1),
			enumValue("HIGH", 2),
			enumValue("MEDIUM", 3),
			enumValue("LOW", 4),
			enumValue("POTENTIALLY", 5),
			enumValue("HARDENING", 6),
			enumValue("INFO", 7),
		},
	}
	reference := &descriptorpb.DescriptorProto{
		Name: proto.String("Reference"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("title", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("url", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		},
	}
	return schemaFile("v3/report/vulnerability/vulnerability.proto", "v3.report.vulnerability", &descriptorpb.DescriptorProto{
		Name:       proto.String("Message"),
		NestedType: []*descriptorpb.DescriptorProto{reference},
		EnumType:   []*descriptorpb.EnumDescriptorProto{riskRating},
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("title", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("technical_detail", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			enumField("risk_rating", 3, ".v3.report.vulnerability.Message.RiskRating"),
			scalarField("cvss_v3_vector", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("dna", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			repeatedMessageField("references", 6, ".v3.report.vulnerability.Message.Reference"),
			repeatedScalarField("categories", 7, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("raw_output", 8, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		},
	})
}

// schemaFile declares proto2 so optional scalars keep presence: an
// explicit false, zero, empty string or zero enum survives a round trip.
func schemaFile(path, pkg string, message *descriptorpb.DescriptorProto) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(path),
		Package:     proto.String(pkg),
		Syntax:      proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{message},
	}
}

func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     kind.Enum(),
	}
}

func repeatedScalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, kind)
	field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return field
}

func enumField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	field.TypeName = proto.String(typeName)
	return field
}

func repeatedMessageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	field.TypeName = proto.String(typeName)
	return field
}

func enumValue(name string, number int32) *descriptorpb.EnumValueDescriptorProto {
	return &descriptorpb.EnumValueDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
	}
}
