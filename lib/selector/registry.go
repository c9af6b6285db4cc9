// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// schemaMessageName is the top-level message each schema file exposes
// for its selector.
const schemaMessageName protoreflect.Name = "Message"

// Registry maps selectors to message schemas. Build it once at startup
// and share it: lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	files   *protoregistry.Files
	types   *protoregistry.Types
	schemas map[string][]protoreflect.MessageDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		files:   new(protoregistry.Files),
		types:   new(protoregistry.Types),
		schemas: make(map[string][]protoreflect.MessageDescriptor),
	}
}

// RegisterFileProto compiles a file descriptor and registers it. The
// file's imports must already be registered.
func (r *Registry) RegisterFileProto(fileProto *descriptorpb.FileDescriptorProto) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := protodesc.NewFile(fileProto, r.files)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", fileProto.GetName(), err)
	}
	return r.registerLocked(file)
}

// LoadDescriptorSet registers every file in a serialized
// FileDescriptorSet, as produced by "protoc --include_imports -o".
// Files already registered under the same path are skipped so that
// agent-shipped sets may repeat the built-in schemas they import.
func (r *Registry) LoadDescriptorSet(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading descriptor set: %w", err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parsing descriptor set %s: %w", filePath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fileProto := range set.GetFile() {
		if _, err := r.files.FindFileByPath(fileProto.GetName()); err == nil {
			continue
		}
		file, err := protodesc.NewFile(fileProto, r.files)
		if err != nil {
			return fmt.Errorf("compiling %s from %s: %w", fileProto.GetName(), filePath, err)
		}
		if err := r.registerLocked(file); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerLocked(file protoreflect.FileDescriptor) error {
	if err := r.files.RegisterFile(file); err != nil {
		return fmt.Errorf("registering %s: %w", file.Path(), err)
	}

	extensions := file.Extensions()
	for i := 0; i < extensions.Len(); i++ {
		if err := r.types.RegisterExtension(dynamicpb.NewExtensionType(extensions.Get(i))); err != nil {
			return fmt.Errorf("registering extension %s: %w", extensions.Get(i).FullName(), err)
		}
	}
	registerNestedExtensions(r.types, file.Messages())

	message := file.Messages().ByName(schemaMessageName)
	if message == nil {
		return nil
	}
	key := selectorForPath(file.Path())
	if key == "" {
		return nil
	}
	r.schemas[key] = append(r.schemas[key], message)
	return nil
}

// registerNestedExtensions registers extensions declared inside message
// bodies. Registration failures are duplicate declarations, which the
// file registry has already rejected.
func registerNestedExtensions(types *protoregistry.Types, messages protoreflect.MessageDescriptors) {
	for i := 0; i < messages.Len(); i++ {
		message := messages.Get(i)
		extensions := message.Extensions()
		for j := 0; j < extensions.Len(); j++ {
			_ = types.RegisterExtension(dynamicpb.NewExtensionType(extensions.Get(j)))
		}
		registerNestedExtensions(types, message.Messages())
	}
}

// selectorForPath turns "v3/asset/ip/v4/v4.proto" into "v3.asset.ip.v4".
func selectorForPath(filePath string) string {
	directory := path.Dir(filePath)
	if directory == "." || directory == "/" {
		return ""
	}
	return strings.ReplaceAll(strings.Trim(directory, "/"), "/", ".")
}

// Resolve returns the schema registered for selector. Exactly one
// schema must match.
func (r *Registry) Resolve(selector string) (protoreflect.MessageDescriptor, error) {
	r.mu.RLock()
	candidates := r.schemas[selector]
	r.mu.RUnlock()

	switch len(candidates) {
	case 0:
		return nil, &NoMatchingSchemaError{Selector: selector}
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, candidate := range candidates {
			names[i] = string(candidate.ParentFile().Path())
		}
		sort.Strings(names)
		return nil, &AmbiguousSchemaError{Selector: selector, Candidates: names}
	}
}

// Selectors returns every registered selector in sorted order.
func (r *Registry) Selectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.schemas))
	for key := range r.schemas {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// Ancestors returns the proper ancestors of selector, nearest first:
// "a.b.c" yields ["a.b", "a"].
func Ancestors(selector string) []string {
	var result []string
	for {
		index := strings.LastIndexByte(selector, '.')
		if index < 0 {
			return result
		}
		selector = selector[:index]
		result = append(result, selector)
	}
}

// CheckAncestors verifies that the schema for selector is a superset of
// every registered ancestor schema: each ancestor field must exist in
// the child with the same number, kind, and cardinality. Ancestors
// without a registered schema are skipped.
func (r *Registry) CheckAncestors(selector string) error {
	child, err := r.Resolve(selector)
	if err != nil {
		return err
	}
	var problems []string
	for _, ancestor := range Ancestors(selector) {
		parent, err := r.Resolve(ancestor)
		if err != nil {
			continue
		}
		fields := parent.Fields()
		for i := 0; i < fields.Len(); i++ {
			parentField := fields.Get(i)
			childField := child.Fields().ByNumber(parentField.Number())
			switch {
			case childField == nil:
				problems = append(problems, fmt.Sprintf("%s: field %d (%s) missing", ancestor, parentField.Number(), parentField.Name()))
			case childField.Kind() != parentField.Kind() || childField.Cardinality() != parentField.Cardinality():
				problems = append(problems, fmt.Sprintf("%s: field %d (%s) changed type", ancestor, parentField.Number(), parentField.Name()))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("selector %q is not a superset of its ancestors: %s", selector, strings.Join(problems, "; "))
	}
	return nil
}
