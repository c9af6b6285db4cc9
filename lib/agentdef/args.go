// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdef

import (
	"fmt"
	"strconv"
	"strings"
)

// Argument types.
const (
	ArgString  = "string"
	ArgNumber  = "number"
	ArgBoolean = "boolean"
	ArgArray   = "array"
	ArgObject  = "object"
)

// Arg is a typed agent argument.
type Arg struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Value       any    `yaml:"value,omitempty" json:"value,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks that the name is set and the value matches the type.
// A nil value is allowed for every type.
func (a Arg) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("argument name is required")
	}
	if a.Value == nil {
		switch a.Type {
		case ArgString, ArgNumber, ArgBoolean, ArgArray, ArgObject:
			return nil
		}
		return fmt.Errorf("argument %s: unknown type %q", a.Name, a.Type)
	}
	ok := false
	switch a.Type {
	case ArgString:
		_, ok = a.Value.(string)
	case ArgNumber:
		switch a.Value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			ok = true
		}
	case ArgBoolean:
		_, ok = a.Value.(bool)
	case ArgArray:
		_, ok = a.Value.([]any)
	case ArgObject:
		_, ok = a.Value.(map[string]any)
	default:
		return fmt.Errorf("argument %s: unknown type %q", a.Name, a.Type)
	}
	if !ok {
		return fmt.Errorf("argument %s: value %v (%T) is not a %s", a.Name, a.Value, a.Value, a.Type)
	}
	return nil
}

// ParseArg parses a command-line argument of the form
// "name[:type]=value", such as "timeout:number=30" or "wordlist=small".
// The type defaults to string. Array and object arguments can only be
// given in group files.
func ParseArg(spec string) (Arg, error) {
	nameType, value, found := strings.Cut(spec, "=")
	if !found {
		return Arg{}, fmt.Errorf("argument %q: must be name[:type]=value", spec)
	}
	name, argType, typed := strings.Cut(nameType, ":")
	if !typed {
		argType = ArgString
	}
	arg := Arg{Name: name, Type: argType}
	switch argType {
	case ArgString:
		arg.Value = value
	case ArgNumber:
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Arg{}, fmt.Errorf("argument %s: %q is not a number", name, value)
		}
		arg.Value = number
	case ArgBoolean:
		boolean, err := strconv.ParseBool(value)
		if err != nil {
			return Arg{}, fmt.Errorf("argument %s: %q is not a boolean", name, value)
		}
		arg.Value = boolean
	default:
		return Arg{}, fmt.Errorf("argument %s: type %q cannot be given on the command line", name, argType)
	}
	return arg, arg.Validate()
}
