// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

// Message is a selector-addressed payload. Data and Raw are two views
// of the same content: Raw is the wire encoding produced by
// [Registry.Serialize] and Data is the generic map produced by
// [Registry.Deserialize]. A Message is immutable after construction;
// callers must not modify the returned map or byte slice.
type Message struct {
	selector string
	data     map[string]any
	raw      []byte
}

// NewMessageFromData serializes data for selector and returns the
// resulting message.
func (r *Registry) NewMessageFromData(selector string, data map[string]any) (Message, error) {
	raw, err := r.Serialize(selector, data)
	if err != nil {
		return Message{}, err
	}
	// Re-derive data from the wire form so both views agree on
	// defaults and enum spelling.
	decoded, err := r.Deserialize(selector, raw)
	if err != nil {
		return Message{}, err
	}
	return Message{selector: selector, data: decoded, raw: raw}, nil
}

// NewMessageFromRaw deserializes raw for selector and returns the
// resulting message.
func (r *Registry) NewMessageFromRaw(selector string, raw []byte) (Message, error) {
	data, err := r.Deserialize(selector, raw)
	if err != nil {
		return Message{}, err
	}
	return Message{selector: selector, data: data, raw: raw}, nil
}

// OpaqueMessage wraps raw under selector without decoding it, for
// forwarding payloads whose schema this process does not hold. Data
// returns nil for such a message.
func OpaqueMessage(selector string, raw []byte) Message {
	return Message{selector: selector, raw: raw}
}

// Selector returns the dotted routing key of the message.
func (m Message) Selector() string { return m.selector }

// Data returns the structured view of the payload.
func (m Message) Data() map[string]any { return m.data }

// Raw returns the wire encoding of the payload.
func (m Message) Raw() []byte { return m.raw }
