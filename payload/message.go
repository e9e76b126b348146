package payload

import (
	"encoding/json"
	"fmt"
)

// TypeMessage is the scalar Type for a single Message payload.
var TypeMessage = Scalar("Message")

// TypeSchema is the scalar Type for a Schema payload (a JSON schema
// fragment carried between a StructuredRouterTransformer route and one of
// its schema input ports).
var TypeSchema = Scalar("Schema")

type (
	// Part is the discriminated union of content fragments a Message can
	// carry. Implementations are TextPart, ToolCallPart, and ResolvingPart.
	Part interface {
		isPart()
	}

	// TextPart carries plain visible text content.
	TextPart struct {
		Text string
	}

	// ToolCallPart records a tool invocation declared by an assistant
	// message, mirroring the provider tool_use/tool_result handshake.
	ToolCallPart struct {
		ID   string
		Name string
		Args any
	}

	// ResolvingPart wraps a part whose final content is not yet available —
	// the model for a streamed message payload that resolves asynchronously
	// (spec.md §5 "Suspension points": a streamed message payload that
	// resolves its full content asynchronously). Resolve blocks until the
	// content is ready; it takes no context, so a caller cannot cancel it.
	ResolvingPart struct {
		Resolve func() (Part, error)
	}

	// Message is a single role-tagged unit of conversational content. It is
	// the Payload type produced by ContextBuilder and consumed by router and
	// provider Elements.
	Message struct {
		Role  string
		Parts []Part
	}
)

func (TextPart) isPart()     {}
func (ToolCallPart) isPart() {}
func (ResolvingPart) isPart() {}

// PayloadType implements Payload.
func (Message) PayloadType() Type { return TypeMessage }

// WithRole returns a shallow copy of m with Role replaced. ContextBuilder
// uses this to apply a role override to a port-fed message payload without
// mutating the original (spec.md §4.3 invariant: "the original payload is
// not mutated; a copy with the new role is produced").
func (m Message) WithRole(role string) Message {
	cp := m
	cp.Role = role
	cp.Parts = append([]Part(nil), m.Parts...)
	return cp
}

// Text returns the concatenation of all TextPart content in m, resolving
// any ResolvingPart first. It is a convenience used by ContextBuilder's
// template rendering and by provider Elements translating a Message into a
// provider-specific request.
func (m Message) Text() (string, error) {
	out := ""
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			out += v.Text
		case ResolvingPart:
			resolved, err := v.Resolve()
			if err != nil {
				return "", err
			}
			if tp, ok := resolved.(TextPart); ok {
				out += tp.Text
			}
		}
	}
	return out, nil
}

// NewTextMessage is a convenience constructor for a single-TextPart message.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// MessageList is the Payload produced by ContextBuilder's assembly: an
// ordered seq<Message> emitted as a single payload through messages_output
// (spec.md §4.3 "emitted once through messages_output as seq<Message>").
type MessageList []Message

// PayloadType implements Payload.
func (MessageList) PayloadType() Type { return Seq(TypeMessage) }

// Schema is a Payload carrying a named JSON schema fragment in its raw
// encoded form, used by StructuredRouterTransformer's schema input ports.
type Schema struct {
	Name string
	JSON json.RawMessage
}

// PayloadType implements Payload.
func (Schema) PayloadType() Type { return TypeSchema }

// partJSON is the wire form of a Part, discriminated by Kind, matching the
// teacher's Kind-tagged encode/decode pattern for interface-typed slices.
type partJSON struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// MarshalJSON encodes a Message while preserving concrete Part types via an
// explicit Kind discriminator, mirroring the teacher's model.Message codec.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role  string     `json:"role"`
		Parts []partJSON `json:"parts"`
	}
	out := alias{Role: m.Role}
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		out.Parts = append(out.Parts, enc)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a Message, materializing concrete Part
// implementations from the Kind discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  string     `json:"role"`
		Parts []partJSON `json:"parts"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Parts = nil
	for i, raw := range tmp.Parts {
		p, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

func encodePart(p Part) (partJSON, error) {
	switch v := p.(type) {
	case TextPart:
		return partJSON{Kind: "text", Text: v.Text}, nil
	case ToolCallPart:
		args, err := json.Marshal(v.Args)
		if err != nil {
			return partJSON{}, err
		}
		return partJSON{Kind: "tool_call", ID: v.ID, Name: v.Name, Args: args}, nil
	case ResolvingPart:
		resolved, err := v.Resolve()
		if err != nil {
			return partJSON{}, err
		}
		return encodePart(resolved)
	default:
		return partJSON{}, fmt.Errorf("unknown part type %T", p)
	}
}

func decodePart(raw partJSON) (Part, error) {
	switch raw.Kind {
	case "text":
		return TextPart{Text: raw.Text}, nil
	case "tool_call":
		var args any
		if len(raw.Args) > 0 {
			if err := json.Unmarshal(raw.Args, &args); err != nil {
				return nil, err
			}
		}
		return ToolCallPart{ID: raw.ID, Name: raw.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q", raw.Kind)
	}
}
