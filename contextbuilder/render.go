package contextbuilder

import (
	"fmt"
	"reflect"
	"strings"
	"text/template"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
)

func roleOrDefault(role, fallback string) string {
	if role == "" {
		return fallback
	}
	return role
}

// payloadText renders a port-fed entry's stored value as plain text, for
// template placeholder substitution (spec.md §4.3 "Rendered at emission
// time by substituting placeholders with the current values of other
// entries referenced by name").
func payloadText(v any) string {
	switch val := v.(type) {
	case payload.Message:
		text, _ := val.Text()
		return text
	case payload.Schema:
		return string(val.JSON)
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.Slice {
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			if msg, ok := rv.Index(i).Interface().(payload.Message); ok {
				text, _ := msg.Text()
				b.WriteString(text)
			}
		}
		return b.String()
	}
	return fmt.Sprintf("%v", v)
}

// entryText resolves name's current textual value for template rendering,
// recursing through nested Template entries while guarding against cycles.
func (b *Builder) entryText(name string, values map[string]any, visiting map[string]bool) (string, bool) {
	if visiting[name] {
		return "", false
	}
	entry, exists := b.entries[name]
	if !exists {
		return "", false
	}
	switch entry.Kind {
	case Constant:
		return entry.Message, true
	case PortFed:
		v, has := values[entry.Name]
		if !has {
			return "", false
		}
		return payloadText(v), true
	case Template:
		visiting[name] = true
		defer delete(visiting, name)
		return b.renderTemplate(entry, values, visiting)
	default:
		return "", false
	}
}

// renderTemplate executes entry's template text against a data map of every
// other entry's current text, keyed by entry name.
func (b *Builder) renderTemplate(entry *Entry, values map[string]any, visiting map[string]bool) (string, bool) {
	tmpl, err := template.New(entry.Name).Parse(entry.TemplateText)
	if err != nil {
		return "", false
	}
	data := make(map[string]string, len(b.entries))
	for name := range b.entries {
		if text, ok := b.entryText(name, values, visiting); ok {
			data[name] = text
		}
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", false
	}
	return out.String(), true
}

// toMessages converts one resolved entry to the message(s) it contributes
// to the assembled list (spec.md §4.3 "Each entry is converted to a message
// or list of messages").
func (b *Builder) toMessages(entry *Entry, values map[string]any) ([]payload.Message, error) {
	switch entry.Kind {
	case Constant:
		return []payload.Message{payload.NewTextMessage(roleOrDefault(entry.Role, "system"), entry.Message)}, nil
	case Template:
		text, _ := b.renderTemplate(entry, values, map[string]bool{})
		return []payload.Message{payload.NewTextMessage(roleOrDefault(entry.Role, "system"), text)}, nil
	case PortFed:
		v := values[entry.Name]
		if entry.Convert != nil {
			return entry.Convert(v, entry.Role)
		}
		return defaultConvert(v, entry.Role)
	default:
		return nil, fmt.Errorf("contextbuilder: unknown entry kind for %q", entry.Name)
	}
}

// defaultConvert implements spec.md §4.3's built-in payload-to-message
// mapping: a message payload is forwarded as-is unless a role override
// forces a copy; a schema becomes a message carrying its JSON; a sequence
// of payloads becomes a single concatenated message.
func defaultConvert(v any, role string) ([]payload.Message, error) {
	switch val := v.(type) {
	case payload.Message:
		if role != "" && role != val.Role {
			return []payload.Message{val.WithRole(role)}, nil
		}
		return []payload.Message{val}, nil
	case payload.Schema:
		return []payload.Message{payload.NewTextMessage(roleOrDefault(role, "system"), string(val.JSON))}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.Slice {
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			if msg, ok := rv.Index(i).Interface().(payload.Message); ok {
				text, _ := msg.Text()
				b.WriteString(text)
			}
		}
		return []payload.Message{payload.NewTextMessage(roleOrDefault(role, "user"), b.String())}, nil
	}

	return nil, fmt.Errorf("contextbuilder: no default conversion for %T", v)
}
