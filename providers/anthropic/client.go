// Package anthropic wraps the Anthropic Messages API as a dataflow Element:
// it receives an assembled seq<Message> from a ContextBuilder and emits a
// single assistant Message. No kernel package imports it.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Prudent-Patterns/pyllments-sub000/flow"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// Element uses. It is satisfied by *sdk.MessageService so callers can pass
// either a real client or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Element's default model and token budget.
type Options struct {
	Model     string
	MaxTokens int64
}

// Element is an Anthropic-backed dataflow node: one input ("messages", a
// seq<Message>) and one output ("response", a Message).
type Element struct {
	ctl *flow.Controller

	client MessagesClient
	model  string
	maxTok int64
}

// New builds the Element on el, wiring "messages" -> "response" through a
// flow.Controller whose FlowFn issues one Messages.New call per dispatch.
func New(el *ports.Element, client MessagesClient, opts Options) (*Element, error) {
	if client == nil {
		return nil, errors.New("anthropic: client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}

	e := &Element{client: client, model: opts.Model, maxTok: maxTok}

	ctl, err := flow.New(el,
		[]flow.InputSpec{flow.In("messages", payload.Seq(payload.TypeMessage))},
		[]flow.OutputSpec{flow.Out("response", payload.TypeMessage)},
		e.dispatch,
	)
	if err != nil {
		return nil, err
	}
	e.ctl = ctl
	return e, nil
}

// Input returns the "messages" input port.
func (e *Element) Input() (*ports.InputPort, bool) { return e.ctl.Input("messages") }

// Output returns the "response" output port.
func (e *Element) Output() (*ports.OutputPort, bool) { return e.ctl.Output("response") }

func (e *Element) dispatch(ctx context.Context, ev *flow.Event) error {
	v, ok := ev.Value("messages")
	if !ok {
		return nil
	}
	msgs, ok := v.(payload.MessageList)
	if !ok {
		return fmt.Errorf("anthropic: expected payload.MessageList, got %T", v)
	}
	if len(msgs) == 0 {
		return errors.New("anthropic: messages are required")
	}

	conversation, system, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	params := sdk.MessageNewParams{
		MaxTokens: e.maxTok,
		Messages:  conversation,
		Model:     sdk.Model(e.model),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := e.client.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic messages.new: %w", err)
	}

	reply, err := decodeResponse(resp)
	if err != nil {
		return err
	}
	return ev.Emit(ctx, "response", reply)
}

func encodeMessages(msgs payload.MessageList) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam
	for _, m := range msgs {
		text, err := m.Text()
		if err != nil {
			return nil, nil, err
		}
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: text})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		}
	}
	return conversation, system, nil
}

func decodeResponse(msg *sdk.Message) (payload.Message, error) {
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return payload.NewTextMessage("assistant", block.Text), nil
		}
	}
	return payload.NewTextMessage("assistant", ""), nil
}
