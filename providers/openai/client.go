// Package openai wraps the OpenAI Chat Completions API as a dataflow
// Element: it receives an assembled seq<Message> from a ContextBuilder and
// emits a single assistant Message. No kernel package imports it.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Prudent-Patterns/pyllments-sub000/flow"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

// ChatClient captures the subset of the OpenAI SDK client this Element
// uses. It is satisfied by the client's Chat.Completions service, so
// callers can pass either a real client or a test double.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the Element's default model.
type Options struct {
	Model string
}

// Element is an OpenAI-backed dataflow node: one input ("messages", a
// seq<Message>) and one output ("response", a Message).
type Element struct {
	ctl *flow.Controller

	client ChatClient
	model  string
}

// New builds the Element on el, wiring "messages" -> "response" through a
// flow.Controller whose FlowFn issues one Chat.Completions.New call per
// dispatch.
func New(el *ports.Element, client ChatClient, opts Options) (*Element, error) {
	if client == nil {
		return nil, errors.New("openai: client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}

	e := &Element{client: client, model: opts.Model}

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
		return fmt.Errorf("openai: expected payload.MessageList, got %T", v)
	}
	if len(msgs) == 0 {
		return errors.New("openai: messages are required")
	}

	encoded, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(e.model),
		Messages: encoded,
	}

	resp, err := e.client.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai chat completion: %w", err)
	}

	reply, err := decodeResponse(resp)
	if err != nil {
		return err
	}
	return ev.Emit(ctx, "response", reply)
}

func encodeMessages(msgs payload.MessageList) ([]sdk.ChatCompletionMessageParamUnion, error) {
	encoded := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text, err := m.Text()
		if err != nil {
			return nil, err
		}
		switch m.Role {
		case "system":
			encoded = append(encoded, sdk.SystemMessage(text))
		case "assistant":
			encoded = append(encoded, sdk.AssistantMessage(text))
		default:
			encoded = append(encoded, sdk.UserMessage(text))
		}
	}
	return encoded, nil
}

func decodeResponse(resp *sdk.ChatCompletion) (payload.Message, error) {
	if len(resp.Choices) == 0 {
		return payload.NewTextMessage("assistant", ""), nil
	}
	return payload.NewTextMessage("assistant", resp.Choices[0].Message.Content), nil
}
