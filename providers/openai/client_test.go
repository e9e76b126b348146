package openai_test

import (
	"context"
	"testing"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/providers/openai"
)

type fakeChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	reply      string
}

func (f *fakeChatClient) New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error) {
	f.lastParams = body
	return &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{
			{Message: sdk.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestDispatchCallsClientAndEmitsAssistantMessage(t *testing.T) {
	el := ports.NewElement("openai")
	client := &fakeChatClient{reply: "hello from gpt"}

	e, err := openai.New(el, client, openai.Options{Model: "gpt-4o"})
	require.NoError(t, err)

	in, ok := e.Input()
	require.True(t, ok)
	out, ok := e.Output()
	require.True(t, ok)

	sink := ports.NewElement("sink")
	received := make(chan payload.Message, 1)
	sinkIn := ports.NewInput(sink, "in", payload.TypeMessage, func(ctx context.Context, v any) error {
		received <- v.(payload.Message)
		return nil
	})
	require.NoError(t, out.Connect(context.Background(), sinkIn))

	src := ports.NewElement("source")
	srcOut := ports.NewOutput(src, "out", payload.Seq(payload.TypeMessage), nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, srcOut.Connect(context.Background(), in))

	require.NoError(t, srcOut.EmitValue(context.Background(), payload.MessageList{
		payload.NewTextMessage("user", "hi"),
	}))

	select {
	case msg := <-received:
		require.Equal(t, "assistant", msg.Role)
		text, _ := msg.Text()
		require.Equal(t, "hello from gpt", text)
	case <-time.After(time.Second):
		t.Fatal("no response emitted")
	}

	require.Equal(t, sdk.ChatModel("gpt-4o"), client.lastParams.Model)
	require.Len(t, client.lastParams.Messages, 1)
}

func TestConstructionRejectsMissingModel(t *testing.T) {
	el := ports.NewElement("openai")
	client := &fakeChatClient{}
	_, err := openai.New(el, client, openai.Options{})
	require.Error(t, err)
}
