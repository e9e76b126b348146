package anthropic_test

import (
	"context"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/providers/anthropic"
)

type fakeMessagesClient struct {
	lastParams sdk.MessageNewParams
	reply      string
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: f.reply}},
	}, nil
}

func TestDispatchCallsClientAndEmitsAssistantMessage(t *testing.T) {
	el := ports.NewElement("anthropic")
	client := &fakeMessagesClient{reply: "hello from claude"}

	e, err := anthropic.New(el, client, anthropic.Options{Model: "claude-sonnet", MaxTokens: 512})
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
		payload.NewTextMessage("system", "be terse"),
		payload.NewTextMessage("user", "hi"),
	}))

	select {
	case msg := <-received:
		require.Equal(t, "assistant", msg.Role)
		text, _ := msg.Text()
		require.Equal(t, "hello from claude", text)
	case <-time.After(time.Second):
		t.Fatal("no response emitted")
	}

	require.Equal(t, int64(512), client.lastParams.MaxTokens)
	require.Len(t, client.lastParams.System, 1)
	require.Len(t, client.lastParams.Messages, 1)
}

func TestConstructionRejectsMissingModel(t *testing.T) {
	el := ports.NewElement("anthropic")
	client := &fakeMessagesClient{}
	_, err := anthropic.New(el, client, anthropic.Options{})
	require.Error(t, err)
}
