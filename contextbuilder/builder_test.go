package contextbuilder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Prudent-Patterns/pyllments-sub000/contextbuilder"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

func emitMessage(t *testing.T, out *ports.OutputPort, role, text string) {
	t.Helper()
	require.NoError(t, out.EmitValue(context.Background(), payload.NewTextMessage(role, text)))
}

func TestEmitOrderAssemblesInDeclaredOrder(t *testing.T) {
	el := ports.NewElement("context_builder")
	src := ports.NewElement("source")

	b, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.ConstantEntry("system", "system", "you are a helpful assistant"),
		contextbuilder.PortFedEntry("user_msg", "user", payload.TypeMessage),
	}, contextbuilder.WithEmitOrder(contextbuilder.Plan{
		contextbuilder.S("system"),
		contextbuilder.S("user_msg"),
	}))
	require.NoError(t, err)

	in, ok := b.Input("user_msg")
	require.True(t, ok)

	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), in))

	var got payload.MessageList
	sink := ports.NewElement("sink")
	sinkIn := ports.NewInput(sink, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error {
		got = v.(payload.MessageList)
		return nil
	})
	require.NoError(t, b.MessagesOutput().Connect(context.Background(), sinkIn))

	emitMessage(t, out, "user", "hello there")

	require.Eventually(t, func() bool { return len(got) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "system", got[0].Role)
	require.Equal(t, "user", got[1].Role)
}

func TestOptionalSlotOmittedWhenAbsent(t *testing.T) {
	el := ports.NewElement("context_builder")
	src := ports.NewElement("source")

	b, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.ConstantEntry("system", "system", "base prompt"),
		contextbuilder.PortFedEntry("history", "user", payload.TypeMessage),
		contextbuilder.PortFedEntry("user_msg", "user", payload.TypeMessage),
	}, contextbuilder.WithEmitOrder(contextbuilder.Plan{
		contextbuilder.S("system"),
		contextbuilder.OptS("history"),
		contextbuilder.S("user_msg"),
	}))
	require.NoError(t, err)

	historyIn, _ := b.Input("history")
	_ = historyIn
	msgIn, _ := b.Input("user_msg")

	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), msgIn))

	var got payload.MessageList
	sink := ports.NewElement("sink")
	sinkIn := ports.NewInput(sink, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error {
		got = v.(payload.MessageList)
		return nil
	})
	require.NoError(t, b.MessagesOutput().Connect(context.Background(), sinkIn))

	emitMessage(t, out, "user", "no history yet")

	require.Eventually(t, func() bool { return len(got) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "base prompt", func() string { text, _ := got[0].Text(); return text }())
}

func TestRequiredSlotMissingSuppressesEmission(t *testing.T) {
	el := ports.NewElement("context_builder")
	src := ports.NewElement("source")

	b, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.PortFedEntry("a", "user", payload.TypeMessage),
		contextbuilder.PortFedEntry("b", "user", payload.TypeMessage),
	}, contextbuilder.WithEmitOrder(contextbuilder.Plan{
		contextbuilder.S("a"),
		contextbuilder.S("b"),
	}))
	require.NoError(t, err)

	inA, _ := b.Input("a")
	emitted := false
	sink := ports.NewElement("sink")
	sinkIn := ports.NewInput(sink, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error {
		emitted = true
		return nil
	})
	require.NoError(t, b.MessagesOutput().Connect(context.Background(), sinkIn))

	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), inA))
	emitMessage(t, out, "user", "only a")

	time.Sleep(50 * time.Millisecond)
	require.False(t, emitted, "emission with a non-optional missing slot must be suppressed")
}

func TestTemplateDependsOnSkippedWhenMissing(t *testing.T) {
	el := ports.NewElement("context_builder")
	src := ports.NewElement("source")

	b, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.PortFedEntry("tool_result", "tool", payload.TypeMessage),
		contextbuilder.TemplateEntry("tool_note", "system", "Tool said: {{.tool_result}}", "tool_result"),
		contextbuilder.PortFedEntry("user_msg", "user", payload.TypeMessage),
	}, contextbuilder.WithEmitOrder(contextbuilder.Plan{
		contextbuilder.S("tool_note"),
		contextbuilder.S("user_msg"),
	}))
	require.NoError(t, err)

	msgIn, _ := b.Input("user_msg")
	var got payload.MessageList
	sink := ports.NewElement("sink")
	sinkIn := ports.NewInput(sink, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error {
		got = v.(payload.MessageList)
		return nil
	})
	require.NoError(t, b.MessagesOutput().Connect(context.Background(), sinkIn))

	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), msgIn))
	emitMessage(t, out, "user", "hi")

	require.Eventually(t, func() bool { return len(got) == 1 }, time.Second, time.Millisecond)
	text, _ := got[0].Text()
	require.Equal(t, "hi", text)
}

func TestTemplateMaxPerRunThrottle(t *testing.T) {
	el := ports.NewElement("context_builder")
	src := ports.NewElement("source")

	b, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.TemplateEntry("hint", "system", "remember to be concise", "", contextbuilder.WithMaxPerRun(1)),
		contextbuilder.PortFedEntry("user_msg", "user", payload.TypeMessage),
	}, contextbuilder.WithEmitOrder(contextbuilder.Plan{
		contextbuilder.S("hint"),
		contextbuilder.S("user_msg"),
	}))
	require.NoError(t, err)

	msgIn, _ := b.Input("user_msg")
	var got []payload.MessageList
	sink := ports.NewElement("sink")
	sinkIn := ports.NewInput(sink, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error {
		got = append(got, v.(payload.MessageList))
		return nil
	})
	require.NoError(t, b.MessagesOutput().Connect(context.Background(), sinkIn))

	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), msgIn))

	emitMessage(t, out, "user", "first")
	require.Eventually(t, func() bool { return len(got) == 1 }, time.Second, time.Millisecond)
	require.Len(t, got[0], 2, "hint included on first turn")

	emitMessage(t, out, "user", "second")
	require.Eventually(t, func() bool { return len(got) == 2 }, time.Second, time.Millisecond)
	require.Len(t, got[1], 1, "hint suppressed after MaxPerRun is exhausted")
}

func TestConstructionRejectsUnknownDependsOnTarget(t *testing.T) {
	el := ports.NewElement("context_builder")
	_, err := contextbuilder.New(el, []contextbuilder.Entry{
		contextbuilder.TemplateEntry("note", "system", "{{.missing}}", "missing"),
	})
	require.Error(t, err)
}
