package ports_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

func TestReceiveRejectsWrongTypeOnFirstDelivery(t *testing.T) {
	el := ports.NewElement("sink")
	out := ports.NewElement("source")
	outPort := ports.NewOutput(out, "out", payload.TypeSchema, nil, identityPack)

	var got any
	in := ports.NewInput(el, "in", payload.TypeMessage, func(ctx context.Context, v any) error {
		got = v
		return nil
	})

	err := in.Receive(context.Background(), payload.Schema{Name: "s"}, outPort)
	require.Error(t, err)
	var recvErr *kernelerr.ReceiveTypeError
	require.ErrorAs(t, err, &recvErr)
	require.Nil(t, got)
}

func TestReceiveCachesValidationPerEdge(t *testing.T) {
	el := ports.NewElement("sink")
	out := ports.NewElement("source")
	outPort := ports.NewOutput(out, "out", payload.TypeMessage, nil, identityPack)

	var receivedCount int
	in := ports.NewInput(el, "in", payload.TypeMessage, func(ctx context.Context, v any) error {
		receivedCount++
		return nil
	})

	require.NoError(t, in.Receive(context.Background(), payload.NewTextMessage("u", "1"), outPort))

	// A second delivery on the same edge is not re-validated: since the edge
	// was already marked validated by the first successful receipt, a value
	// of a different concrete type is still delivered to unpack.
	err := in.Receive(context.Background(), payload.Schema{Name: "s"}, outPort)
	require.NoError(t, err)
	require.Equal(t, 2, receivedCount)
}

func TestReceiveWithoutUnpackIsMissingCallback(t *testing.T) {
	el := ports.NewElement("sink")
	out := ports.NewElement("source")
	outPort := ports.NewOutput(out, "out", payload.TypeMessage, nil, identityPack)
	in := ports.NewInput(el, "in", payload.TypeMessage, nil)

	err := in.Receive(context.Background(), payload.NewTextMessage("u", "1"), outPort)
	require.Error(t, err)
	var missing *kernelerr.MissingCallback
	require.ErrorAs(t, err, &missing)
}

func TestAllowEmptySequenceOption(t *testing.T) {
	el := ports.NewElement("sink")
	out := ports.NewElement("source")
	outPort := ports.NewOutput(out, "out", payload.Seq(payload.TypeMessage), nil, identityPack)

	in := ports.NewInput(el, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error { return nil },
		ports.AllowEmptySequence())

	err := in.Receive(context.Background(), []payload.Message{}, outPort)
	require.NoError(t, err)
}

func TestEmptySequenceRejectedByDefault(t *testing.T) {
	el := ports.NewElement("sink")
	out := ports.NewElement("source")
	outPort := ports.NewOutput(out, "out", payload.Seq(payload.TypeMessage), nil, identityPack)

	in := ports.NewInput(el, "in", payload.Seq(payload.TypeMessage), func(ctx context.Context, v any) error { return nil })

	err := in.Receive(context.Background(), []payload.Message{}, outPort)
	require.Error(t, err)
}
