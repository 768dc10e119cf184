package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
)

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("telegram", "bot-1")
	var ge *errdefs.Error
	if !errors.As(err, &ge) || ge.Code != errdefs.CodeChannelNotFound {
		t.Errorf("err = %v, want GW-CHAN-001", err)
	}
}

func TestRegistrySend(t *testing.T) {
	r := NewRegistry()
	lb := NewLoopback("cli", "local", 0)
	r.Register(lb)
	ctx := context.Background()

	// Not yet connected.
	err := r.Send(ctx, "cli", "local", "default", Reply{Text: "hi"})
	var ge *errdefs.Error
	if !errors.As(err, &ge) || ge.Code != errdefs.CodeChannelNotConnected {
		t.Fatalf("err = %v, want GW-CHAN-002", err)
	}

	r.ConnectAll(ctx)
	if err := r.Send(ctx, "cli", "local", "default", Reply{Text: "hi", ReplyToMessageID: "m1"}); err != nil {
		t.Fatal(err)
	}
	sent := <-lb.Outbox()
	if sent.ChatID != "default" || sent.Reply.Text != "hi" || sent.Reply.ReplyToMessageID != "m1" {
		t.Errorf("sent = %+v", sent)
	}

	r.DisconnectAll(ctx)
	if lb.IsConnected() {
		t.Error("adapter still connected after DisconnectAll")
	}
}

func TestLoopbackInject(t *testing.T) {
	lb := NewLoopback("cli", "local", 0)
	lb.Connect(context.Background())

	var got Message
	lb.OnMessage(func(ctx context.Context, msg Message) { got = msg })
	lb.Inject(context.Background(), Message{ChatID: "default", UserID: "u1", Text: "hello"})

	if got.ChannelType != "cli" || got.ChannelID != "local" {
		t.Errorf("identity not filled: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}
