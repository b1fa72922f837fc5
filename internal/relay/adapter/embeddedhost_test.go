package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestEmbeddedHostAdapterRoundTrip(t *testing.T) {
	a := NewEmbeddedHostAdapter("embedded1", "127.0.0.1:0")
	received := make(chan string, 1)
	a.OnInbound(func(ctx context.Context, chatID, channelType, senderID, content string) error {
		received <- content
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	var conn *websocket.Conn
	for i := 0; i < 20; i++ {
		c, _, err := websocket.Dial(ctx, "ws://"+a.Addr()+"/", nil)
		if err == nil {
			conn = c
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("could not dial embedded host adapter")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello relay")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello relay" {
			t.Fatalf("unexpected inbound message: %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	if err := a.HandleMessage(ctx, "embedded", "embedded", "local", "hi back"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hi back" {
		t.Fatalf("unexpected egress message: %q", string(data))
	}
}
