package feed

import (
	"testing"
	"time"
)

func newTestClient(hub *Hub, wallet string) *Client {
	return &Client{hub: hub, wallet: wallet, send: make(chan Event, 16)}
}

func TestHubDeliversToSenderAndRecipient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	sender := newTestClient(hub, "0xsender")
	recipient := newTestClient(hub, "0xrecipient")
	bystander := newTestClient(hub, "0xother")
	hub.register <- sender
	hub.register <- recipient
	hub.register <- bystander

	evt := Event{
		MessageID: "mlzx9abcd",
		Sender:    "0xsender",
		Recipient: "0xrecipient",
		Status:    "pending",
		Amount:    "1.5",
	}
	hub.Publish(evt)

	for _, c := range []*Client{sender, recipient} {
		select {
		case got := <-c.send:
			if got.MessageID != evt.MessageID || got.Status != "pending" {
				t.Fatalf("unexpected event for %s: %+v", c.wallet, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("no event delivered to %s", c.wallet)
		}
	}

	select {
	case got := <-bystander.send:
		t.Fatalf("bystander received event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSelfPaymentDeliversOnce(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	self := newTestClient(hub, "0xself")
	hub.register <- self

	hub.Publish(Event{MessageID: "m123", Sender: "0xself", Recipient: "0xself", Status: "approved"})

	select {
	case <-self.send:
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-self.send:
		t.Fatalf("event delivered twice: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Unbuffered send channel with no reader: first delivery attempt
	// cannot complete and the hub must drop the client.
	slow := &Client{hub: hub, wallet: "0xslow", send: make(chan Event)}
	hub.register <- slow

	for i := 0; i < 3; i++ {
		hub.Publish(Event{MessageID: "m123", Sender: "0xslow", Recipient: "0xother", Status: "pending"})
	}

	deadline := time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slow client was not dropped")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, ok := <-slow.send; ok {
		t.Fatal("expected send channel to be closed")
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := newTestClient(hub, "0xbye")
	hub.register <- c

	deadline := time.After(time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.unregister <- c
	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on unregister")
	}
}
