package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/Dankular/Babblefish/internal/protocol"
)

func TestWSConnSendQueue(t *testing.T) {
	c := &wsConn{
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	if err := c.Send(protocol.NewPong()); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := c.Send(protocol.NewPong()); err == nil {
		t.Error("expected error when queue is full")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := c.Send(protocol.NewPong()); err != errConnClosed {
		t.Errorf("expected errConnClosed, got %v", err)
	}

	// Queued messages survive Close for the writer to flush.
	data, ok := <-c.send
	if !ok || string(data) != `{"type":"pong"}` {
		t.Errorf("expected queued pong, got %q (ok=%v)", data, ok)
	}
}

func TestUpgradeLimiter(t *testing.T) {
	l := newUpgradeLimiter(0.01, 2)

	req := &http.Request{RemoteAddr: "10.0.0.1:5555"}
	other := &http.Request{RemoteAddr: "10.0.0.2:5555"}

	if !l.Allow(req) || !l.Allow(req) {
		t.Fatal("burst should be allowed")
	}
	if l.Allow(req) {
		t.Error("third attempt should be limited")
	}
	if !l.Allow(other) {
		t.Error("limits are per address")
	}

	if removed := l.prune(time.Hour); removed != 0 {
		t.Errorf("expected nothing pruned, got %d", removed)
	}
	if removed := l.prune(0); removed != 2 {
		t.Errorf("expected 2 pruned, got %d", removed)
	}
}
