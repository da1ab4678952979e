package ws

import (
	"errors"
	"testing"

	"go-signal/internal/transport"
)

func TestEnqueueBuffersUntilFull(t *testing.T) {
	c := &Client{
		send:   make(chan []byte, 2),
		closed: make(chan struct{}),
	}

	if err := c.Enqueue([]byte("a")); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := c.Enqueue([]byte("b")); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	if err := c.Enqueue([]byte("c")); !errors.Is(err, transport.ErrSlowConsumer) {
		t.Fatalf("err = %v, want ErrSlowConsumer", err)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	c := &Client{
		send:   make(chan []byte, 2),
		closed: make(chan struct{}),
	}
	close(c.closed)

	if err := c.Enqueue([]byte("a")); !errors.Is(err, transport.ErrGone) {
		t.Fatalf("err = %v, want ErrGone", err)
	}
}
