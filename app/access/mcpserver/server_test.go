package mcpserver

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestServeStopsOnContextCancel(t *testing.T) {
	srv := &Server{}

	ctx, cancel := context.WithCancel(context.Background())

	// A pipe with no writer blocks reads forever, so only the context
	// can end the serve loop.
	in, _ := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- srv.serve(ctx, in, io.Discard)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on context cancellation")
	}
}
