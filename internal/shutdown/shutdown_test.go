package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

type recordingComponent struct {
	name  string
	order *[]string
	mu    *sync.Mutex
	err   error
	delay time.Duration
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Shutdown(ctx context.Context) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	*c.order = append(*c.order, c.name)
	c.mu.Unlock()
	return c.err
}

func TestShutdownReverseOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex

	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(&recordingComponent{name: "store", order: &order, mu: &mu})
	c.Register(&recordingComponent{name: "server", order: &order, mu: &mu})
	c.Register(&recordingComponent{name: "runner", order: &order, mu: &mu})

	c.Shutdown()
	c.Wait()

	want := []string{"runner", "server", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if c.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", c.ExitCode())
	}
}

func TestShutdownComponentErrorSetsExitCode(t *testing.T) {
	var order []string
	var mu sync.Mutex

	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(&recordingComponent{name: "ok", order: &order, mu: &mu})
	c.Register(&recordingComponent{name: "bad", order: &order, mu: &mu, err: errors.New("boom")})

	c.Shutdown()
	c.Wait()

	// The failing component does not stop the rest from shutting down.
	if len(order) != 2 {
		t.Errorf("order = %v, want both components", order)
	}
	if c.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", c.ExitCode())
	}
}

func TestShutdownOnSignal(t *testing.T) {
	var order []string
	var mu sync.Mutex

	sigCh := make(chan os.Signal, 1)
	c := NewCoordinator(
		WithTimeout(time.Second),
		WithSignalChannel(sigCh),
	)
	c.Register(&recordingComponent{name: "store", order: &order, mu: &mu})

	done := make(chan struct{})
	go func() {
		c.WaitForSignal()
		close(done)
	}()

	sigCh <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after signal")
	}

	if len(order) != 1 {
		t.Errorf("order = %v, want store shut down", order)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	var order []string
	var mu sync.Mutex

	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(&recordingComponent{name: "once", order: &order, mu: &mu})

	c.Shutdown()
	c.Shutdown()
	c.Wait()

	if len(order) != 1 {
		t.Errorf("component shut down %d times, want 1", len(order))
	}
}
