package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_ReverseOrderOnce(t *testing.T) {
	m := NewManager()
	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"venue", "executor", "server"} {
		name := name
		m.OnShutdown(name, func(ctx context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	assert.Equal(t, []string{"server", "executor", "venue"}, order)
}

func TestShutdown_TimeoutDoesNotBlock(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	m.Shutdown(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
}
