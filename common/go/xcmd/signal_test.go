package xcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInterrupted(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		interrupted bool
	}{
		{
			name:        "Wrapped",
			err:         fmt.Errorf("daemon stopped: %w", &InterruptedError{Signal: syscall.SIGTERM}),
			interrupted: true,
		},
		{
			name:        "Canceled",
			err:         context.Canceled,
			interrupted: false,
		},
		{
			name:        "Nil",
			err:         nil,
			interrupted: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.interrupted, IsInterrupted(test.err))
		})
	}
}

func TestInterruptedErrorText(t *testing.T) {
	err := fmt.Errorf("daemon stopped: %w", &InterruptedError{Signal: syscall.SIGTERM})
	assert.Equal(t, "daemon stopped: interrupted by terminated", err.Error())
}

func TestWaitInterruptedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, WaitInterrupted(ctx), context.Canceled)
}

func TestWaitInterruptedSignal(t *testing.T) {
	// Keeps SIGUSR1 from terminating the test binary whatever the timing.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WaitInterrupted(ctx, syscall.SIGUSR1)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			require.True(t, IsInterrupted(err), "%v", err)

			var interrupted *InterruptedError
			require.ErrorAs(t, err, &interrupted)
			assert.Equal(t, syscall.SIGUSR1, interrupted.Signal)
			return
		case <-ticker.C:
			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
		}
	}
}
