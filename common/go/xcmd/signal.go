package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// StopSignals are the signals a daemon stops on unless told otherwise.
var StopSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// InterruptedError reports the signal that stopped a command.
type InterruptedError struct {
	Signal os.Signal
}

func (m *InterruptedError) Error() string {
	return "interrupted by " + m.Signal.String()
}

// IsInterrupted reports whether err is, or wraps, an InterruptedError.
func IsInterrupted(err error) bool {
	var interrupted *InterruptedError
	return errors.As(err, &interrupted)
}

// WaitInterrupted blocks until one of sigs arrives or ctx is done. With no
// sigs it waits for StopSignals.
func WaitInterrupted(ctx context.Context, sigs ...os.Signal) error {
	if len(sigs) == 0 {
		sigs = StopSignals
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		return &InterruptedError{Signal: sig}
	case <-ctx.Done():
		return ctx.Err()
	}
}
