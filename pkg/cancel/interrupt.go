package cancel

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// NotifyOnInterrupt sets sig when the process receives SIGINT or SIGTERM.
// A second signal is not intercepted, so pressing Ctrl-C twice still
// terminates the process the default way.
// The returned stop func releases the signal handler.
func NotifyOnInterrupt(sig *Signal, logger zerolog.Logger) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		select {
		case s := <-ch:
			logger.Warn().
				Str("signal", s.String()).
				Msg("Interrupt received, stopping after in-flight calls settle")
			sig.Set()
			signal.Stop(ch)
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}

// BindContext sets sig once ctx is done (cancelled or past its deadline).
// The returned stop func detaches the binding without setting sig.
func BindContext(ctx context.Context, sig *Signal) (stop func()) {
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sig.Set()
		case <-sig.Done():
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
	}
}
