package supervisor

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalBridge turns SIGINT and SIGTERM into a stop request. It never tears anything down itself.
type SignalBridge struct {
	request func()
	log     *slog.Logger

	signals chan os.Signal
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewSignalBridge returns a bridge that calls request for every termination signal.
func NewSignalBridge(request func(), log *slog.Logger) *SignalBridge {
	if log == nil {
		log = slog.Default()
	}

	return &SignalBridge{
		request: request,
		log:     log.With("component", "supervisor.signal"),
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// Register starts intercepting termination signals.
func (b *SignalBridge) Register() {
	signal.Notify(b.signals, os.Interrupt, syscall.SIGTERM)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case sig := <-b.signals:
				b.log.Info("Signal received, stopping", "signal", sig.String())
				b.request()
			}
		}
	}()
}

// Release restores default signal handling and waits for the bridge goroutine.
func (b *SignalBridge) Release() {
	b.once.Do(func() {
		signal.Stop(b.signals)
		close(b.done)
	})
	b.wg.Wait()
}
