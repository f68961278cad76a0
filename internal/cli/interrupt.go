package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels the run context on the first interrupt and
// reminds the user that progress is checkpointed. A second interrupt exits
// immediately.
type InterruptHandler struct {
	writer      io.Writer
	cancelFunc  context.CancelFunc
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stderr
	}
	return &InterruptHandler{writer: writer}
}

// HandleInterrupts sets up signal handling and returns a context canceled on
// the first SIGINT or SIGTERM.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelFunc = cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for range sigChan {
			h.mu.Lock()
			first := !h.interrupted
			h.interrupted = true
			h.mu.Unlock()

			if first {
				fmt.Fprintln(h.writer, "\nInterrupted. Progress is checkpointed after every batch; run the same command again to resume.")
				cancel()
				continue
			}

			fmt.Fprintln(h.writer, "Forced exit.")
			os.Exit(130)
		}
	}()

	return ctx
}

// Interrupted reports whether an interrupt has been received.
func (h *InterruptHandler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Stop cancels the handled context.
func (h *InterruptHandler) Stop() {
	if h.cancelFunc != nil {
		h.cancelFunc()
	}
}
