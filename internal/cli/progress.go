// Package cli provides the terminal-facing pieces of the pipeline: progress
// rendering and run summaries.
package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ledgerlens/taxscope/internal/model"
)

// ProgressReporter renders run progress as a terminal progress bar. It
// implements service.ProgressObserver: Observe never blocks. Snapshots are
// handed to a buffered channel and dropped when the renderer falls behind,
// since a stale progress frame is worthless.
type ProgressReporter struct {
	writer    io.Writer
	snapshots chan model.RunProgress
	quit      chan struct{}
	done      chan struct{}
	bar       *progressbar.ProgressBar
	closeOnce sync.Once
}

// NewProgressReporter creates a reporter writing to the given writer and
// starts its render loop.
func NewProgressReporter(writer io.Writer) *ProgressReporter {
	r := &ProgressReporter{
		writer:    writer,
		snapshots: make(chan model.RunProgress, 16),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.renderLoop()
	return r
}

// Observe enqueues a snapshot for rendering. Never blocks: when the buffer
// is full the snapshot is dropped, a stale frame being worthless anyway.
func (r *ProgressReporter) Observe(progress model.RunProgress) {
	select {
	case r.snapshots <- progress:
	default:
	}
}

// Close stops the render loop and finishes the bar. Safe to call more than
// once; Observe remains safe to call after Close.
func (r *ProgressReporter) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
	})
}

func (r *ProgressReporter) renderLoop() {
	defer close(r.done)

	for {
		select {
		case progress := <-r.snapshots:
			r.render(progress)
		case <-r.quit:
			// Drain anything already buffered before finishing.
			for {
				select {
				case progress := <-r.snapshots:
					r.render(progress)
				default:
					if r.bar != nil {
						_ = r.bar.Finish()
						fmt.Fprintln(r.writer)
					}
					return
				}
			}
		}
	}
}

func (r *ProgressReporter) render(progress model.RunProgress) {
	if r.bar == nil {
		r.bar = progressbar.NewOptions(progress.TotalTransactions,
			progressbar.OptionSetWriter(r.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Analyzing transactions...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	done := progress.CachedTransactions + progress.TransactionsAnalyzed
	_ = r.bar.Set(done)

	description := fmt.Sprintf("[cyan][bold]Batch %d/%d[reset] ($%s spent",
		progress.CurrentBatch,
		progress.TotalBatches,
		progress.AccumulatedCost.StringFixed(2))
	if progress.ETA != nil {
		description += fmt.Sprintf(", ETA %s", progress.ETA.Local().Format(time.Kitchen))
	}
	description += ")"
	r.bar.Describe(description)
}
