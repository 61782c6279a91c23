// Package progress renders batch ingestion progress with mpb progress bars,
// falling back to plain text when output is not a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/finbase/docingest/internal/batch"
	"github.com/finbase/docingest/internal/events"
)

// barTotal is the span of one item's bar: upload and processing each
// contribute up to 100.
const barTotal = 200

// BatchUI renders one progress bar per batch item, driven by the event bus.
type BatchUI struct {
	progress   *mpb.Progress
	channel    <-chan events.Event
	isTerminal bool
	totalFiles int

	mu   sync.Mutex
	bars map[string]*itemBar

	done chan struct{}
}

type itemBar struct {
	bar        *mpb.Bar
	fileName   string
	status     atomic.Value // string; read by the render loop's decorator
	uploadPct  int
	processPct int
}

func (b *itemBar) loadStatus() string {
	if s, ok := b.status.Load().(string); ok {
		return s
	}
	return ""
}

// NewBatchUI creates the UI and subscribes it to the bus. Call Start to begin
// rendering and Stop once the batch settled.
func NewBatchUI(bus *events.EventBus, totalFiles int) *BatchUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &BatchUI{
		progress:   p,
		channel:    bus.SubscribeAll(),
		isTerminal: isTerminal,
		totalFiles: totalFiles,
		bars:       make(map[string]*itemBar),
		done:       make(chan struct{}),
	}
}

// Start begins consuming events. Returns immediately.
func (u *BatchUI) Start() {
	go func() {
		defer close(u.done)
		for event := range u.channel {
			u.handle(event)
		}
	}()
}

// Stop drains the remaining events and waits for the bars to finish
// rendering. The bus must be closed first so the subscription ends.
func (u *BatchUI) Stop() {
	<-u.done
	u.progress.Wait()
}

// Writer returns a writer that prints safely above the progress bars.
func (u *BatchUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// IsTerminal reports whether bars are actually rendered.
func (u *BatchUI) IsTerminal() bool {
	return u.isTerminal
}

func (u *BatchUI) handle(event events.Event) {
	switch e := event.(type) {
	case *events.ItemProgressEvent:
		u.updateProgress(e)
	case *events.ItemStatusEvent:
		u.updateStatus(e)
	case *events.ResolutionEvent:
		fmt.Fprintf(u.Writer(), "Decision required for %d file(s) (%s)\n", len(e.Entries), e.Kind)
	case *events.BatchSettledEvent:
		fmt.Fprintf(u.Writer(), "Batch settled: %d succeeded, %d failed, %d skipped in %s\n",
			e.Succeeded, e.Failed, e.Skipped, e.Duration.Round(time.Second))
	}
}

func (u *BatchUI) updateProgress(e *events.ItemProgressEvent) {
	bar := u.barFor(e.EntryKey, e.FileName)

	u.mu.Lock()
	switch e.Stage {
	case events.StageUpload:
		bar.uploadPct = e.Percent
	case events.StageProcessing:
		bar.processPct = e.Percent
	}
	current := bar.uploadPct + bar.processPct
	u.mu.Unlock()

	if bar.bar != nil {
		bar.bar.SetCurrent(int64(current))
	}
}

func (u *BatchUI) updateStatus(e *events.ItemStatusEvent) {
	bar := u.barFor(e.EntryKey, e.FileName)
	bar.status.Store(e.NewStatus)

	status := batch.Status(e.NewStatus)
	if !status.IsTerminal() {
		if !u.isTerminal {
			fmt.Fprintf(os.Stderr, "%s: %s\n", e.FileName, e.NewStatus)
		}
		return
	}

	switch status {
	case batch.StatusSuccess:
		if bar.bar != nil {
			bar.bar.SetCurrent(barTotal)
			bar.bar.SetTotal(barTotal, true)
		}
		fmt.Fprintf(u.Writer(), "✓ %s: %s\n", e.FileName, e.Message)
	case batch.StatusSkipped:
		if bar.bar != nil {
			bar.bar.Abort(true) // remove, nothing to show
		}
		fmt.Fprintf(u.Writer(), "- %s skipped: %s\n", e.FileName, e.Message)
	case batch.StatusError:
		if bar.bar != nil {
			bar.bar.Abort(false) // keep the failed bar visible
		}
		fmt.Fprintf(u.Writer(), "✗ %s: %s\n", e.FileName, e.Message)
	}
}

// barFor returns the item's bar, creating it on first sight.
func (u *BatchUI) barFor(entryKey, fileName string) *itemBar {
	u.mu.Lock()
	defer u.mu.Unlock()

	if bar, ok := u.bars[entryKey]; ok {
		return bar
	}

	ib := &itemBar{fileName: fileName}
	ib.status.Store(string(batch.StatusQueued))
	if u.isTerminal {
		index := len(u.bars) + 1
		ib.bar = u.progress.New(barTotal,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					return fmt.Sprintf("[%d/%d] %s (%s)", index, u.totalFiles, fileName, ib.loadStatus())
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	}
	u.bars[entryKey] = ib
	return ib
}
