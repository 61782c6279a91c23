// Package batch orchestrates the ingestion of a set of documents: duplicate
// screening, type detection, consolidated conflict resolution, transfer, and
// server-side processing monitoring.
package batch

import (
	"io"
	"sync"
	"time"

	"github.com/finbase/docingest/internal/events"
	"github.com/finbase/docingest/internal/models"
)

// Status is the lifecycle state of one batch item.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusDetecting         Status = "detecting"
	StatusAwaitingDuplicate Status = "awaiting_duplicate_decision"
	StatusAwaitingMismatch  Status = "awaiting_mismatch_decision"
	StatusUploading         Status = "uploading"
	StatusProcessing        Status = "processing"
	StatusSuccess           Status = "success"
	StatusError             Status = "error"
	StatusSkipped           Status = "skipped"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// validTransitions defines the allowed forward edges of the item state
// machine. Error and skipped are reachable from any non-terminal state and
// are not listed here.
var validTransitions = map[Status][]Status{
	StatusQueued:            {StatusDetecting, StatusAwaitingDuplicate, StatusUploading},
	StatusAwaitingDuplicate: {StatusDetecting},
	StatusDetecting:         {StatusAwaitingMismatch, StatusUploading},
	StatusAwaitingMismatch:  {StatusUploading},
	StatusUploading:         {StatusProcessing},
	StatusProcessing:        {StatusSuccess},
}

// File describes one file handed to the orchestrator. Category is the
// caller's declared target category and may be empty, in which case the
// detected category is adopted. Open returns a fresh reader over the file
// content and is called once per read of the file.
type File struct {
	Name     string
	Size     int64
	Category string
	Open     func() (io.ReadCloser, error)
}

// Item tracks one file through the batch. All state is guarded by a mutex;
// progress is monotonic and progress events are throttled, with the 0% and
// 100% updates always emitted.
type Item struct {
	mu sync.Mutex

	key      string // entry key, unique within the batch
	dedupKey string // empty when the file yields no usable dedup key
	uploadID string
	file     File

	status        Status
	category      string // effective target category
	detected      string
	uploadPct     int
	processPct    int
	message       string
	err           error
	importSummary *models.ImportSummary

	bus      *events.EventBus
	throttle time.Duration
	lastEmit map[string]time.Time
}

// NewItem creates a queued item. key identifies the item within the batch;
// dedupKey is the file's dedup key or empty when none could be built;
// uploadID is the idempotent transfer identifier.
func NewItem(key, dedupKey, uploadID string, file File, bus *events.EventBus, throttle time.Duration) *Item {
	return &Item{
		key:      key,
		dedupKey: dedupKey,
		uploadID: uploadID,
		file:     file,
		status:   StatusQueued,
		category: file.Category,
		bus:      bus,
		throttle: throttle,
		lastEmit: make(map[string]time.Time),
	}
}

// Key returns the item's entry key, unique within the batch.
func (it *Item) Key() string { return it.key }

// DedupKey returns the file's dedup key, or "" when none could be built.
func (it *Item) DedupKey() string { return it.dedupKey }

// UploadID returns the item's idempotent transfer identifier.
func (it *Item) UploadID() string { return it.uploadID }

// File returns the underlying file descriptor.
func (it *Item) File() File { return it.file }

// Status returns the current lifecycle state.
func (it *Item) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

// Category returns the effective target category.
func (it *Item) Category() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.category
}

// Detected returns the classifier's result for this item, if any.
func (it *Item) Detected() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.detected
}

// Err returns the item's failure, if any.
func (it *Item) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// SetDetected records the classifier result.
func (it *Item) SetDetected(category string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.detected = category
}

// AdoptDetected makes the detected category the effective target. Used when
// the caller declared no category, or chose to proceed with the detected one
// after a mismatch.
func (it *Item) AdoptDetected() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.detected != "" {
		it.category = it.detected
	}
}

// SetImportSummary attaches what the server-side import extracted.
func (it *Item) SetImportSummary(summary *models.ImportSummary) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.importSummary = summary
}

// Transition moves the item to a new non-terminal state. Invalid edges are
// ignored so a late transition cannot resurrect a settled item.
func (it *Item) Transition(next Status, message string) bool {
	it.mu.Lock()
	if it.status.IsTerminal() || !transitionAllowed(it.status, next) {
		it.mu.Unlock()
		return false
	}
	old := it.status
	it.status = next
	it.message = message
	it.mu.Unlock()

	it.bus.PublishItemStatus(it.key, it.file.Name, string(old), string(next), message)
	return true
}

func transitionAllowed(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Fail settles the item as failed. The first terminal state wins.
func (it *Item) Fail(err error) {
	it.settle(StatusError, err, err.Error())
}

// Skip settles the item as skipped by a user decision.
func (it *Item) Skip(reason string) {
	it.settle(StatusSkipped, nil, reason)
}

// Succeed settles the item as successful and pins both progress stages
// to 100.
func (it *Item) Succeed(message string) {
	it.mu.Lock()
	if it.status.IsTerminal() {
		it.mu.Unlock()
		return
	}
	old := it.status
	it.status = StatusSuccess
	it.message = message
	it.uploadPct = 100
	it.processPct = 100
	it.mu.Unlock()

	it.bus.PublishItemStatus(it.key, it.file.Name, string(old), string(StatusSuccess), message)
}

func (it *Item) settle(status Status, err error, message string) {
	it.mu.Lock()
	if it.status.IsTerminal() {
		it.mu.Unlock()
		return
	}
	old := it.status
	it.status = status
	it.err = err
	it.message = message
	it.mu.Unlock()

	it.bus.PublishItemStatus(it.key, it.file.Name, string(old), string(status), message)
}

// SetUploadProgress records transfer progress. Values are clamped to [0,100]
// and never regress.
func (it *Item) SetUploadProgress(percent int) {
	it.setProgress(&it.uploadPct, events.StageUpload, percent)
}

// SetProcessingProgress records server-side processing progress. Values are
// clamped to [0,100] and never regress.
func (it *Item) SetProcessingProgress(percent int) {
	it.setProgress(&it.processPct, events.StageProcessing, percent)
}

func (it *Item) setProgress(field *int, stage string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	it.mu.Lock()
	if it.status.IsTerminal() || percent < *field {
		it.mu.Unlock()
		return
	}
	*field = percent

	// Throttle intermediate updates; the endpoints always go out.
	now := time.Now()
	if percent != 0 && percent != 100 && now.Sub(it.lastEmit[stage]) < it.throttle {
		it.mu.Unlock()
		return
	}
	it.lastEmit[stage] = now
	it.mu.Unlock()

	it.bus.PublishItemProgress(it.key, it.file.Name, stage, percent)
}

// OverallPercent is the item's contribution to batch progress: 100 once
// terminal, otherwise the mean of the two stages.
func (it *Item) OverallPercent() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status.IsTerminal() {
		return 100
	}
	return (it.uploadPct + it.processPct) / 2
}

// ItemView is an immutable snapshot of an item for reporting.
type ItemView struct {
	Key               string
	FileName          string
	Status            Status
	Category          string
	Detected          string
	UploadPercent     int
	ProcessingPercent int
	Message           string
	Err               error
	ImportSummary     *models.ImportSummary
}

// View returns a consistent snapshot of the item.
func (it *Item) View() ItemView {
	it.mu.Lock()
	defer it.mu.Unlock()
	return ItemView{
		Key:               it.key,
		FileName:          it.file.Name,
		Status:            it.status,
		Category:          it.category,
		Detected:          it.detected,
		UploadPercent:     it.uploadPct,
		ProcessingPercent: it.processPct,
		Message:           it.message,
		Err:               it.err,
		ImportSummary:     it.importSummary,
	}
}
