package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/config"
	"github.com/finbase/docingest/internal/dedup"
	"github.com/finbase/docingest/internal/detect"
	"github.com/finbase/docingest/internal/events"
	"github.com/finbase/docingest/internal/models"
)

// Service is the backend surface the coordinator needs. *api.Client
// satisfies this.
type Service interface {
	DetectDocumentType(ctx context.Context, filename string, content io.Reader) (string, error)
	UploadDocument(ctx context.Context, req api.UploadRequest) (*models.UploadResult, error)
	UploadStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error)
}

// Summary is the final tally of a batch run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Items     []ItemView
}

// Coordinator runs one ingestion batch. Duplicate conflicts are raised as a
// single consolidated request up front; unaffected items detect and transfer
// concurrently while the decision is pending. Category mismatches are
// collected behind a detection barrier and raised as one consolidated
// request per batch.
//
// Shared-state mutation (the dedup index, the uploaded-document list) is
// serialized through the coordinator's mutex.
type Coordinator struct {
	client   Service
	index    *dedup.Index
	resolver Resolver
	bus      *events.EventBus
	cfg      config.IngestConfig

	mu       sync.Mutex
	items    []*Item
	uploaded []models.Document
	batchErr error

	failOnce sync.Once
	cancel   context.CancelFunc
}

// NewCoordinator creates a coordinator for one batch run.
func NewCoordinator(client Service, index *dedup.Index, resolver Resolver, bus *events.EventBus, cfg config.IngestConfig) *Coordinator {
	return &Coordinator{
		client:   client,
		index:    index,
		resolver: resolver,
		bus:      bus,
		cfg:      cfg,
	}
}

// Run ingests the given files and blocks until every item is settled. The
// returned error is non-nil only for batch-wide failures: an authentication
// rejection or a cancelled context. Per-item failures are reported in the
// summary.
func (c *Coordinator) Run(ctx context.Context, files []File) (*Summary, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel

	ready, conflicted := c.buildItems(files)

	var itemWG sync.WaitGroup   // per-item transfer pipelines
	var detectWG sync.WaitGroup // detection work gating the mismatch request

	var mismatchMu sync.Mutex
	var mismatched []*Item

	startPipeline := func(item *Item) {
		itemWG.Add(1)
		go func() {
			defer itemWG.Done()
			c.runItem(ctx, item)
		}()
	}

	route := func(item *Item, result detect.Result) {
		item.SetDetected(result.Category)
		declared := item.File().Category

		switch {
		case declared == "" && result.Err != nil:
			item.Fail(fmt.Errorf("type detection failed: %w", result.Err))
		case declared == "" && result.Category == "":
			item.Fail(errors.New("could not determine document type"))
		case declared == "":
			item.AdoptDetected()
			startPipeline(item)
		case result.Category == "" || result.Category == declared:
			// Detection inconclusive or confirming: the declared
			// category stands.
			startPipeline(item)
		default:
			item.Transition(StatusAwaitingMismatch,
				fmt.Sprintf("declared %s, detected %s", declared, result.Category))
			mismatchMu.Lock()
			mismatched = append(mismatched, item)
			mismatchMu.Unlock()
		}
	}

	if len(ready) > 0 {
		detectWG.Add(1)
		go func() {
			defer detectWG.Done()
			c.detectItems(ctx, ready, route)
		}()
	}

	if len(conflicted) > 0 {
		for _, item := range conflicted {
			item.Transition(StatusAwaitingDuplicate, "matches an existing document")
		}
		detectWG.Add(1)
		go func() {
			defer detectWG.Done()
			proceeders := c.resolveDuplicates(ctx, conflicted)
			if len(proceeders) > 0 {
				c.detectItems(ctx, proceeders, route)
			}
		}()
	}

	// Every detection has finished; raise the single mismatch request.
	detectWG.Wait()
	if len(mismatched) > 0 {
		for _, item := range c.resolveMismatches(ctx, mismatched) {
			item.AdoptDetected()
			startPipeline(item)
		}
	}

	itemWG.Wait()

	summary := c.summarize(time.Since(start))
	c.bus.Publish(&events.BatchSettledEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventBatchSettled, Time: time.Now()},
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Duration:  summary.Duration,
	})

	return summary, c.batchError()
}

// buildItems creates the batch items and partitions them into duplicate
// conflicts and clear items. A key already present in the index, or claimed
// by an earlier file of the same batch, makes a conflict. Files that fail
// validation settle as errors here and never enter either partition.
func (c *Coordinator) buildItems(files []File) (ready, conflicted []*Item) {
	seen := make(map[string]bool)

	for _, file := range files {
		dedupKey, ok := dedup.Key(file.Name, file.Size)
		if !ok {
			dedupKey = ""
		}
		key := dedupKey
		if key == "" || seen[key] {
			// Entry keys must be unique within the batch.
			key = "entry-" + uuid.NewString()
		}

		item := NewItem(key, dedupKey, uuid.NewString(), file, c.bus, c.cfg.ProgressThrottle())

		c.mu.Lock()
		c.items = append(c.items, item)
		c.mu.Unlock()

		if err := validateFile(file); err != nil {
			item.Fail(err)
			continue
		}

		if dedupKey != "" && (c.index.Contains(dedupKey) || seen[dedupKey]) {
			conflicted = append(conflicted, item)
		} else {
			ready = append(ready, item)
		}
		if dedupKey != "" {
			seen[dedupKey] = true
		}
	}
	return ready, conflicted
}

// validateFile rejects files that can never upload: an empty file, or an
// extension the declared category does not accept. Validation failures are
// item-local; the rest of the batch proceeds.
func validateFile(file File) error {
	if file.Size <= 0 {
		return fmt.Errorf("%s is empty", file.Name)
	}
	if file.Category != "" {
		if category, ok := models.CategoryByKey(file.Category); ok && !category.AcceptsFile(file.Name) {
			return fmt.Errorf("extension not allowed for type %s", file.Category)
		}
	}
	return nil
}

// detectItems classifies a group of items and routes each by its result.
func (c *Coordinator) detectItems(ctx context.Context, items []*Item, route func(*Item, detect.Result)) {
	inputs := make([]detect.Input, len(items))
	for i, item := range items {
		item.Transition(StatusDetecting, "")
		inputs[i] = detect.Input{
			Key:  item.Key(),
			Name: item.File().Name,
			Open: item.File().Open,
		}
	}

	results, err := detect.Run(ctx, c.client, inputs)
	if err != nil {
		if api.IsAuthError(err) {
			c.failBatch(err)
		}
		for _, item := range items {
			item.Fail(c.itemFailure(err))
		}
		return
	}

	for i, item := range items {
		route(item, results[i])
	}
}

// resolveDuplicates raises the consolidated duplicate request and returns
// the items the user chose to keep.
func (c *Coordinator) resolveDuplicates(ctx context.Context, conflicted []*Item) []*Item {
	decision := c.resolve(ctx, &Request{
		Kind:    KindDuplicate,
		Entries: duplicateEntries(conflicted),
	})

	var proceeders []*Item
	for _, item := range conflicted {
		if decision[item.Key()] {
			proceeders = append(proceeders, item)
		} else {
			item.Skip("duplicate of an existing document")
		}
	}
	return proceeders
}

// resolveMismatches raises the consolidated mismatch request and returns the
// items to upload under their detected category.
func (c *Coordinator) resolveMismatches(ctx context.Context, mismatched []*Item) []*Item {
	decision := c.resolve(ctx, &Request{
		Kind:    KindMismatch,
		Entries: mismatchEntries(mismatched),
	})

	var proceeders []*Item
	for _, item := range mismatched {
		if decision[item.Key()] {
			proceeders = append(proceeders, item)
		} else {
			item.Skip("category mismatch")
		}
	}
	return proceeders
}

// resolve runs one consolidated resolution request. A failed, cancelled, or
// incomplete resolution falls back to skipping every affected entry; the
// unaffected rest of the batch is not disturbed.
func (c *Coordinator) resolve(ctx context.Context, req *Request) Decision {
	names := make([]string, len(req.Entries))
	for i, entry := range req.Entries {
		names[i] = entry.FileName
	}
	c.bus.Publish(&events.ResolutionEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventResolutionRequired, Time: time.Now()},
		Kind:      req.Kind,
		Entries:   names,
	})

	decision, err := c.resolver.Resolve(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("kind", req.Kind).Msg("Resolution failed, skipping affected entries")
		return req.SkipAll()
	}
	if err := req.Validate(decision); err != nil {
		log.Warn().Err(err).Str("kind", req.Kind).Msg("Incomplete resolution, skipping affected entries")
		return req.SkipAll()
	}
	return decision
}

// runItem drives one accepted item through transfer and processing.
func (c *Coordinator) runItem(ctx context.Context, item *Item) {
	if err := ctx.Err(); err != nil {
		item.Fail(c.itemFailure(err))
		return
	}

	item.Transition(StatusUploading, "")
	result, err := transferItem(ctx, c.client, item, &c.cfg)
	if err != nil {
		c.failItem(item, err)
		return
	}
	c.recordUploaded(item, result)

	item.Transition(StatusProcessing, "")
	message, err := monitorItem(ctx, c.client, item, &c.cfg)
	if err != nil {
		c.failItem(item, err)
		return
	}

	if summary := result.ImportSummary; summary != nil {
		item.SetImportSummary(summary)
		message = fmt.Sprintf("%d imported, %d skipped", summary.Imported, summary.Skipped)
	}
	item.Succeed(message)
}

// failItem settles a failed item. An authentication rejection additionally
// aborts the whole batch: every outstanding request carries the same invalid
// credential.
func (c *Coordinator) failItem(item *Item, err error) {
	if api.IsAuthError(err) {
		c.failBatch(err)
	}
	item.Fail(c.itemFailure(err))
}

// failBatch records the batch-wide failure and cancels all in-flight work.
// Only the first failure wins.
func (c *Coordinator) failBatch(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.batchErr = err
		c.mu.Unlock()

		log.Error().Err(err).Msg("Aborting batch")
		c.cancel()
	})
}

func (c *Coordinator) batchError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchErr
}

// itemFailure rewrites a cancellation caused by a batch abort so the item
// reports the root cause rather than "context canceled".
func (c *Coordinator) itemFailure(err error) error {
	if batchErr := c.batchError(); batchErr != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, batchErr)) {
		return fmt.Errorf("batch aborted: %w", batchErr)
	}
	return err
}

// recordUploaded commits a completed transfer: the dedup key becomes known
// and the document joins the run's uploaded list.
func (c *Coordinator) recordUploaded(item *Item, result *models.UploadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key := item.DedupKey(); key != "" {
		c.index.Add(key)
	}
	c.uploaded = append(c.uploaded, models.Document{
		ID:           result.DocumentID,
		DocumentType: item.Category(),
		OriginalName: item.File().Name,
		FileSize:     item.File().Size,
	})
}

// Uploaded returns the documents created by this run so far.
func (c *Coordinator) Uploaded() []models.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs := make([]models.Document, len(c.uploaded))
	copy(docs, c.uploaded)
	return docs
}

// Items returns a snapshot of all batch items.
func (c *Coordinator) Items() []ItemView {
	c.mu.Lock()
	items := make([]*Item, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	views := make([]ItemView, len(items))
	for i, item := range items {
		views[i] = item.View()
	}
	return views
}

// OverallProgress is the batch progress percentage: the mean of the items'
// overall percentages. It reaches exactly 100 once every item is terminal.
func (c *Coordinator) OverallProgress() int {
	c.mu.Lock()
	items := make([]*Item, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	if len(items) == 0 {
		return 100
	}
	total := 0
	for _, item := range items {
		total += item.OverallPercent()
	}
	return total / len(items)
}

func (c *Coordinator) summarize(duration time.Duration) *Summary {
	views := c.Items()

	summary := &Summary{
		Total:    len(views),
		Duration: duration,
		Items:    views,
	}
	for _, view := range views {
		switch view.Status {
		case StatusSuccess:
			summary.Succeeded++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary
}

func duplicateEntries(items []*Item) []Entry {
	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{Key: item.Key(), FileName: item.File().Name}
	}
	return entries
}

func mismatchEntries(items []*Item) []Entry {
	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{
			Key:      item.Key(),
			FileName: item.File().Name,
			Declared: item.File().Category,
			Detected: item.Detected(),
		}
	}
	return entries
}
