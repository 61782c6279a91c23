package batch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/dedup"
	"github.com/finbase/docingest/internal/events"
	"github.com/finbase/docingest/internal/models"
)

// fakeService scripts the backend: detection results per filename, upload
// failures per filename, and an optional processing-status sequence per
// filename.
type fakeService struct {
	mu         sync.Mutex
	detect     map[string]string
	detectErr  map[string]error
	uploadErr  map[string]error
	processing map[string][]*models.UploadStatus

	uploadedCategories map[string]string
	uploadIDs          map[string]string
	pollIdx            map[string]int
}

func newFakeService() *fakeService {
	return &fakeService{
		detect:             make(map[string]string),
		detectErr:          make(map[string]error),
		uploadErr:          make(map[string]error),
		processing:         make(map[string][]*models.UploadStatus),
		uploadedCategories: make(map[string]string),
		uploadIDs:          make(map[string]string),
		pollIdx:            make(map[string]int),
	}
}

func (f *fakeService) DetectDocumentType(ctx context.Context, filename string, content io.Reader) (string, error) {
	io.Copy(io.Discard, content)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detectErr[filename]; err != nil {
		return "", err
	}
	return f.detect[filename], nil
}

func (f *fakeService) UploadDocument(ctx context.Context, req api.UploadRequest) (*models.UploadResult, error) {
	io.Copy(io.Discard, req.Body)
	if req.Progress != nil {
		req.Progress(req.FileSize/2, req.FileSize)
		req.Progress(req.FileSize, req.FileSize)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[req.FileName]; err != nil {
		return nil, err
	}
	f.uploadedCategories[req.FileName] = req.Category
	f.uploadIDs[req.UploadID] = req.FileName
	return &models.UploadResult{Success: true, DocumentID: "doc-" + req.FileName}, nil
}

func (f *fakeService) UploadStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	filename := f.uploadIDs[uploadID]
	script := f.processing[filename]
	if len(script) == 0 {
		return &models.UploadStatus{Status: models.ProcessingComplete, Progress: 100}, nil
	}
	i := f.pollIdx[filename]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.pollIdx[filename]++
	return script[i], nil
}

func (f *fakeService) uploadedCategory(filename string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	category, ok := f.uploadedCategories[filename]
	return category, ok
}

// scriptResolver records requests and answers them with a fixed policy.
type scriptResolver struct {
	mu       sync.Mutex
	requests []*Request
	decide   func(*Request) Decision
	err      error
}

func (r *scriptResolver) Resolve(ctx context.Context, req *Request) (Decision, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if r.decide != nil {
		return r.decide(req), nil
	}
	return req.ProceedAll(), nil
}

func (r *scriptResolver) requestsOf(kind string) []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Request
	for _, req := range r.requests {
		if req.Kind == kind {
			out = append(out, req)
		}
	}
	return out
}

func memFile(name string, size int64, category string) File {
	content := strings.Repeat("x", int(size))
	return File{
		Name:     name,
		Size:     size,
		Category: category,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func newTestCoordinator(service Service, resolver Resolver, index *dedup.Index) (*Coordinator, *events.EventBus) {
	bus := events.NewEventBus(1000)
	return NewCoordinator(service, index, resolver, bus, fastIngestConfig()), bus
}

func itemByName(t *testing.T, summary *Summary, name string) ItemView {
	t.Helper()
	for _, view := range summary.Items {
		if view.FileName == name {
			return view
		}
	}
	t.Fatalf("No item named %q in summary", name)
	return ItemView{}
}

func TestRunHappyPath(t *testing.T) {
	service := newFakeService()
	service.detect["a.csv"] = "bank_statement_dkb"
	service.detect["b.pdf"] = "broker_viac_pdf"

	resolver := &scriptResolver{}
	index := dedup.NewIndex()
	coord, bus := newTestCoordinator(service, resolver, index)
	settled := bus.Subscribe(events.EventBatchSettled)
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("a.csv", 1000, "bank_statement_dkb"),
		memFile("b.pdf", 2000, "broker_viac_pdf"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Total != 2 || summary.Succeeded != 2 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if len(resolver.requests) != 0 {
		t.Errorf("Expected no resolution requests, got %d", len(resolver.requests))
	}
	if got := coord.OverallProgress(); got != 100 {
		t.Errorf("Expected overall progress 100 at settlement, got %d", got)
	}

	key, _ := dedup.Key("a.csv", 1000)
	if !index.Contains(key) {
		t.Error("Uploaded document's key must join the index")
	}

	select {
	case event := <-settled:
		if event.(*events.BatchSettledEvent).Succeeded != 2 {
			t.Error("Settled event should report 2 successes")
		}
	default:
		t.Error("Expected a batch settled event")
	}
}

func TestRunConsolidatedDuplicateRequest(t *testing.T) {
	service := newFakeService()
	service.detect["fresh.csv"] = "bank_statement_dkb"
	service.detect["report.csv"] = "bank_statement_dkb"

	index := dedup.NewIndex()
	index.Seed([]models.Document{{OriginalName: "statement.csv", FileSize: 1000}})

	resolver := &scriptResolver{decide: func(req *Request) Decision { return req.SkipAll() }}
	coord, bus := newTestCoordinator(service, resolver, index)
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("statement.csv", 1000, "bank_statement_dkb"), // in the index
		memFile("report.csv", 500, "bank_statement_dkb"),
		memFile("report (1).csv", 500, "bank_statement_dkb"), // intra-batch duplicate
		memFile("fresh.csv", 300, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	dupRequests := resolver.requestsOf(KindDuplicate)
	if len(dupRequests) != 1 {
		t.Fatalf("Expected exactly one consolidated duplicate request, got %d", len(dupRequests))
	}
	if len(dupRequests[0].Entries) != 2 {
		t.Errorf("Expected 2 duplicate entries, got %d", len(dupRequests[0].Entries))
	}

	if summary.Skipped != 2 || summary.Succeeded != 2 {
		t.Errorf("Expected 2 skipped and 2 succeeded, got %+v", summary)
	}
	if got := itemByName(t, summary, "statement.csv").Status; got != StatusSkipped {
		t.Errorf("Indexed duplicate should be skipped, got %s", got)
	}
	if got := itemByName(t, summary, "fresh.csv").Status; got != StatusSuccess {
		t.Errorf("Unaffected item must complete, got %s", got)
	}
}

func TestRunDuplicateProceedIsDetectedAndUploaded(t *testing.T) {
	service := newFakeService()
	service.detect["statement.csv"] = "bank_statement_yuh"

	index := dedup.NewIndex()
	index.Seed([]models.Document{{OriginalName: "statement.csv", FileSize: 1000}})

	resolver := &scriptResolver{} // proceed all
	coord, bus := newTestCoordinator(service, resolver, index)
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("statement.csv", 1000, "bank_statement_yuh"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Succeeded != 1 {
		t.Fatalf("Expected the kept duplicate to upload, got %+v", summary)
	}
	if _, ok := service.uploadedCategory("statement.csv"); !ok {
		t.Error("Kept duplicate was never uploaded")
	}
}

func TestRunConsolidatedMismatchAdoptsDetected(t *testing.T) {
	service := newFakeService()
	service.detect["depot.pdf"] = "broker_viac_pdf" // declared bank_statement_yuh
	service.detect["kfw.pdf"] = "loan_kfw_pdf"      // declared bank_statement_yuh
	service.detect["plain.csv"] = "bank_statement_dkb"

	resolver := &scriptResolver{} // proceed all
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("depot.pdf", 1000, "bank_statement_yuh"),
		memFile("kfw.pdf", 2000, "bank_statement_yuh"),
		memFile("plain.csv", 300, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mismatchRequests := resolver.requestsOf(KindMismatch)
	if len(mismatchRequests) != 1 {
		t.Fatalf("Expected exactly one consolidated mismatch request, got %d", len(mismatchRequests))
	}
	if len(mismatchRequests[0].Entries) != 2 {
		t.Errorf("Expected 2 mismatch entries, got %d", len(mismatchRequests[0].Entries))
	}
	for _, entry := range mismatchRequests[0].Entries {
		if entry.Declared == "" || entry.Detected == "" {
			t.Errorf("Mismatch entry must carry both categories: %+v", entry)
		}
	}

	if summary.Succeeded != 3 {
		t.Fatalf("Expected all 3 to succeed, got %+v", summary)
	}
	if got, _ := service.uploadedCategory("depot.pdf"); got != "broker_viac_pdf" {
		t.Errorf("Proceeding on a mismatch must adopt the detected category, got %q", got)
	}
	if got, _ := service.uploadedCategory("kfw.pdf"); got != "loan_kfw_pdf" {
		t.Errorf("Proceeding on a mismatch must adopt the detected category, got %q", got)
	}
}

func TestRunMismatchSkip(t *testing.T) {
	service := newFakeService()
	service.detect["depot.pdf"] = "broker_viac_pdf"

	resolver := &scriptResolver{decide: func(req *Request) Decision { return req.SkipAll() }}
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("depot.pdf", 1000, "bank_statement_yuh"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := itemByName(t, summary, "depot.pdf").Status; got != StatusSkipped {
		t.Errorf("Skipped mismatch must settle as skipped, got %s", got)
	}
	if _, ok := service.uploadedCategory("depot.pdf"); ok {
		t.Error("Skipped mismatch must not upload")
	}
}

func TestRunAuthFailureAbortsBatch(t *testing.T) {
	service := newFakeService()
	service.detect["bad.csv"] = "bank_statement_dkb"
	service.detect["slow.csv"] = "bank_statement_dkb"
	service.uploadErr["bad.csv"] = &api.AuthError{StatusCode: 401}
	// slow.csv never reaches a terminal processing state on its own
	service.processing["slow.csv"] = []*models.UploadStatus{
		{Status: models.ProcessingActive, Progress: 10},
	}

	resolver := &scriptResolver{}
	bus := events.NewEventBus(1000)
	defer bus.Close()

	cfg := fastIngestConfig()
	cfg.PollIntervalMS = 5
	cfg.PollAttemptCeiling = 2000
	coord := NewCoordinator(service, dedup.NewIndex(), resolver, bus, cfg)

	summary, err := coord.Run(context.Background(), []File{
		memFile("bad.csv", 100, "bank_statement_dkb"),
		memFile("slow.csv", 100, "bank_statement_dkb"),
	})
	if !api.IsAuthError(err) {
		t.Fatalf("Expected an auth error from Run, got %v", err)
	}

	if got := itemByName(t, summary, "bad.csv").Status; got != StatusError {
		t.Errorf("Failing item must settle as error, got %s", got)
	}
	slow := itemByName(t, summary, "slow.csv")
	if slow.Status != StatusError {
		t.Errorf("Sibling must be aborted, got %s", slow.Status)
	}
	if slow.Err == nil || !strings.Contains(slow.Err.Error(), "batch aborted") {
		t.Errorf("Sibling failure should name the batch abort, got %v", slow.Err)
	}
	if got := coord.OverallProgress(); got != 100 {
		t.Errorf("Expected overall progress 100 after settlement, got %d", got)
	}
}

func TestRunAdoptsDetectedWhenNoDeclaredCategory(t *testing.T) {
	service := newFakeService()
	service.detect["mystery.pdf"] = "loan_kfw_pdf"

	resolver := &scriptResolver{}
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("mystery.pdf", 1000, ""),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Succeeded != 1 {
		t.Fatalf("Expected success, got %+v", summary)
	}
	if got, _ := service.uploadedCategory("mystery.pdf"); got != "loan_kfw_pdf" {
		t.Errorf("Expected the detected category adopted, got %q", got)
	}
	if len(resolver.requests) != 0 {
		t.Error("Adopting a detected category is not a mismatch")
	}
}

func TestRunUndetectableWithoutDeclaredCategoryFails(t *testing.T) {
	service := newFakeService()
	service.detect["mystery.csv"] = ""
	service.detect["fine.csv"] = "bank_statement_dkb"

	resolver := &scriptResolver{}
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("mystery.csv", 1000, ""),
		memFile("fine.csv", 500, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Per-item failures must not fail the run: %v", err)
	}

	if got := itemByName(t, summary, "mystery.csv").Status; got != StatusError {
		t.Errorf("Undetectable item without a declared category must fail, got %s", got)
	}
	if got := itemByName(t, summary, "fine.csv").Status; got != StatusSuccess {
		t.Errorf("Sibling must be unaffected, got %s", got)
	}
}

func TestRunResolverFailureSkipsAffectedOnly(t *testing.T) {
	service := newFakeService()
	service.detect["fresh.csv"] = "bank_statement_dkb"

	index := dedup.NewIndex()
	index.Seed([]models.Document{{OriginalName: "statement.csv", FileSize: 1000}})

	resolver := &scriptResolver{err: errors.New("prompt unavailable")}
	coord, bus := newTestCoordinator(service, resolver, index)
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("statement.csv", 1000, "bank_statement_dkb"),
		memFile("fresh.csv", 300, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := itemByName(t, summary, "statement.csv").Status; got != StatusSkipped {
		t.Errorf("Unresolvable duplicate must be skipped, got %s", got)
	}
	if got := itemByName(t, summary, "fresh.csv").Status; got != StatusSuccess {
		t.Errorf("Unaffected item must complete, got %s", got)
	}
}

func TestRunDetectionFailureFallsBackToDeclared(t *testing.T) {
	service := newFakeService()
	service.detectErr["flaky.csv"] = errors.New("classifier unavailable")

	resolver := &scriptResolver{}
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("flaky.csv", 1000, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := itemByName(t, summary, "flaky.csv").Status; got != StatusSuccess {
		t.Errorf("Declared category should carry a failed detection, got %s", got)
	}
	if got, _ := service.uploadedCategory("flaky.csv"); got != "bank_statement_dkb" {
		t.Errorf("Expected upload under the declared category, got %q", got)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	resolver := &scriptResolver{}
	coord, bus := newTestCoordinator(newFakeService(), resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("Expected an empty summary, got %+v", summary)
	}
	if got := coord.OverallProgress(); got != 100 {
		t.Errorf("An empty batch is settled, got progress %d", got)
	}
}

func TestRunValidationFailuresAreItemLocal(t *testing.T) {
	service := newFakeService()
	service.detect["fine.csv"] = "bank_statement_dkb"

	resolver := &scriptResolver{}
	coord, bus := newTestCoordinator(service, resolver, dedup.NewIndex())
	defer bus.Close()

	summary, err := coord.Run(context.Background(), []File{
		memFile("empty.csv", 0, "bank_statement_dkb"),
		memFile("depot.pdf", 1200, "bank_statement_dkb"),
		memFile("fine.csv", 600, "bank_statement_dkb"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := itemByName(t, summary, "empty.csv").Status; got != StatusError {
		t.Errorf("Empty file should settle as error, got %s", got)
	}
	if got := itemByName(t, summary, "depot.pdf").Status; got != StatusError {
		t.Errorf("Rejected extension should settle as error, got %s", got)
	}
	if got := itemByName(t, summary, "fine.csv").Status; got != StatusSuccess {
		t.Errorf("Valid sibling should succeed, got %s", got)
	}

	if summary.Failed != 2 || summary.Succeeded != 1 {
		t.Errorf("Expected 2 failed and 1 succeeded, got %d and %d",
			summary.Failed, summary.Succeeded)
	}
	if _, ok := service.uploadedCategory("empty.csv"); ok {
		t.Error("Empty file must never reach the backend")
	}
	if _, ok := service.uploadedCategory("depot.pdf"); ok {
		t.Error("Rejected extension must never reach the backend")
	}
}
