package platformsync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"ne-autoprice/internal/config"
	"ne-autoprice/internal/models"
	"ne-autoprice/internal/services/nextengine"

	"go.uber.org/zap"
)

type fakeUploader struct {
	calls    []string
	failures map[int]error // call index -> error returned
}

func (f *fakeUploader) UploadGoodsCSV(ctx context.Context, data string) (*nextengine.APIResponse, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, data)
	if err, ok := f.failures[idx]; ok {
		return nil, err
	}
	return &nextengine.APIResponse{Result: "success"}, nil
}

type memSyncLog struct {
	entries []models.PlatformSyncLog
}

func (m *memSyncLog) AppendSyncLog(entry models.PlatformSyncLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func testEngine(uploader Uploader, logs SyncLogStore) *Engine {
	cfg := config.Load()
	cfg.SyncRetryDelay = time.Millisecond
	cfg.SyncBatchPause = 0
	return NewEngine(uploader, logs, cfg, zap.NewNop())
}

func makeProducts(n int) []UpdatedProduct {
	out := make([]UpdatedProduct, n)
	for i := range out {
		out[i] = UpdatedProduct{
			GoodsID:   fmt.Sprintf("A%03d", i),
			GoodsName: "【新品】K18 ネックレス",
			NewPrice:  100000 + float64(i*10),
			MetalType: "gold",
		}
	}
	return out
}

// 120 products at batch size 50 yield three batches; a permanently failing
// middle batch leaves the overall run successful with the failure on record.
func TestSyncBatchingWithOneFailedBatch(t *testing.T) {
	uploader := &fakeUploader{failures: map[int]error{
		1: &nextengine.APIError{Code: "001001", Message: "bad row", Kind: nextengine.ErrorKindAPI},
	}}
	logs := &memSyncLog{}
	engine := testEngine(uploader, logs)

	result := engine.Sync(context.Background(), makeProducts(120))

	if result.TotalBatches != 3 || result.SuccessfulBatches != 2 {
		t.Fatalf("batches = %d/%d, want 2/3", result.SuccessfulBatches, result.TotalBatches)
	}
	if !result.Success {
		t.Fatal("one good batch must make the run a success")
	}
	if result.ProcessedProducts != 70 { // 50 + 20
		t.Fatalf("processed = %d, want 70", result.ProcessedProducts)
	}
	// Non-retryable error must not be retried: exactly one call per batch.
	if len(uploader.calls) != 3 {
		t.Fatalf("upload calls = %d, want 3", len(uploader.calls))
	}
	if result.Batches[1].Success || result.Batches[1].Error == "" {
		t.Fatalf("failed batch outcome = %+v", result.Batches[1])
	}

	if len(logs.entries) != 1 {
		t.Fatalf("sync log entries = %d, want 1", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.Status != models.SyncSuccess || entry.ProductCount != 70 {
		t.Fatalf("log entry = %+v", entry)
	}
	if !strings.Contains(entry.ErrorMessage, "bad row") {
		t.Fatalf("log error = %q", entry.ErrorMessage)
	}
}

// An upload-limit rejection is retried with backoff until it clears.
func TestSyncRetriesRateLimitedBatch(t *testing.T) {
	rateLimited := &nextengine.APIError{Code: "003001", Message: "payload limit", Kind: nextengine.ErrorKindRateLimit}
	uploader := &fakeUploader{failures: map[int]error{0: rateLimited, 1: rateLimited}}
	logs := &memSyncLog{}
	engine := testEngine(uploader, logs)

	result := engine.Sync(context.Background(), makeProducts(10))

	if !result.Success || result.SuccessfulBatches != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(uploader.calls) != 3 {
		t.Fatalf("upload calls = %d, want 3 (two retries)", len(uploader.calls))
	}
	if result.Batches[0].Retries != 2 {
		t.Fatalf("retries = %d, want 2", result.Batches[0].Retries)
	}
}

// Exhausting the retry budget on every batch yields failure, and the audit
// entry still lands.
func TestSyncAllBatchesFail(t *testing.T) {
	rateLimited := &nextengine.APIError{Code: "003001", Message: "payload limit", Kind: nextengine.ErrorKindRateLimit}
	failures := make(map[int]error)
	for i := 0; i < 10; i++ {
		failures[i] = rateLimited
	}
	uploader := &fakeUploader{failures: failures}
	logs := &memSyncLog{}
	engine := testEngine(uploader, logs)

	result := engine.Sync(context.Background(), makeProducts(10))

	if result.Success || result.SuccessfulBatches != 0 {
		t.Fatalf("result = %+v, want failure", result)
	}
	// maxRetries=3 means up to four attempts for the single batch.
	if len(uploader.calls) != 4 {
		t.Fatalf("upload calls = %d, want 4", len(uploader.calls))
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != models.SyncError {
		t.Fatalf("log entries = %+v", logs.entries)
	}
}

func TestSyncEmptyInput(t *testing.T) {
	uploader := &fakeUploader{}
	logs := &memSyncLog{}
	engine := testEngine(uploader, logs)

	result := engine.Sync(context.Background(), nil)
	if result.Success || result.TotalBatches != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(uploader.calls) != 0 {
		t.Fatal("no uploads expected for empty input")
	}
	if len(logs.entries) != 0 {
		t.Fatal("no audit entry expected for empty input")
	}
}

func TestBuildBulkCSV(t *testing.T) {
	got := buildBulkCSV([]UpdatedProduct{
		{GoodsID: "A001", NewPrice: 105270},
		{GoodsID: "P001", NewPrice: 80010},
	})
	want := "syohin_code,baika_tnk,baika_rakuten,baika_yahoo,baika_amazon\n" +
		"A001,105270,105270,105270,105270\n" +
		"P001,80010,80010,80010,80010"
	if got != want {
		t.Fatalf("csv = %q, want %q", got, want)
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 2 * time.Second}
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Fatalf("first delay = %v", d)
	}
	if d := b.NextBackOff(); d != 4*time.Second {
		t.Fatalf("second delay = %v", d)
	}
	b.Reset()
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Fatalf("delay after reset = %v", d)
	}
}
