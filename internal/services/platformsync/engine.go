package platformsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ne-autoprice/internal/config"
	"ne-autoprice/internal/models"
	"ne-autoprice/internal/services/nextengine"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// UpdatedProduct is one already-committed price change to propagate to the
// marketplace channels.
type UpdatedProduct struct {
	GoodsID   string  `json:"goods_id"`
	GoodsName string  `json:"goods_name"`
	NewPrice  float64 `json:"new_price"`
	MetalType string  `json:"metal_type"`
}

// BatchOutcome records how a single batch submission went.
type BatchOutcome struct {
	Batch    int    `json:"batch"`
	Products int    `json:"products"`
	Success  bool   `json:"success"`
	Retries  int    `json:"retries"`
	Error    string `json:"error,omitempty"`
}

// Result aggregates a whole sync attempt. Success means at least one batch
// went through; a fully offline marketplace shows up as success=false with
// every batch recorded.
type Result struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	TotalProducts     int            `json:"total_products"`
	ProcessedProducts int            `json:"processed_products"`
	TotalBatches      int            `json:"total_batches"`
	SuccessfulBatches int            `json:"successful_batches"`
	Batches           []BatchOutcome `json:"batches"`
}

// Uploader submits a bulk goods CSV upstream.
type Uploader interface {
	UploadGoodsCSV(ctx context.Context, data string) (*nextengine.APIResponse, error)
}

// SyncLogStore persists the append-only sync audit trail.
type SyncLogStore interface {
	AppendSyncLog(entry models.PlatformSyncLog) error
}

// Engine pushes price updates to marketplace channels in bounded batches
// with per-batch retry. A batch failure never aborts sibling batches.
type Engine struct {
	uploader   Uploader
	logs       SyncLogStore
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	batchPause time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(uploader Uploader, logs SyncLogStore, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		uploader:   uploader,
		logs:       logs,
		batchSize:  cfg.SyncBatchSize,
		maxRetries: cfg.SyncMaxRetries,
		retryDelay: cfg.SyncRetryDelay,
		batchPause: cfg.SyncBatchPause,
		logger:     logger,
		now:        time.Now,
	}
}

// Sync splits the products into batches, submits each one and records every
// outcome in the platform sync log, whether the overall run succeeded or not.
func (e *Engine) Sync(ctx context.Context, products []UpdatedProduct) Result {
	result := Result{TotalProducts: len(products)}
	if len(products) == 0 {
		result.Message = "no products to sync"
		return result
	}

	for start := 0; start < len(products); start += e.batchSize {
		end := start + e.batchSize
		if end > len(products) {
			end = len(products)
		}
		batch := products[start:end]
		batchNo := len(result.Batches) + 1

		outcome := e.submitBatch(ctx, batchNo, batch)
		result.Batches = append(result.Batches, outcome)
		if outcome.Success {
			result.SuccessfulBatches++
			result.ProcessedProducts += outcome.Products
		}

		// Fixed pacing between batches regardless of outcome.
		if end < len(products) {
			if err := sleepCtx(ctx, e.batchPause); err != nil {
				e.logger.Warn("sync interrupted between batches", zap.Error(err))
				break
			}
		}
	}

	result.TotalBatches = len(result.Batches)
	result.Success = result.SuccessfulBatches > 0
	result.Message = fmt.Sprintf("synced %d/%d products across %d/%d batches",
		result.ProcessedProducts, result.TotalProducts,
		result.SuccessfulBatches, result.TotalBatches)

	e.persist(result)
	return result
}

func (e *Engine) submitBatch(ctx context.Context, batchNo int, batch []UpdatedProduct) BatchOutcome {
	outcome := BatchOutcome{Batch: batchNo, Products: len(batch)}
	payload := buildBulkCSV(batch)

	operation := func() error {
		_, err := e.uploader.UploadGoodsCSV(ctx, payload)
		if err == nil {
			return nil
		}
		if nextengine.IsRetryableUpload(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: e.retryDelay}, uint64(e.maxRetries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, delay time.Duration) {
		outcome.Retries++
		e.logger.Warn("sync batch retrying",
			zap.Int("batch", batchNo), zap.Duration("delay", delay), zap.Error(err))
	})
	if err != nil {
		outcome.Error = err.Error()
		e.logger.Error("sync batch failed",
			zap.Int("batch", batchNo), zap.Int("retries", outcome.Retries), zap.Error(err))
		return outcome
	}

	outcome.Success = true
	e.logger.Info("sync batch submitted",
		zap.Int("batch", batchNo), zap.Int("products", len(batch)), zap.Int("retries", outcome.Retries))
	return outcome
}

func (e *Engine) persist(result Result) {
	if e.logs == nil {
		return
	}

	status := models.SyncError
	if result.Success {
		status = models.SyncSuccess
	}

	var errMsg string
	for _, b := range result.Batches {
		if !b.Success && b.Error != "" {
			errMsg = b.Error
			break
		}
	}

	details, _ := json.Marshal(result.Batches)
	entry := models.PlatformSyncLog{
		SyncedAt:     e.now(),
		ProductCount: result.ProcessedProducts,
		Status:       status,
		Details:      string(details),
		ErrorMessage: errMsg,
	}
	if err := e.logs.AppendSyncLog(entry); err != nil {
		e.logger.Error("failed to write platform sync log", zap.Error(err))
	}
}

// buildBulkCSV serializes a batch as the upstream's bulk price-update
// payload: one row per product with the new price replicated into each
// marketplace price column.
func buildBulkCSV(batch []UpdatedProduct) string {
	var b strings.Builder
	b.WriteString("syohin_code,baika_tnk,baika_rakuten,baika_yahoo,baika_amazon")
	for _, p := range batch {
		price := fmt.Sprintf("%.0f", p.NewPrice)
		b.WriteString(fmt.Sprintf("\n%s,%s,%s,%s,%s", p.GoodsID, price, price, price, price))
	}
	return b.String()
}

// linearBackOff waits attempt*step between retries, per the upstream's
// guidance for bulk upload rejections.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
