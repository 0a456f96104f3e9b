package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ne-autoprice/internal/config"
	"ne-autoprice/internal/models"
	"ne-autoprice/internal/services/nextengine"
	"ne-autoprice/internal/services/platformsync"
	"ne-autoprice/internal/services/pricefeed"

	"go.uber.org/zap"
)

// ErrNoBaseline means no previous business day price was found within the
// lookback window; a ratio cannot be computed without one.
var ErrNoBaseline = errors.New("pricing: no previous business day price within lookback window")

// ERPClient is the slice of the NextEngine client the repricing run needs.
type ERPClient interface {
	KeepAlive(ctx context.Context) nextengine.KeepAliveResult
	GetProducts(ctx context.Context, limit, offset int) ([]nextengine.Product, error)
	UpdateProductPrice(ctx context.Context, goodsID string, price float64) error
}

// FeedFetcher supplies today's spot prices.
type FeedFetcher interface {
	Fetch(ctx context.Context) (*pricefeed.Prices, error)
}

// PlatformSyncer re-pushes committed price changes to marketplace channels.
type PlatformSyncer interface {
	Sync(ctx context.Context, products []platformsync.UpdatedProduct) platformsync.Result
}

// ProductUpdate is one committed price change.
type ProductUpdate struct {
	GoodsID   string  `json:"goods_id"`
	GoodsName string  `json:"goods_name"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
	Metal     Metal   `json:"metal_type"`
}

// RunResult is the structured outcome of one scheduled repricing run.
type RunResult struct {
	Status          string               `json:"status"`
	Message         string               `json:"message"`
	Skipped         bool                 `json:"skipped"`
	GoldRatio       *float64             `json:"gold_ratio,omitempty"`
	PlatinumRatio   *float64             `json:"platinum_ratio,omitempty"`
	TotalEligible   int                  `json:"total_eligible"`
	UpdatedProducts int                  `json:"updated_products"`
	FailedProducts  int                  `json:"failed_products"`
	DurationSeconds float64              `json:"duration_seconds"`
	Sync            *platformsync.Result `json:"sync,omitempty"`
}

// Service orchestrates the daily repricing flow. One instance per run is
// fine: all state lives in the store.
type Service struct {
	client ERPClient
	feed   FeedFetcher
	syncer PlatformSyncer
	store  Store
	rules  *Rules
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(client ERPClient, feed FeedFetcher, syncer PlatformSyncer, store Store, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		client: client,
		feed:   feed,
		syncer: syncer,
		store:  store,
		rules:  NewRules(cfg),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Rules exposes the pure repricing predicates.
func (s *Service) Rules() *Rules {
	return s.rules
}

// RunDailyUpdate executes the whole repricing state machine for today and
// always leaves exactly one execution log row for the date, whatever
// happens. It never returns an error; the outcome is in the result.
func (s *Service) RunDailyUpdate(ctx context.Context, reason string) (result *RunResult) {
	start := s.now()
	today := dateOnly(start)
	result = &RunResult{Status: models.ExecutionFailed}

	finish := func(errMsg, skippedReason string) {
		result.DurationSeconds = s.now().Sub(start).Seconds()
		if result.Message == "" {
			if errMsg != "" {
				result.Message = errMsg
			} else {
				result.Message = skippedReason
			}
		}
		entry := models.ExecutionLog{
			Date:            today,
			Status:          result.Status,
			UpdatedProducts: result.UpdatedProducts,
			GoldRatio:       result.GoldRatio,
			PlatinumRatio:   result.PlatinumRatio,
			ExecutionReason: reason,
			ErrorMessage:    errMsg,
			SkippedReason:   skippedReason,
			DurationSeconds: result.DurationSeconds,
		}
		if err := s.store.UpsertExecutionLog(entry); err != nil {
			s.logger.Error("failed to write execution log", zap.Error(err))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("repricing run panicked", zap.Any("panic", r))
			result.Status = models.ExecutionFailed
			result.Message = ""
			finish(fmt.Sprintf("unexpected error: %v", r), "")
		}
	}()

	// Best-effort token exercise; a failure here is not fatal for the run.
	if ka := s.client.KeepAlive(ctx); !ka.Success {
		s.logger.Warn("keepalive before repricing failed", zap.String("message", ka.Message))
	}

	enabled, err := s.store.PriceUpdateEnabled()
	if err != nil {
		finish(fmt.Sprintf("read enabled switch: %v", err), "")
		return result
	}
	if !enabled {
		result.Status = models.ExecutionSkipped
		result.Skipped = true
		finish("", "price updates disabled")
		return result
	}

	if !s.rules.IsBusinessDay(start) {
		result.Status = models.ExecutionSkipped
		result.Skipped = true
		finish("", "weekend or holiday")
		return result
	}

	prices, err := s.feed.Fetch(ctx)
	if err != nil {
		finish(fmt.Sprintf("fetch current prices: %v", err), "")
		return result
	}
	s.logger.Info("current spot prices fetched",
		zap.Float64("gold", prices.Gold), zap.Float64p("platinum", prices.Platinum))

	if err := s.store.UpsertPriceHistory(models.PriceHistory{
		Date:          today,
		GoldPrice:     prices.Gold,
		PlatinumPrice: prices.Platinum,
		Source:        s.cfg.PriceFeedURL,
	}); err != nil {
		finish(fmt.Sprintf("save price history: %v", err), "")
		return result
	}

	previous, err := s.previousBusinessDayPrice(today)
	if err != nil {
		finish(err.Error(), "")
		return result
	}

	goldRatio := ChangeRatio(prices.Gold, previous.GoldPrice)
	result.GoldRatio = &goldRatio

	var platinumRatio *float64
	if prices.Platinum != nil && previous.PlatinumPrice != nil {
		r := ChangeRatio(*prices.Platinum, *previous.PlatinumPrice)
		platinumRatio = &r
	}
	result.PlatinumRatio = platinumRatio

	s.logger.Info("price change ratios computed",
		zap.Float64("gold_ratio", goldRatio), zap.Float64p("platinum_ratio", platinumRatio))

	if s.rules.Negligible(goldRatio, platinumRatio) {
		result.Status = models.ExecutionSkipped
		result.Skipped = true
		finish("", "negligible change")
		return result
	}

	updates, failed, eligible, err := s.updateProducts(ctx, goldRatio, platinumRatio)
	result.UpdatedProducts = len(updates)
	result.FailedProducts = failed
	result.TotalEligible = eligible
	if err != nil {
		finish(fmt.Sprintf("walk product catalog: %v", err), "")
		return result
	}

	var errMsg string
	if failed > 0 {
		errMsg = fmt.Sprintf("%d product updates failed", failed)
	}
	if len(updates) > 0 {
		result.Status = models.ExecutionSuccess
		result.Message = "price update completed"
	} else {
		result.Status = models.ExecutionFailed
		if errMsg == "" {
			errMsg = "no products updated"
		}
	}
	finish(errMsg, "")

	// Marketplace sync runs after the ERP prices are committed; its failure
	// never changes the run outcome.
	if len(updates) > 0 && s.syncer != nil {
		syncResult := s.syncer.Sync(ctx, toSyncProducts(updates))
		result.Sync = &syncResult
		if !syncResult.Success {
			s.logger.Warn("marketplace sync failed", zap.String("message", syncResult.Message))
		}
	}

	return result
}

func (s *Service) updateProducts(ctx context.Context, goldRatio float64, platinumRatio *float64) (updates []ProductUpdate, failed, eligible int, err error) {
	limit := s.cfg.ProductPageSize
	for offset := 0; ; offset += limit {
		products, pageErr := s.client.GetProducts(ctx, limit, offset)
		if pageErr != nil {
			return updates, failed, eligible, pageErr
		}
		if len(products) == 0 {
			break
		}

		for _, p := range products {
			metal := s.rules.MetalType(p.GoodsName)
			if metal == MetalNone {
				continue
			}

			ratio := goldRatio
			if metal == MetalPlatinum {
				if platinumRatio == nil {
					// No platinum baseline today; leave platinum products untouched.
					continue
				}
				ratio = *platinumRatio
			}

			oldPrice, parseErr := strconv.ParseFloat(p.SellingPrice, 64)
			if parseErr != nil || oldPrice <= 0 {
				continue
			}
			eligible++

			newPrice := RoundUpToTen(oldPrice * (1 + ratio))
			if newPrice == oldPrice {
				continue
			}

			if updateErr := s.client.UpdateProductPrice(ctx, p.GoodsID, newPrice); updateErr != nil {
				failed++
				s.logger.Warn("product price update failed",
					zap.String("goods_id", p.GoodsID), zap.Error(updateErr))
			} else {
				updates = append(updates, ProductUpdate{
					GoodsID:   p.GoodsID,
					GoodsName: p.GoodsName,
					OldPrice:  oldPrice,
					NewPrice:  newPrice,
					Metal:     metal,
				})
				s.logger.Info("product price updated", zap.String("goods_id", p.GoodsID),
					zap.Float64("old_price", oldPrice), zap.Float64("new_price", newPrice))
			}

			// Upstream rate limit pacing between individual update calls.
			if sleepErr := sleepCtx(ctx, s.cfg.UpdateInterval); sleepErr != nil {
				return updates, failed, eligible, sleepErr
			}
		}
	}
	return updates, failed, eligible, nil
}

func (s *Service) previousBusinessDayPrice(today time.Time) (*models.PriceHistory, error) {
	for daysBack := 1; daysBack <= s.cfg.BaselineLookbackDays; daysBack++ {
		row, err := s.store.PriceHistoryByDate(today.AddDate(0, 0, -daysBack))
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}
	return nil, ErrNoBaseline
}

func toSyncProducts(updates []ProductUpdate) []platformsync.UpdatedProduct {
	out := make([]platformsync.UpdatedProduct, 0, len(updates))
	for _, u := range updates {
		out = append(out, platformsync.UpdatedProduct{
			GoodsID:   u.GoodsID,
			GoodsName: u.GoodsName,
			NewPrice:  u.NewPrice,
			MetalType: string(u.Metal),
		})
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
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
