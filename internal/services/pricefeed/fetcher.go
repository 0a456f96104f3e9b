package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ne-autoprice/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrGoldPriceNotFound means the feed page had no parsable gold row. Gold is
// mandatory; a run cannot proceed without it.
var ErrGoldPriceNotFound = errors.New("pricefeed: gold price not found in feed page")

// Prices is one day's spot quote. Platinum is nil when the feed page is
// missing the platinum row; callers decide what to do with a one-metal day.
type Prices struct {
	Gold     float64
	Platinum *float64
}

// The feed publishes prices as table rows like
//
//	<tr class="gold">...<td class="retail_tax">19,230 yen</td>...
//
// with comma-grouped integers.
var (
	goldRe     = regexp.MustCompile(`(?is)<tr class="gold">.*?<td class="retail_tax">([0-9,]+) yen</td>`)
	platinumRe = regexp.MustCompile(`(?is)<tr class="pt">.*?<td class="retail_tax">([0-9,]+) yen</td>`)
)

// Fetcher retrieves current gold/platinum spot prices from the market price
// page. No retry at this layer; transient feed failures propagate and the
// caller decides whether to abort the day's run.
type Fetcher struct {
	http   *resty.Client
	url    string
	logger *zap.Logger
}

func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	httpClient := resty.New()
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetHeader("User-Agent", "Mozilla/5.0 (compatible; NE AutoPrice Updater)")

	return &Fetcher{
		http:   httpClient,
		url:    cfg.PriceFeedURL,
		logger: logger,
	}
}

// Fetch downloads the feed page and parses today's prices out of it.
func (f *Fetcher) Fetch(ctx context.Context) (*Prices, error) {
	resp, err := f.http.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: fetch %s: %w", f.url, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("pricefeed: fetch %s: HTTP %d", f.url, resp.StatusCode())
	}

	return f.parse(string(resp.Body()))
}

func (f *Fetcher) parse(body string) (*Prices, error) {
	goldMatch := goldRe.FindStringSubmatch(body)
	if goldMatch == nil {
		return nil, ErrGoldPriceNotFound
	}
	gold, err := parseGroupedNumber(goldMatch[1])
	if err != nil {
		return nil, fmt.Errorf("pricefeed: parse gold price %q: %w", goldMatch[1], err)
	}

	prices := &Prices{Gold: gold}

	if ptMatch := platinumRe.FindStringSubmatch(body); ptMatch != nil {
		platinum, err := parseGroupedNumber(ptMatch[1])
		if err != nil {
			return nil, fmt.Errorf("pricefeed: parse platinum price %q: %w", ptMatch[1], err)
		}
		prices.Platinum = &platinum
	} else {
		f.logger.Warn("platinum price not found in feed page, platinum repricing will be skipped today")
	}

	return prices, nil
}

func parseGroupedNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
