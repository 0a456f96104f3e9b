package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ne-autoprice/internal/config"

	"go.uber.org/zap"
)

const feedPage = `
<html><body><table>
<tr class="gold">
  <td class="metal_name">Gold</td>
  <td class="retail_tax">19,230 yen</td>
  <td class="retail_ratio">+120</td>
</tr>
<tr class="pt">
  <td class="metal_name">Platinum</td>
  <td class="retail_tax">5,870 yen</td>
  <td class="retail_ratio">-30</td>
</tr>
</table></body></html>`

const feedPageGoldOnly = `
<html><body><table>
<tr class="gold">
  <td class="metal_name">Gold</td>
  <td class="retail_tax">19,230 yen</td>
</tr>
</table></body></html>`

func testFetcher(url string) *Fetcher {
	cfg := config.Load()
	cfg.PriceFeedURL = url
	return NewFetcher(cfg, zap.NewNop())
}

func TestParseBothMetals(t *testing.T) {
	prices, err := testFetcher("").parse(feedPage)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if prices.Gold != 19230 {
		t.Fatalf("gold = %v, want 19230", prices.Gold)
	}
	if prices.Platinum == nil || *prices.Platinum != 5870 {
		t.Fatalf("platinum = %v, want 5870", prices.Platinum)
	}
}

func TestParseMissingPlatinum(t *testing.T) {
	prices, err := testFetcher("").parse(feedPageGoldOnly)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if prices.Gold != 19230 {
		t.Fatalf("gold = %v", prices.Gold)
	}
	if prices.Platinum != nil {
		t.Fatalf("platinum = %v, want nil on a gold-only page", *prices.Platinum)
	}
}

func TestParseMissingGold(t *testing.T) {
	_, err := testFetcher("").parse("<html><body>maintenance</body></html>")
	if !errors.Is(err, ErrGoldPriceNotFound) {
		t.Fatalf("err = %v, want ErrGoldPriceNotFound", err)
	}
}

func TestFetchFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPage)
	}))
	defer srv.Close()

	prices, err := testFetcher(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if prices.Gold != 19230 || prices.Platinum == nil {
		t.Fatalf("prices = %+v", prices)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := testFetcher(srv.URL).Fetch(context.Background()); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}
