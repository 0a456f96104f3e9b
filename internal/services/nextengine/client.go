package nextengine

import (
	"context"
	"encoding/json"
	"fmt"

	"ne-autoprice/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	endpointToken       = "/api_v1_oauth2_token"
	endpointLoginUser   = "/api_v1_login_user/info"
	endpointGoodsSearch = "/api_v1_master_goods/search"
	endpointGoodsUpload = "/api_v1_master_goods/upload"
)

const goodsFields = "goods_id,goods_name,goods_selling_price,goods_cost_price,stock_quantity"

// Client calls the NextEngine API with the stored token pair and self-heals
// on authentication failure: one refresh with the current refresh token,
// then a retry with a freshly read pair.
type Client struct {
	http         *resty.Client
	store        TokenStore
	clientID     string
	clientSecret string
	retries      int
	logger       *zap.Logger
}

func NewClient(cfg *config.Config, store TokenStore, logger *zap.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.NEAPIBaseURL)
	httpClient.SetTimeout(cfg.APITimeout)

	retries := cfg.APIRetries
	if retries < 2 {
		retries = 2
	}

	return &Client{
		http:         httpClient,
		store:        store,
		clientID:     cfg.NEClientID,
		clientSecret: cfg.NEClientSecret,
		retries:      retries,
		logger:       logger,
	}
}

// CallAPI issues a form-encoded POST carrying the current token pair. A
// token pair returned in the response body supersedes the stored one before
// anything else happens. A token-kind error triggers one refresh-and-retry;
// transport and HTTP failures burn an attempt and the last error surfaces
// once attempts are exhausted.
func (c *Client) CallAPI(ctx context.Context, endpoint string, params map[string]string) (*APIResponse, error) {
	pair, err := c.store.Get()
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if pair == nil {
		return nil, ErrNoTokens
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			// Re-read the store: the pair may have been rotated by our
			// refresh or by a concurrent caller since the last attempt.
			pair, err = c.store.Get()
			if err != nil {
				return nil, fmt.Errorf("load tokens: %w", err)
			}
			if pair == nil {
				return nil, ErrNoTokens
			}
		}

		form := map[string]string{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
		}
		for k, v := range params {
			form[k] = v
		}

		resp, err := c.http.R().SetContext(ctx).SetFormData(form).Post(endpoint)
		if err != nil {
			lastErr = fmt.Errorf("nextengine: %s: %w", endpoint, err)
			c.logger.Warn("api call attempt failed",
				zap.String("endpoint", endpoint), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if !resp.IsSuccess() {
			lastErr = fmt.Errorf("nextengine: %s: HTTP %d", endpoint, resp.StatusCode())
			c.logger.Warn("api call attempt failed",
				zap.String("endpoint", endpoint), zap.Int("attempt", attempt+1), zap.Error(lastErr))
			continue
		}

		var out APIResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			lastErr = fmt.Errorf("nextengine: decode %s response: %w", endpoint, err)
			continue
		}

		// Rolling refresh: persist a returned pair immediately.
		if out.AccessToken != "" && out.RefreshToken != "" {
			if err := c.saveTokens(out.AccessToken, out.RefreshToken); err != nil {
				return nil, fmt.Errorf("persist rotated tokens: %w", err)
			}
		}

		if out.Result != "success" {
			apiErr := &APIError{Code: out.Code, Message: out.Message, Kind: ClassifyAPIError(out.Code, out.Message)}
			if apiErr.Kind == ErrorKindToken && attempt < c.retries-1 {
				c.logger.Warn("access token rejected, refreshing",
					zap.String("code", out.Code), zap.String("message", out.Message))
				if _, err := c.RefreshToken(ctx, pair.RefreshToken); err != nil {
					return nil, err
				}
				lastErr = apiErr
				continue
			}
			return &out, apiErr
		}

		return &out, nil
	}

	return nil, lastErr
}

// RefreshToken exchanges the refresh token for a new pair and persists it.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := c.http.R().SetContext(ctx).SetFormData(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}).Post(endpointToken)
	if err != nil {
		return nil, &TokenRefreshError{Reason: err.Error()}
	}
	if !resp.IsSuccess() {
		return nil, &TokenRefreshError{Status: resp.Status(), Reason: "token endpoint returned non-success status"}
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return nil, &TokenRefreshError{Reason: "malformed token response"}
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, &TokenRefreshError{Reason: "token response missing access_token or refresh_token"}
	}

	pair := TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	}
	if err := c.store.Save(pair); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	c.logger.Info("token pair refreshed")
	return &pair, nil
}

// KeepAlive makes the cheapest authenticated call purely to exercise the
// token. On failure it attempts one manual refresh-and-retry. It never
// returns an error so the scheduled caller always has a status to log.
func (c *Client) KeepAlive(ctx context.Context) KeepAliveResult {
	res, err := c.CallAPI(ctx, endpointLoginUser, nil)
	if err == nil {
		return KeepAliveResult{
			Success:   true,
			Refreshed: res.AccessToken != "",
			Message:   "Token is healthy",
		}
	}
	c.logger.Warn("keepalive call failed, attempting manual refresh", zap.Error(err))

	pair, getErr := c.store.Get()
	if getErr == nil && pair != nil && pair.RefreshToken != "" {
		if _, refreshErr := c.RefreshToken(ctx, pair.RefreshToken); refreshErr == nil {
			if _, retryErr := c.CallAPI(ctx, endpointLoginUser, nil); retryErr == nil {
				return KeepAliveResult{
					Success:   true,
					Refreshed: true,
					Message:   "Token refreshed and healthy",
				}
			}
		} else {
			c.logger.Error("manual token refresh failed", zap.Error(refreshErr))
		}
	}

	return KeepAliveResult{Success: false, Refreshed: false, Message: err.Error()}
}

// GetProducts fetches one page of the goods master.
func (c *Client) GetProducts(ctx context.Context, limit, offset int) ([]Product, error) {
	res, err := c.CallAPI(ctx, endpointGoodsSearch, map[string]string{
		"fields": goodsFields,
		"limit":  fmt.Sprintf("%d", limit),
		"offset": fmt.Sprintf("%d", offset),
	})
	if err != nil {
		return nil, err
	}

	if len(res.Data) == 0 {
		return nil, nil
	}
	var products []Product
	if err := json.Unmarshal(res.Data, &products); err != nil {
		return nil, fmt.Errorf("nextengine: decode goods data: %w", err)
	}
	return products, nil
}

// UpdateProductPrice sets the main selling price of a single product through
// the CSV upload endpoint.
func (c *Client) UpdateProductPrice(ctx context.Context, goodsID string, price float64) error {
	csvData := fmt.Sprintf("syohin_code,baika_tnk\n%s,%.0f", goodsID, price)
	_, err := c.UploadGoodsCSV(ctx, csvData)
	return err
}

// UploadGoodsCSV submits a goods master CSV payload. The marketplace sync
// engine uses this for its bulk batches.
func (c *Client) UploadGoodsCSV(ctx context.Context, data string) (*APIResponse, error) {
	return c.CallAPI(ctx, endpointGoodsUpload, map[string]string{
		"data_type": "csv",
		"data":      data,
	})
}

func (c *Client) saveTokens(access, refresh string) error {
	return c.store.Save(TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	})
}
