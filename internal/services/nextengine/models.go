package nextengine

import "encoding/json"

// TokenPair is the credential set required by every NextEngine API call.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// APIResponse is the envelope NextEngine wraps around every endpoint.
// Any response may carry a fresh token pair (rolling refresh).
type APIResponse struct {
	Result       string          `json:"result"`
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	Count        json.Number     `json:"count"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

// Product is the read-only goods snapshot returned by the master goods
// search. NextEngine serializes every field as a string.
type Product struct {
	GoodsID       string `json:"goods_id"`
	GoodsName     string `json:"goods_name"`
	SellingPrice  string `json:"goods_selling_price"`
	CostPrice     string `json:"goods_cost_price"`
	StockQuantity string `json:"stock_quantity"`
}

// KeepAliveResult reports a keepalive attempt. KeepAlive never fails with an
// error so scheduled callers always get something to log.
type KeepAliveResult struct {
	Success   bool   `json:"success"`
	Refreshed bool   `json:"refreshed"`
	Message   string `json:"message"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
