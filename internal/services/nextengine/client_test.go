package nextengine

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

type memTokenStore struct {
	pair  *TokenPair
	saves int
}

func (m *memTokenStore) Get() (*TokenPair, error) {
	if m.pair == nil {
		return nil, nil
	}
	copied := *m.pair
	return &copied, nil
}

func (m *memTokenStore) Save(pair TokenPair) error {
	m.pair = &pair
	m.saves++
	return nil
}

func newTestClient(t *testing.T, baseURL string, store TokenStore) *Client {
	t.Helper()
	cfg := config.Load()
	cfg.NEAPIBaseURL = baseURL
	cfg.NEClientID = "client-id"
	cfg.NEClientSecret = "client-secret"
	return NewClient(cfg, store, zap.NewNop())
}

func TestCallAPINoTokens(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", &memTokenStore{})
	if _, err := client.CallAPI(context.Background(), "/api_v1_login_user/info", nil); !errors.Is(err, ErrNoTokens) {
		t.Fatalf("err = %v, want ErrNoTokens", err)
	}
}

// Any successful response carrying a token pair must replace the stored one
// before the caller sees the result.
func TestCallAPIRollingRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.PostFormValue("access_token"); got != "old-access" {
			t.Errorf("request carried access_token %q", got)
		}
		fmt.Fprint(w, `{"result":"success","access_token":"new-access","refresh_token":"new-refresh","data":[],"count":"0"}`)
	}))
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"}}
	client := newTestClient(t, srv.URL, store)

	res, err := client.CallAPI(context.Background(), "/api_v1_login_user/info", nil)
	if err != nil {
		t.Fatalf("CallAPI: %v", err)
	}
	if res.Result != "success" {
		t.Fatalf("result = %q", res.Result)
	}
	if store.pair.AccessToken != "new-access" || store.pair.RefreshToken != "new-refresh" {
		t.Fatalf("stored pair = %+v, rotation not persisted", store.pair)
	}
}

// A dead access token triggers one refresh against the token endpoint and a
// retry that re-reads the store, so the second attempt goes out with the new
// pair.
func TestCallAPITokenErrorRefreshAndRetry(t *testing.T) {
	var searchCalls, refreshCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api_v1_oauth2_token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		_ = r.ParseForm()
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostFormValue("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh"}`)
	})
	mux.HandleFunc("/api_v1_master_goods/search", func(w http.ResponseWriter, r *http.Request) {
		searchCalls++
		_ = r.ParseForm()
		if r.PostFormValue("access_token") == "old-access" {
			fmt.Fprint(w, `{"result":"error","code":"002004","message":"アクセストークンが不正です。"}`)
			return
		}
		fmt.Fprint(w, `{"result":"success","data":[{"goods_id":"A001","goods_name":"【新品】K18 ネックレス","goods_selling_price":"100000"}],"count":"1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"}}
	client := newTestClient(t, srv.URL, store)

	products, err := client.GetProducts(context.Background(), 200, 0)
	if err != nil {
		t.Fatalf("GetProducts: %v", err)
	}
	if len(products) != 1 || products[0].GoodsID != "A001" || products[0].SellingPrice != "100000" {
		t.Fatalf("products = %+v", products)
	}
	if refreshCalls != 1 || searchCalls != 2 {
		t.Fatalf("refreshCalls=%d searchCalls=%d, want 1 and 2", refreshCalls, searchCalls)
	}
	if store.pair.AccessToken != "new-access" {
		t.Fatalf("stored access token = %q, refresh not persisted", store.pair.AccessToken)
	}
}

// A rejected refresh is fatal for the call chain, not silently retried.
func TestCallAPIRefreshRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api_v1_oauth2_token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/api_v1_master_goods/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"error","code":"002004","message":"access_token invalid"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "dead", RefreshToken: "dead"}}
	client := newTestClient(t, srv.URL, store)

	_, err := client.GetProducts(context.Background(), 200, 0)
	var refreshErr *TokenRefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("err = %v, want TokenRefreshError", err)
	}
}

func TestCallAPINonTokenErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"error","code":"003001","message":"しばらく時間をおいてから再度実行してください。"}`)
	}))
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "a", RefreshToken: "r"}}
	client := newTestClient(t, srv.URL, store)

	_, err := client.UploadGoodsCSV(context.Background(), "syohin_code,baika_tnk\nA001,100")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Kind != ErrorKindRateLimit {
		t.Fatalf("kind = %v, want rate limit", apiErr.Kind)
	}
	if !IsRetryableUpload(err) {
		t.Fatal("upload limit rejection must be retryable")
	}
}

func TestKeepAliveHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"success","data":[{"company_name":"test"}]}`)
	}))
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "a", RefreshToken: "r"}}
	client := newTestClient(t, srv.URL, store)

	res := client.KeepAlive(context.Background())
	if !res.Success || res.Refreshed {
		t.Fatalf("result = %+v, want healthy without refresh", res)
	}
}

// When the first call dies and the manual refresh succeeds, keepalive reports
// a recovered token rather than a failure.
func TestKeepAliveRecoversThroughManualRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api_v1_oauth2_token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh"}`)
	})
	mux.HandleFunc("/api_v1_login_user/info", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("access_token") == "new-access" {
			fmt.Fprint(w, `{"result":"success","data":[]}`)
			return
		}
		// An unclassified rejection, so CallAPI itself will not self-heal.
		fmt.Fprint(w, `{"result":"error","code":"999999","message":"server busy"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "stale", RefreshToken: "r"}}
	client := newTestClient(t, srv.URL, store)

	res := client.KeepAlive(context.Background())
	if !res.Success || !res.Refreshed {
		t.Fatalf("result = %+v, want recovered via refresh", res)
	}
}

func TestKeepAliveFailureNeverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "a", RefreshToken: "r"}}
	client := newTestClient(t, srv.URL, store)

	res := client.KeepAlive(context.Background())
	if res.Success {
		t.Fatal("keepalive against a dead upstream must report failure")
	}
	if res.Message == "" {
		t.Fatal("failure message missing")
	}
}

func TestUpdateProductPriceCSVPayload(t *testing.T) {
	var gotData, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotData = r.PostFormValue("data")
		gotType = r.PostFormValue("data_type")
		fmt.Fprint(w, `{"result":"success"}`)
	}))
	defer srv.Close()

	store := &memTokenStore{pair: &TokenPair{AccessToken: "a", RefreshToken: "r"}}
	client := newTestClient(t, srv.URL, store)

	if err := client.UpdateProductPrice(context.Background(), "A001", 105270); err != nil {
		t.Fatalf("UpdateProductPrice: %v", err)
	}
	if gotType != "csv" {
		t.Fatalf("data_type = %q", gotType)
	}
	want := "syohin_code,baika_tnk\nA001,105270"
	if gotData != want {
		t.Fatalf("data = %q, want %q", gotData, want)
	}
}
