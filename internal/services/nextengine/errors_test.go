package nextengine

import (
	"errors"
	"testing"
)

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		code    string
		message string
		want    ErrorKind
	}{
		{"002004", "", ErrorKindToken},
		{"", "access_token is invalid", ErrorKindToken},
		{"", "アクセストークンが不正です。", ErrorKindToken},
		{"003001", "", ErrorKindRateLimit},
		{"", "しばらく時間をおいてから再度実行してください。", ErrorKindRateLimit},
		{"", "上限を超えています", ErrorKindRateLimit},
		{"001001", "required parameter missing", ErrorKindAPI},
		{"", "", ErrorKindAPI},
	}
	for _, tc := range cases {
		if got := ClassifyAPIError(tc.code, tc.message); got != tc.want {
			t.Fatalf("ClassifyAPIError(%q, %q) = %v, want %v", tc.code, tc.message, got, tc.want)
		}
	}
}

func TestIsRetryableUpload(t *testing.T) {
	rateLimited := &APIError{Code: "003001", Kind: ErrorKindRateLimit}
	if !IsRetryableUpload(rateLimited) {
		t.Fatal("rate limit error must be retryable")
	}
	tokenErr := &APIError{Code: "002004", Kind: ErrorKindToken}
	if IsRetryableUpload(tokenErr) {
		t.Fatal("token error must not be retryable as an upload")
	}
	if IsRetryableUpload(errors.New("plain")) {
		t.Fatal("plain error must not be retryable")
	}
}

func TestAPIErrorString(t *testing.T) {
	withCode := &APIError{Code: "002004", Message: "token dead"}
	if withCode.Error() != "nextengine: api error 002004: token dead" {
		t.Fatalf("got %q", withCode.Error())
	}
	refresh := &TokenRefreshError{Status: "400 Bad Request", Reason: "rejected"}
	if refresh.Error() != "nextengine: token refresh failed (400 Bad Request): rejected" {
		t.Fatalf("got %q", refresh.Error())
	}
}
