package darajaclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:         server.URL,
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		ShortCode:       "174379",
		Passkey:         "passkey",
		CallbackBaseURL: "https://bank.example.com",
	})
	return client, server
}

func TestAuthenticate_CachesTokenUntilRenewalMargin(t *testing.T) {
	var hits int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","expires_in":"3600"}`))
	}))

	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	client.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	token, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("unexpected token %q", token)
	}

	// Well inside the cache window: no network hit.
	advance(30 * time.Minute)
	if _, err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("expected 1 auth request, got %d", got)
	}

	// Past expiry minus the renewal margin: the cache must refresh before the
	// provider-side token actually dies.
	advance(26 * time.Minute)
	if _, err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Fatalf("expected renewal before real expiry, got %d auth requests", got)
	}
}

func TestAuthenticate_ConcurrentCallersSingleFlight(t *testing.T) {
	var hits int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte(`{"access_token":"tok","expires_in":"3600"}`))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Authenticate(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("expected a single in-flight authentication, got %d", got)
	}
}

func TestInitiateCollection_AmountBoundsCheckedBeforeNetwork(t *testing.T) {
	var hits int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{}`))
	}))

	tests := []struct {
		name        string
		amountCents int64
	}{
		{name: "below minimum", amountCents: 50},
		{name: "above maximum", amountCents: 7_000_100},
		{name: "fractional unit", amountCents: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := client.InitiateCollection(context.Background(), "0712345678", tt.amountCents, "ref", "desc")
			if result.Success {
				t.Fatal("expected validation failure")
			}
			if result.Message == "" {
				t.Fatal("expected a user-facing message")
			}
		})
	}

	if got := atomic.LoadInt64(&hits); got != 0 {
		t.Fatalf("validation failures must not reach the network, saw %d requests", got)
	}
}

func TestInitiateDisbursement_DistinctMinimum(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	// 5 units: valid for collections, below the disbursement minimum of 10.
	result := client.InitiateDisbursement(context.Background(), "0712345678", 500, "remarks", "occasion")
	if result.Success {
		t.Fatal("expected failure below disbursement minimum")
	}
}

func TestInitiateCollection_TransportFailureIsStructured(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token":"tok","expires_in":"3600"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_ = server

	result := client.InitiateCollection(context.Background(), "0712345678", 5000, "ref", "desc")
	if result.Success {
		t.Fatal("expected failure result on upstream 5xx")
	}
	if result.Message == "" {
		t.Fatal("expected a user-facing message")
	}
}

func TestInitiateCollection_SuccessParsesResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token":"tok","expires_in":"3600"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","MerchantRequestID":"mr_1","ResponseCode":"0","CustomerMessage":"Success. Request accepted for processing"}`))
	}))

	result := client.InitiateCollection(context.Background(), "0712345678", 5000, "ref", "desc")
	if !result.Success {
		t.Fatalf("expected success, got message %q", result.Message)
	}
	if result.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("unexpected checkout request id %q", result.CheckoutRequestID)
	}
}
