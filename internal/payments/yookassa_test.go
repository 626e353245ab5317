package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"vpn-billing-api/internal/config"

	"github.com/shopspring/decimal"
)

func TestYooKassaCreatePayment(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop" || pass != "key" {
			t.Errorf("unexpected basic auth %s:%s", user, pass)
		}
		gotKey = r.Header.Get("Idempotence-Key")

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		amount := payload["amount"].(map[string]interface{})
		if amount["value"] != "249.00" {
			t.Errorf("expected amount 249.00, got %v", amount["value"])
		}
		meta := payload["metadata"].(map[string]interface{})
		if meta["order_id"] != "5" {
			t.Errorf("expected order_id 5, got %v", meta["order_id"])
		}

		fmt.Fprint(w, `{"id":"pay-1","status":"pending","confirmation":{"confirmation_url":"https://yk/confirm"}}`)
	}))
	defer srv.Close()

	c := NewYooKassaClient(config.YooKassaConfig{ShopID: "shop", SecretKey: "key", ReturnURL: "https://back"})
	c.apiBase = srv.URL

	intent, err := c.CreatePayment(context.Background(), CreateRequest{
		OrderID:  5,
		Amount:   decimal.NewFromInt(249),
		Currency: "RUB",
	})
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	if intent.ProviderRef != "pay-1" || intent.PayURL != "https://yk/confirm" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if gotKey == "" {
		t.Fatal("expected an Idempotence-Key header")
	}
}

func TestYooKassaGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"pay-1","status":"succeeded"}`)
	}))
	defer srv.Close()

	c := NewYooKassaClient(config.YooKassaConfig{ShopID: "shop", SecretKey: "key"})
	c.apiBase = srv.URL

	status, err := c.GetStatus(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != StatusPaid {
		t.Fatalf("expected paid, got %q", status)
	}
}

func TestYooKassaErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","code":"invalid_credentials"}`)
	}))
	defer srv.Close()

	c := NewYooKassaClient(config.YooKassaConfig{ShopID: "shop", SecretKey: "bad"})
	c.apiBase = srv.URL

	_, err := c.GetStatus(context.Background(), "pay-1")
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Provider != ProviderYooKassa {
		t.Fatalf("expected yookassa ProviderError, got %v", err)
	}
}

func TestMapYooKassaStatus(t *testing.T) {
	cases := map[string]Status{
		"succeeded":           StatusPaid,
		"pending":             StatusPending,
		"waiting_for_capture": StatusPending,
		"canceled":            StatusOther,
	}
	for in, want := range cases {
		if got := mapYooKassaStatus(in); got != want {
			t.Errorf("mapYooKassaStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
