package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vpn-billing-api/internal/config"

	"github.com/google/uuid"
)

const yooKassaAPIBase = "https://api.yookassa.ru/v3"

// YooKassaClient implements Verifier for the YooKassa card gateway.
type YooKassaClient struct {
	shopID    string
	secretKey string
	returnURL string

	apiBase    string
	httpClient *http.Client
}

// NewYooKassaClient creates a YooKassa verifier.
func NewYooKassaClient(cfg config.YooKassaConfig) *YooKassaClient {
	return &YooKassaClient{
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		returnURL: cfg.ReturnURL,
		apiBase:   yooKassaAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type yooKassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (c *YooKassaClient) request(ctx context.Context, method, path string, payload interface{}, idempotenceKey string) (*yooKassaPayment, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &ProviderError{Provider: ProviderYooKassa, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderYooKassa, Err: err}
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderYooKassa, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Provider: ProviderYooKassa,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
		}
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, &ProviderError{Provider: ProviderYooKassa, Err: err}
	}
	return &payment, nil
}

// CreatePayment opens a redirect-confirmation payment. The local order id is
// embedded in the metadata so webhooks can be matched back.
func (c *YooKassaClient) CreatePayment(ctx context.Context, req CreateRequest) (*PaymentIntent, error) {
	payload := map[string]interface{}{
		"amount": map[string]string{
			"value":    req.Amount.StringFixed(2),
			"currency": req.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": c.returnURL,
		},
		"description": req.Description,
		"metadata": map[string]string{
			"order_id": strconv.FormatUint(uint64(req.OrderID), 10),
		},
	}

	payment, err := c.request(ctx, http.MethodPost, "/payments", payload, uuid.NewString())
	if err != nil {
		return nil, err
	}

	return &PaymentIntent{
		ProviderRef: payment.ID,
		PayURL:      payment.Confirmation.ConfirmationURL,
	}, nil
}

// GetStatus fetches the payment and maps it onto the provider-agnostic state.
func (c *YooKassaClient) GetStatus(ctx context.Context, providerRef string) (Status, error) {
	payment, err := c.request(ctx, http.MethodGet, "/payments/"+providerRef, nil, "")
	if err != nil {
		return StatusOther, err
	}
	return mapYooKassaStatus(payment.Status), nil
}

func mapYooKassaStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusPaid
	case "pending", "waiting_for_capture":
		return StatusPending
	default:
		return StatusOther
	}
}
