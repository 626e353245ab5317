package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/pkg/logging"
)

const cryptoPayAPIBase = "https://pay.crypt.bot/api"

// CryptoPayClient implements Verifier for the Crypto Pay invoice gateway.
type CryptoPayClient struct {
	token string
	asset string

	apiBase     string
	httpClient  *http.Client
	maxRetries  int
	backoffBase time.Duration
	sleep       func(time.Duration)
}

// NewCryptoPayClient creates a Crypto Pay verifier.
func NewCryptoPayClient(cfg config.CryptoPayConfig) *CryptoPayClient {
	return &CryptoPayClient{
		token:   cfg.Token,
		asset:   cfg.Asset,
		apiBase: cryptoPayAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:  3,
		backoffBase: 600 * time.Millisecond,
		sleep:       time.Sleep,
	}
}

type cryptoPayInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	PayURL    string `json:"pay_url"`
	Payload   string `json:"payload"`
}

// request posts one API method, retrying 5xx and network failures.
func (c *CryptoPayClient) request(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderCryptoPay, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(data))
		if err != nil {
			return nil, &ProviderError{Provider: ProviderCryptoPay, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Crypto-Pay-API-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logging.Warnf("CryptoPay %s request error (%d/%d): %v", method, attempt, c.maxRetries, err)
			if attempt < c.maxRetries {
				c.sleep(time.Duration(attempt) * c.backoffBase)
				continue
			}
			break
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, body)
			logging.Warnf("CryptoPay %s failed (%d). Retrying...", method, resp.StatusCode)
			if attempt < c.maxRetries {
				c.sleep(time.Duration(attempt) * c.backoffBase)
				continue
			}
			break
		}
		if resp.StatusCode >= 400 {
			return nil, &ProviderError{
				Provider: ProviderCryptoPay,
				Err:      fmt.Errorf("status %d: %s", resp.StatusCode, body),
			}
		}

		var envelope struct {
			OK     bool            `json:"ok"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, &ProviderError{Provider: ProviderCryptoPay, Err: err}
		}
		if !envelope.OK {
			return nil, &ProviderError{
				Provider: ProviderCryptoPay,
				Err:      fmt.Errorf("%s failed: %s", method, body),
			}
		}
		return envelope.Result, nil
	}

	return nil, &ProviderError{Provider: ProviderCryptoPay, Err: lastErr}
}

// CreatePayment opens an invoice. The local order id travels in the invoice
// payload so webhooks can be matched back.
func (c *CryptoPayClient) CreatePayment(ctx context.Context, req CreateRequest) (*PaymentIntent, error) {
	result, err := c.request(ctx, "createInvoice", map[string]interface{}{
		"amount":      req.Amount.String(),
		"asset":       c.asset,
		"description": req.Description,
		"payload":     strconv.FormatUint(uint64(req.OrderID), 10),
	})
	if err != nil {
		return nil, err
	}

	var invoice cryptoPayInvoice
	if err := json.Unmarshal(result, &invoice); err != nil {
		return nil, &ProviderError{Provider: ProviderCryptoPay, Err: err}
	}

	logging.Infof("CryptoPay invoice %d created for order %d", invoice.InvoiceID, req.OrderID)
	return &PaymentIntent{
		ProviderRef: strconv.FormatInt(invoice.InvoiceID, 10),
		PayURL:      invoice.PayURL,
	}, nil
}

// GetStatus looks up the invoice and maps it onto the provider-agnostic state.
func (c *CryptoPayClient) GetStatus(ctx context.Context, providerRef string) (Status, error) {
	invoiceID, err := strconv.ParseInt(providerRef, 10, 64)
	if err != nil {
		return StatusOther, &ProviderError{Provider: ProviderCryptoPay, Err: fmt.Errorf("bad invoice id %q", providerRef)}
	}

	result, err := c.request(ctx, "getInvoices", map[string]interface{}{
		"invoice_ids": []int64{invoiceID},
	})
	if err != nil {
		return StatusOther, err
	}

	var listing struct {
		Items []cryptoPayInvoice `json:"items"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return StatusOther, &ProviderError{Provider: ProviderCryptoPay, Err: err}
	}
	if len(listing.Items) == 0 {
		return StatusOther, nil
	}
	return mapCryptoPayStatus(listing.Items[0].Status), nil
}

func mapCryptoPayStatus(status string) Status {
	switch status {
	case "paid", "confirmed", "paid_confirmed":
		return StatusPaid
	case "active":
		return StatusPending
	default:
		return StatusOther
	}
}

// VerifyCryptoPaySignature checks the HMAC-SHA256 signature Crypto Pay sends
// with each webhook delivery.
func VerifyCryptoPaySignature(token string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(digest), []byte(signature))
}
