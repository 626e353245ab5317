package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/payments"
	"vpn-billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Webhook handlers always answer 200 "ok" once the path secret matches:
// settlement is idempotent and every trigger path re-verifies with the
// provider, so a dropped or failed delivery costs nothing and a non-200
// would only make the provider hammer the endpoint with retries.

func pathSecretMatches(c *gin.Context, want string) bool {
	got := c.Param("secret")
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type yooKassaNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// YooKassaWebhook handles payment notifications from YooKassa.
func (s *Server) YooKassaWebhook(c *gin.Context) {
	if !pathSecretMatches(c, s.cfg.YooKassa.WebhookPathSecret) {
		c.Status(http.StatusNotFound)
		return
	}

	var note yooKassaNotification
	if err := c.ShouldBindJSON(&note); err != nil {
		logging.Warnf("YooKassa webhook: malformed body: %v", err)
		c.String(http.StatusOK, "ok")
		return
	}

	if note.Event != "payment.succeeded" || note.Object.Status != "succeeded" {
		c.String(http.StatusOK, "ok")
		return
	}

	if !s.replay.FirstDelivery(c.Request.Context(), payments.ProviderYooKassa, note.Object.ID) {
		c.String(http.StatusOK, "ok")
		return
	}

	claim := payments.WebhookClaim{
		Provider:    payments.ProviderYooKassa,
		ProviderRef: note.Object.ID,
		Currency:    note.Object.Amount.Currency,
	}
	if v, err := decimal.NewFromString(note.Object.Amount.Value); err == nil {
		claim.Amount = v
	}
	if raw, ok := note.Object.Metadata["order_id"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			claim.OrderID = uint(id)
		}
	}

	s.settleFromClaim(c, claim)
	c.String(http.StatusOK, "ok")
}

type cryptoPayUpdate struct {
	UpdateID   int64  `json:"update_id"`
	UpdateType string `json:"update_type"`
	Payload    struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
		Payload   string `json:"payload"`
	} `json:"payload"`
}

// CryptoPayWebhook handles invoice updates from Crypto Pay. The body
// signature is checked before anything is parsed.
func (s *Server) CryptoPayWebhook(c *gin.Context) {
	if !pathSecretMatches(c, s.cfg.CryptoPay.WebhookPathSecret) {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusOK, "ok")
		return
	}

	token := s.cfg.CryptoPay.WebhookSecret
	if token == "" {
		token = s.cfg.CryptoPay.Token
	}
	if !payments.VerifyCryptoPaySignature(token, body, c.GetHeader("Crypto-Pay-API-Signature")) {
		logging.Warnf("CryptoPay webhook: bad signature from %s", c.ClientIP())
		c.Status(http.StatusForbidden)
		return
	}

	var update cryptoPayUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		logging.Warnf("CryptoPay webhook: malformed body: %v", err)
		c.String(http.StatusOK, "ok")
		return
	}

	if update.UpdateType != "invoice_paid" {
		c.String(http.StatusOK, "ok")
		return
	}

	eventID := strconv.FormatInt(update.UpdateID, 10)
	if !s.replay.FirstDelivery(c.Request.Context(), payments.ProviderCryptoPay, eventID) {
		c.String(http.StatusOK, "ok")
		return
	}

	// The invoice amount is denominated in the crypto asset, not the order
	// currency, so the claim carries no amount to cross-check.
	claim := payments.WebhookClaim{
		Provider:    payments.ProviderCryptoPay,
		ProviderRef: strconv.FormatInt(update.Payload.InvoiceID, 10),
	}
	if id, err := strconv.ParseUint(update.Payload.Payload, 10, 32); err == nil {
		claim.OrderID = uint(id)
	}

	s.settleFromClaim(c, claim)
	c.String(http.StatusOK, "ok")
}

// settleFromClaim resolves, validates, re-verifies and settles the order a
// webhook delivery points at. Failures are logged, never returned: the
// delivery has already been acknowledged.
func (s *Server) settleFromClaim(c *gin.Context, claim payments.WebhookClaim) {
	order, err := s.orders.FindOrderForClaim(claim)
	if err != nil {
		logging.Warnf("%s webhook: no order for claim ref=%s order_id=%d: %v",
			claim.Provider, claim.ProviderRef, claim.OrderID, err)
		return
	}
	if order.Status == models.OrderStatusPaid {
		return
	}

	if err := s.orders.ValidateWebhookClaim(order, claim); err != nil {
		logging.Errorf("%s webhook: claim rejected for order %d: %v", claim.Provider, order.ID, err)
		return
	}

	// The delivery itself is never trusted as proof of payment. Re-read the
	// state from the provider before settling.
	verifier, ok := s.verifiers[order.Provider]
	if !ok {
		logging.Errorf("%s webhook: no verifier configured for order %d", claim.Provider, order.ID)
		return
	}
	ref := order.ProviderPaymentID
	if ref == "" {
		ref = claim.ProviderRef
	}
	status, err := verifier.GetStatus(c.Request.Context(), ref)
	if err != nil {
		logging.Errorf("%s webhook: status re-check failed for order %d: %v", claim.Provider, order.ID, err)
		return
	}
	if status != payments.StatusPaid {
		logging.Warnf("%s webhook: provider reports %s for order %d, not settling", claim.Provider, status, order.ID)
		return
	}

	if _, _, err := s.orders.MarkOrderPaid(c.Request.Context(), order.ID); err != nil {
		logging.Errorf("%s webhook: settlement failed for order %d: %v", claim.Provider, order.ID, err)
	}
}
