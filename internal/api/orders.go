package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vpn-billing-api/internal/models"
	"vpn-billing-api/internal/payments"
	"vpn-billing-api/internal/response"
	"vpn-billing-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	TgID      int64  `json:"tg_id" binding:"required"`
	PlanCode  string `json:"plan_code" binding:"required"`
	Months    int    `json:"months" binding:"required"`
	Provider  string `json:"provider" binding:"required"`
	PromoCode string `json:"promo_code"`
}

// CreateOrder opens a pending order and, for gateway providers, a payment the
// user can be redirected to.
func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := s.users.GetByTgID(req.TgID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	opt, err := services.GetPlanOption(req.PlanCode, req.Months)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	verifier, hasVerifier := s.verifiers[req.Provider]
	if !hasVerifier && req.Provider != payments.ProviderManual {
		response.ErrorJSON(c, http.StatusBadRequest, "Unknown payment provider: "+req.Provider)
		return
	}

	var (
		amount *decimal.Decimal
		meta   models.ProviderMeta
	)
	if req.PromoCode != "" {
		promo, err := s.promos.AvailableForUser(req.PromoCode, user.ID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		discounted := opt.Price.Sub(promo.Discount)
		if discounted.IsNegative() {
			discounted = decimal.Zero
		}
		amount = &discounted
		meta.Promo = &models.PromoMeta{
			PromoID:  promo.ID,
			Code:     promo.Code,
			Discount: promo.Discount.String(),
		}
	}

	order, err := s.orders.CreateOrder(user.ID, req.PlanCode, req.Months, req.Provider, amount, meta)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	payURL := ""
	if hasVerifier {
		intent, err := verifier.CreatePayment(c.Request.Context(), payments.CreateRequest{
			OrderID:     order.ID,
			Amount:      order.Amount,
			Currency:    order.Currency,
			Description: fmt.Sprintf("%s, %d mo. (order #%d)", opt.Name, req.Months, order.ID),
			ReturnURL:   s.cfg.YooKassa.ReturnURL,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		if err := s.orders.AttachProviderPayment(order, intent.ProviderRef, providerMetaForIntent(req.Provider, intent)); err != nil {
			respondServiceError(c, err)
			return
		}
		payURL = intent.PayURL
	}

	response.SuccessJSON(c, gin.H{
		"order":   order,
		"pay_url": payURL,
	})
}

// providerMetaForIntent builds the meta branch matching the provider that
// opened the payment.
func providerMetaForIntent(provider string, intent *payments.PaymentIntent) models.ProviderMeta {
	var meta models.ProviderMeta
	switch provider {
	case payments.ProviderYooKassa:
		meta.YooKassa = &models.YooKassaMeta{
			PaymentID:       intent.ProviderRef,
			ConfirmationURL: intent.PayURL,
		}
	case payments.ProviderCryptoPay:
		invoiceID, _ := strconv.ParseInt(intent.ProviderRef, 10, 64)
		meta.CryptoPay = &models.CryptoPayMeta{
			InvoiceID: invoiceID,
			PayURL:    intent.PayURL,
		}
	}
	return meta
}

// GetOrder returns one order.
func (s *Server) GetOrder(c *gin.Context) {
	orderID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orders.GetOrder(orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, order)
}

// CheckOrder is the user-initiated settlement trigger: it re-reads the
// payment state from the provider and settles when the provider says paid.
func (s *Server) CheckOrder(c *gin.Context) {
	orderID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orders.GetOrder(orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if order.Status == models.OrderStatusPending {
		verifier, hasVerifier := s.verifiers[order.Provider]
		if !hasVerifier {
			response.SuccessJSON(c, gin.H{
				"status": order.Status,
				"detail": "awaiting manual confirmation",
			})
			return
		}
		if order.ProviderPaymentID == "" {
			response.SuccessJSON(c, gin.H{"status": order.Status})
			return
		}

		status, err := verifier.GetStatus(c.Request.Context(), order.ProviderPaymentID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		if status != payments.StatusPaid {
			response.SuccessJSON(c, gin.H{"status": order.Status})
			return
		}
	} else if order.Status == models.OrderStatusCanceled {
		respondServiceError(c, services.ErrOrderAlreadyProcessed)
		return
	}

	expires, notes, err := s.orders.MarkOrderPaid(c.Request.Context(), order.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{
		"status":     models.OrderStatusPaid,
		"expires_at": expires.Format(time.RFC3339),
		"notes":      notes,
	})
}

// uintParam parses a numeric path parameter, writing the error response
// itself when it cannot.
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return uint(v), true
}
