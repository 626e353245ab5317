package api

import (
	"net/http"
	"strconv"
	"time"

	"vpn-billing-api/internal/response"
	"vpn-billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ListPendingOrders returns the newest pending orders for the admin console.
func (s *Server) ListPendingOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	orders, err := s.orders.ListPendingOrders(limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"orders": orders})
}

// ConfirmOrder settles an order manually, for bank-transfer style payments
// with no gateway to verify against.
func (s *Server) ConfirmOrder(c *gin.Context) {
	orderID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	expires, notes, err := s.orders.MarkOrderPaid(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	logging.Infof("Admin confirmed order %d", orderID)
	response.SuccessJSON(c, gin.H{
		"expires_at": expires.Format(time.RFC3339),
		"notes":      notes,
	})
}

// CancelOrder cancels a pending order.
func (s *Server) CancelOrder(c *gin.Context) {
	orderID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orders.CancelOrder(orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, order)
}

type refundOrderRequest struct {
	Reason string `json:"reason"`
}

// RefundOrder reverses the referral bonus granted for an order, for refund
// and chargeback workflows.
func (s *Server) RefundOrder(c *gin.Context) {
	orderID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req refundOrderRequest
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = "refund"
	}

	reversed, err := s.referrals.Rollback(orderID, reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	logging.Infof("Admin refund for order %d: reversed=%ds reason=%s", orderID, reversed, reason)
	response.SuccessJSON(c, gin.H{"reversed_seconds": reversed})
}

// ListPromos returns all discount codes.
func (s *Server) ListPromos(c *gin.Context) {
	promos, err := s.promos.List()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"promos": promos})
}

type createPromoRequest struct {
	Code     string `json:"code" binding:"required"`
	Discount string `json:"discount" binding:"required"`
	MaxUses  int    `json:"max_uses"`
}

// CreatePromo registers a new discount code.
func (s *Server) CreatePromo(c *gin.Context) {
	var req createPromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	discount, err := decimal.NewFromString(req.Discount)
	if err != nil || discount.IsNegative() {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid discount")
		return
	}

	promo, err := s.promos.Create(req.Code, discount, req.MaxUses)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, promo)
}

// TogglePromo flips a code's active flag.
func (s *Server) TogglePromo(c *gin.Context) {
	promoID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	promo, err := s.promos.Toggle(promoID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, promo)
}

// DeletePromo removes a code.
func (s *Server) DeletePromo(c *gin.Context) {
	promoID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	if err := s.promos.Delete(promoID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"deleted": promoID})
}
