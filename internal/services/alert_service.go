package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/pkg/logging"
)

// AlertService emails the operator when a settlement completes with broken
// post-commit side effects. Best-effort: a failed alert is only logged.
type AlertService struct {
	apiKey    string
	fromEmail string
	fromName  string
	toEmail   string

	httpClient *http.Client
}

// NewAlertService creates the alert mailer. With no API key or recipient
// configured it silently drops alerts.
func NewAlertService(cfg config.AlertConfig) *AlertService {
	return &AlertService{
		apiKey:    cfg.BrevoAPIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		toEmail:   cfg.ToEmail,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type alertEmailRequest struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To []struct {
		Email string `json:"email"`
	} `json:"to"`
	Subject     string `json:"subject"`
	TextContent string `json:"textContent"`
}

// NotifySettlementIssue reports a failed post-commit settlement step for an
// already-paid order. Safe on a nil receiver.
func (s *AlertService) NotifySettlementIssue(orderID uint, stage string, cause error) {
	if s == nil || s.apiKey == "" || s.toEmail == "" {
		return
	}

	subject := fmt.Sprintf("Settlement issue: order %d (%s)", orderID, stage)
	body := fmt.Sprintf(
		"Order %d is committed as paid, but the %s step failed:\n\n%v\n\nThe step is idempotent and can be retried.",
		orderID, stage, cause,
	)

	if err := s.sendEmail(subject, body); err != nil {
		logging.Errorf("Failed to send settlement alert for order %d: %v", orderID, err)
		return
	}
	logging.Infof("Settlement alert sent for order %d (%s)", orderID, stage)
}

// sendEmail posts one transactional email to the Brevo API.
func (s *AlertService) sendEmail(subject, text string) error {
	var req alertEmailRequest
	req.Sender.Name = s.fromName
	req.Sender.Email = s.fromEmail
	req.To = []struct {
		Email string `json:"email"`
	}{{Email: s.toEmail}}
	req.Subject = subject
	req.TextContent = text

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, "https://api.brevo.com/v3/smtp/email", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}
	return nil
}
