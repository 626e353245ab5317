package services

import (
	"context"
	"time"

	"vpn-billing-api/internal/panel"
)

// PanelGateway is the slice of the VPN panel API the services need. The
// production implementation is *panel.Client; tests substitute fakes.
type PanelGateway interface {
	CreateUser(ctx context.Context, req panel.CreateUserRequest) (*panel.UserProfile, error)
	UpdateUser(ctx context.Context, username string, patch panel.UserPatch) error
	GetUser(ctx context.Context, username string) (*panel.UserProfile, error)
	RevokeSubscription(ctx context.Context, username string) error
}

// nowFunc lets tests pin the clock.
type nowFunc func() time.Time

func nowUTC() time.Time {
	return time.Now().UTC()
}
