package service

import (
	"context"
	"fmt"
	"strings"

	"realtime_go/internal/domain"
)

var platforms = map[string]bool{"ios": true, "android": true, "web": true}

// DeviceService manages push token registrations.
type DeviceService struct {
	tokens domain.PushTokenRepository
}

func NewDeviceService(tokens domain.PushTokenRepository) *DeviceService {
	return &DeviceService{tokens: tokens}
}

func (s *DeviceService) Register(ctx context.Context, username, token, platform string) error {
	token = strings.TrimSpace(token)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if token == "" || len(token) > 255 {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if !platforms[platform] {
		return fmt.Errorf("%w: platform must be ios, android or web", domain.ErrInvalidInput)
	}
	return s.tokens.AddPushToken(ctx, &domain.PushToken{Username: username, Token: token, Platform: platform})
}

func (s *DeviceService) Unregister(ctx context.Context, username, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	return s.tokens.RemovePushToken(ctx, username, token)
}
