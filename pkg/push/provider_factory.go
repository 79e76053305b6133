package push

import (
	"fmt"

	"emphealth-backend/pkg/config"
	"emphealth-backend/pkg/logger"

	"go.uber.org/zap"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock     ProviderType = "mock"
	ProviderTypeFirebase ProviderType = "firebase"
	ProviderTypeAPNs     ProviderType = "apns"
)

// NewProvider creates the push notification provider selected by cfg.Provider
func NewProvider(cfg config.PushConfig) (Provider, error) {
	providerType := ProviderType(cfg.Provider)

	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFirebase:
		return NewFCMProvider(&FCMConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsPath: cfg.FirebaseCredentialsPath,
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			BundleID:   cfg.APNsTopic,
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			Production: cfg.APNsProduction,
		})
	case ProviderTypeMock, "":
		logger.Info("Using mock push notification provider")
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Provider)
	}
}
