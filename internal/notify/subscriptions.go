package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/randevly/randevly/internal/models"
	appErrors "github.com/randevly/randevly/pkg/errors"
)

// SubscriptionService manages browser push endpoint registrations.
type SubscriptionService struct {
	db *gorm.DB
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB) (*SubscriptionService, error) {
	if db == nil {
		return nil, errors.New("subscription service: db is required")
	}
	return &SubscriptionService{db: db}, nil
}

// SubscribeInput is the payload accepted from the service worker handshake.
type SubscribeInput struct {
	UserID     string `json:"user_id" validate:"required"`
	Endpoint   string `json:"endpoint" validate:"required,url"`
	P256dh     string `json:"p256dh" validate:"required"`
	Auth       string `json:"auth" validate:"required"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// Subscribe registers or refreshes a push endpoint. Re-registering an
// existing endpoint updates its keys and reactivates it, so a browser that
// rotated its keys keeps a single row.
func (s *SubscriptionService) Subscribe(ctx context.Context, input SubscribeInput) (*models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	input.UserID = strings.TrimSpace(input.UserID)
	input.Endpoint = strings.TrimSpace(input.Endpoint)
	if input.UserID == "" || input.Endpoint == "" || input.P256dh == "" || input.Auth == "" {
		return nil, appErrors.NewBadRequest("user id, endpoint and keys are required")
	}

	sub := models.PushSubscription{
		UserID:     input.UserID,
		Endpoint:   input.Endpoint,
		P256dh:     input.P256dh,
		Auth:       input.Auth,
		UserAgent:  strings.TrimSpace(input.UserAgent),
		DeviceName: strings.TrimSpace(input.DeviceName),
		IsActive:   true,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"p256dh", "auth", "user_agent", "device_name", "is_active", "updated_at",
		}),
	}).Create(&sub).Error
	if err != nil {
		return nil, fmt.Errorf("subscription service: subscribe: %w", err)
	}

	// Reload into a fresh struct: the upsert stamps sub with a new uuid even
	// when an existing row was updated, and First would filter on that id.
	var stored models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", input.UserID, input.Endpoint).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("subscription service: reload subscription: %w", err)
	}
	return &stored, nil
}

// Unsubscribe soft-disables the endpoint. The row survives so delivery
// history referencing it stays resolvable.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" || endpoint == "" {
		return appErrors.NewBadRequest("user id and endpoint are required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("subscription service: unsubscribe: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return appErrors.ErrNotFound
	}
	return nil
}

// ListActive returns the user's active subscriptions, newest first.
func (s *SubscriptionService) ListActive(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, appErrors.NewBadRequest("user id is required")
	}

	var subs []models.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("subscription service: list subscriptions: %w", err)
	}
	return subs, nil
}
