package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	appErrors "github.com/randevly/randevly/pkg/errors"
)

// Default reminder offsets in hours before the appointment start.
var defaultReminderOffsets = []int{24, 2}

// PreferenceService reads and writes per-user notification preferences.
type PreferenceService struct {
	db *gorm.DB
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db}, nil
}

// Preferences is the materialised view handed to callers. Unlike the model
// row it always carries concrete values; absent rows are filled with the
// system defaults.
type Preferences struct {
	UserID string `json:"user_id"`

	RemindersEnabled   bool `json:"reminders_enabled"`
	BusinessEnabled    bool `json:"business_enabled"`
	PromotionalEnabled bool `json:"promotional_enabled"`

	Channels []Channel `json:"channels"`

	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
	Timezone        string `json:"timezone,omitempty"`

	ReminderOffsetsHours []int `json:"reminder_offsets_hours"`
}

// Get returns the user's effective preferences, applying defaults when no
// row exists: reminders and business notifications on, promotional off,
// push only, reminders at 24 and 2 hours before start.
func (s *PreferenceService) Get(ctx context.Context, userID string) (Preferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Preferences{}, appErrors.NewBadRequest("user id is required")
	}

	out := Preferences{
		UserID:               userID,
		RemindersEnabled:     true,
		BusinessEnabled:      true,
		PromotionalEnabled:   false,
		Channels:             []Channel{ChannelPush},
		ReminderOffsetsHours: append([]int(nil), defaultReminderOffsets...),
	}

	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, nil
		}
		return Preferences{}, fmt.Errorf("preference service: load preference: %w", err)
	}

	out.RemindersEnabled = pref.RemindersEnabled
	out.BusinessEnabled = pref.BusinessEnabled
	out.PromotionalEnabled = pref.PromotionalEnabled
	out.QuietHoursStart = pref.QuietHoursStart
	out.QuietHoursEnd = pref.QuietHoursEnd
	out.Timezone = pref.Timezone
	out.Channels = preferenceChannels(&pref)
	if offsets := decodeOffsets(pref.ReminderOffsetsHours); len(offsets) > 0 {
		out.ReminderOffsetsHours = offsets
	}

	return out, nil
}

// UpdateInput carries a full preference replacement. Partial updates are
// not supported; clients send the complete document.
type UpdateInput struct {
	RemindersEnabled   bool `json:"reminders_enabled"`
	BusinessEnabled    bool `json:"business_enabled"`
	PromotionalEnabled bool `json:"promotional_enabled"`

	Channels []Channel `json:"channels"`

	QuietHoursStart string `json:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end"`
	Timezone        string `json:"timezone"`

	ReminderOffsetsHours []int `json:"reminder_offsets_hours"`
}

// Update validates and upserts the user's preference row, returning the
// resulting effective preferences.
func (s *PreferenceService) Update(ctx context.Context, userID string, input UpdateInput) (Preferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Preferences{}, appErrors.NewBadRequest("user id is required")
	}

	channels := normaliseChannels(input.Channels)
	if len(channels) == 0 {
		return Preferences{}, appErrors.NewBadRequest("at least one valid channel is required")
	}
	if err := validateQuietWindow(input.QuietHoursStart, input.QuietHoursEnd, input.Timezone); err != nil {
		return Preferences{}, err
	}

	offsets := normaliseOffsets(input.ReminderOffsetsHours)

	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return Preferences{}, fmt.Errorf("preference service: encode channels: %w", err)
	}
	offsetsJSON, err := json.Marshal(offsets)
	if err != nil {
		return Preferences{}, fmt.Errorf("preference service: encode offsets: %w", err)
	}

	updates := map[string]any{
		"reminders_enabled":      input.RemindersEnabled,
		"business_enabled":       input.BusinessEnabled,
		"promotional_enabled":    input.PromotionalEnabled,
		"channels":               datatypes.JSON(channelsJSON),
		"quiet_hours_start":      strings.TrimSpace(input.QuietHoursStart),
		"quiet_hours_end":        strings.TrimSpace(input.QuietHoursEnd),
		"timezone":               strings.TrimSpace(input.Timezone),
		"reminder_offsets_hours": datatypes.JSON(offsetsJSON),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.NotificationPreference
		findErr := tx.Where("user_id = ?", userID).First(&existing).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			existing = models.NotificationPreference{UserID: userID}
			if createErr := tx.Create(&existing).Error; createErr != nil {
				return createErr
			}
		} else if findErr != nil {
			return findErr
		}

		// Updates with a map so explicit false values are written; a
		// struct update would silently keep the column defaults.
		return tx.Model(&existing).Updates(updates).Error
	})
	if err != nil {
		return Preferences{}, fmt.Errorf("preference service: save preference: %w", err)
	}

	return s.Get(ctx, userID)
}

// validateQuietWindow rejects malformed windows up front so a typo never
// reaches the fail-open dispatch path silently.
func validateQuietWindow(start, end, timezone string) error {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if (start == "") != (end == "") {
		return appErrors.NewBadRequest("quiet hours require both a start and an end time")
	}
	if start != "" {
		if _, err := parseClock(start); err != nil {
			return appErrors.NewBadRequest("quiet hours start must be HH:MM")
		}
		if _, err := parseClock(end); err != nil {
			return appErrors.NewBadRequest("quiet hours end must be HH:MM")
		}
	}
	if tz := strings.TrimSpace(timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return appErrors.NewBadRequest("unknown timezone")
		}
	}
	return nil
}

// normaliseOffsets dedupes and sorts offsets descending so the furthest
// reminder fires first; empty input falls back to the defaults.
func normaliseOffsets(offsets []int) []int {
	seen := make(map[int]struct{}, len(offsets))
	var out []int
	for _, h := range offsets {
		if h <= 0 || h > 168 {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	if len(out) == 0 {
		return append([]int(nil), defaultReminderOffsets...)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func decodeOffsets(raw datatypes.JSON) []int {
	if len(raw) == 0 {
		return nil
	}
	var offsets []int
	if err := json.Unmarshal(raw, &offsets); err != nil {
		return nil
	}
	return normaliseOffsets(offsets)
}
