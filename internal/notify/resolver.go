package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/pkg/logger"
)

// ChannelResolver computes the effective channel set and quiet-hours state
// for a (tenant, recipient) pair.
type ChannelResolver struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewChannelResolver constructs a ChannelResolver.
func NewChannelResolver(db *gorm.DB) (*ChannelResolver, error) {
	if db == nil {
		return nil, errors.New("channel resolver: db is required")
	}
	return &ChannelResolver{db: db, log: logger.WithModule("notify.resolver")}, nil
}

// Resolve returns the ordered channel set for the recipient. Precedence:
// explicit caller override, then the intersection of tenant-enabled and
// recipient-preferred channels, then tenant defaults when the recipient has
// no preference row, then push only when the tenant has no settings row.
// Tenant-enabled channels the recipient opted out of come back in the
// second slice so callers can report them as skips rather than lose them.
func (r *ChannelResolver) Resolve(ctx context.Context, businessID, userID string, override []Channel) ([]Channel, []SkippedChannel, error) {
	ctx = ensureContext(ctx)

	if len(override) > 0 {
		return normaliseChannels(override), nil, nil
	}

	settings, hasSettings, err := r.Settings(ctx, businessID)
	if err != nil {
		return nil, nil, err
	}

	tenant := tenantChannels(settings)
	if !hasSettings {
		tenant = []Channel{ChannelPush}
	}

	pref, err := r.Preference(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if pref == nil {
		return tenant, nil, nil
	}

	preferred := preferenceChannels(pref)
	out := make([]Channel, 0, len(tenant))
	var excluded []SkippedChannel
	for _, ch := range tenant {
		if containsChannel(preferred, ch) {
			out = append(out, ch)
			continue
		}
		excluded = append(excluded, SkippedChannel{
			Channel: ch,
			Reason:  "not in recipient's preferred channels",
		})
	}
	return out, excluded, nil
}

// Settings loads the tenant's notification settings. The boolean reports
// whether a row exists; when it does not, defaults are returned.
func (r *ChannelResolver) Settings(ctx context.Context, businessID string) (models.BusinessNotificationSettings, bool, error) {
	ctx = ensureContext(ctx)
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return models.BusinessNotificationSettings{}, false, errors.New("channel resolver: business id is required")
	}

	var settings models.BusinessNotificationSettings
	err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return defaultBusinessSettings(businessID), false, nil
		}
		return models.BusinessNotificationSettings{}, false, fmt.Errorf("channel resolver: load business settings: %w", err)
	}
	return settings, true, nil
}

// Preference loads the recipient's preference row, or nil when absent.
func (r *ChannelResolver) Preference(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("channel resolver: user id is required")
	}

	var pref models.NotificationPreference
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("channel resolver: load preference: %w", err)
	}
	return &pref, nil
}

// QuietReason reports whether dispatch should be suppressed right now for
// the pair, and which window triggered it. Both the tenant's and the
// recipient's quiet hours are checked; either one suppresses.
func (r *ChannelResolver) QuietReason(ctx context.Context, businessID, userID string, now time.Time) (bool, string, error) {
	settings, hasSettings, err := r.Settings(ctx, businessID)
	if err != nil {
		return false, "", err
	}
	if hasSettings && IsQuietNow(now, settings.QuietHoursStart, settings.QuietHoursEnd, settings.Timezone) {
		return true, "business quiet hours", nil
	}

	pref, err := r.Preference(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if pref != nil && IsQuietNow(now, pref.QuietHoursStart, pref.QuietHoursEnd, pref.Timezone) {
		return true, "quiet hours", nil
	}

	return false, "", nil
}

// IsQuietNow reports whether now falls inside the [start, end) window
// expressed as "HH:MM" strings in the given timezone. A window with
// start > end wraps past midnight. Malformed windows or unknown timezones
// fail open (not quiet) so a configuration mistake never suppresses
// messages indefinitely; that tradeoff is deliberate.
func IsQuietNow(now time.Time, start, end, timezone string) bool {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" || end == "" || start == end {
		return false
	}

	startMin, err := parseClock(start)
	if err != nil {
		return false
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		resolved, err := time.LoadLocation(tz)
		if err != nil {
			logger.WithModule("notify.resolver").Debug("quiet hours timezone unresolved",
				zap.String("timezone", tz), zap.Error(err))
			return false
		}
		loc = resolved
	}

	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Window wraps midnight.
	return nowMin >= startMin || nowMin < endMin
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func defaultBusinessSettings(businessID string) models.BusinessNotificationSettings {
	return models.BusinessNotificationSettings{
		BusinessID:   businessID,
		PushEnabled:  true,
		SMSEnabled:   false,
		EmailEnabled: true,
	}
}

func tenantChannels(settings models.BusinessNotificationSettings) []Channel {
	var out []Channel
	if settings.PushEnabled {
		out = append(out, ChannelPush)
	}
	if settings.SMSEnabled {
		out = append(out, ChannelSMS)
	}
	if settings.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	return out
}

func preferenceChannels(pref *models.NotificationPreference) []Channel {
	if pref == nil || len(pref.Channels) == 0 {
		return []Channel{ChannelPush}
	}

	var raw []string
	if err := json.Unmarshal(pref.Channels, &raw); err != nil {
		return []Channel{ChannelPush}
	}

	channels := make([]Channel, 0, len(raw))
	for _, value := range raw {
		channels = append(channels, Channel(strings.ToLower(strings.TrimSpace(value))))
	}
	return normaliseChannels(channels)
}

func normaliseChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	var out []Channel
	for _, ch := range channels {
		switch ch {
		case ChannelPush, ChannelSMS, ChannelEmail:
		default:
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func containsChannel(channels []Channel, target Channel) bool {
	for _, ch := range channels {
		if ch == target {
			return true
		}
	}
	return false
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
