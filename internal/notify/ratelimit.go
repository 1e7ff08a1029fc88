package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/cache"
	"github.com/randevly/randevly/internal/models"
	"github.com/randevly/randevly/pkg/logger"
	"github.com/randevly/randevly/pkg/metrics"
)

// Machine-readable limiter rejection codes.
const (
	CodeRecipientLimitExceeded = "RECIPIENT_LIMIT_EXCEEDED"
	CodeBurstLimitExceeded     = "BURST_LIMIT_EXCEEDED"
	CodeHourlyLimitExceeded    = "HOURLY_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded     = "DAILY_LIMIT_EXCEEDED"
	CodeWeeklyLimitExceeded    = "WEEKLY_LIMIT_EXCEEDED"
	CodeCooldownActive         = "COOLDOWN_ACTIVE"
	CodeSMSLimitExceeded       = "SMS_LIMIT_EXCEEDED"
)

// Rate limit health statuses for operational dashboards.
const (
	RateStatusHealthy  = "HEALTHY"
	RateStatusWarning  = "WARNING"
	RateStatusCritical = "CRITICAL"
	RateStatusBlocked  = "BLOCKED"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Code       string        `json:"code,omitempty"`
}

// TierUsage reports one quota tier for the status endpoint.
type TierUsage struct {
	Used  int64 `json:"used"`
	Limit int   `json:"limit"`
}

// UsageStatus aggregates current consumption against limits.
type UsageStatus struct {
	BusinessID string    `json:"business_id"`
	Status     string    `json:"status"`
	Hourly     TierUsage `json:"hourly"`
	Daily      TierUsage `json:"daily"`
	Weekly     TierUsage `json:"weekly"`
	SMSDaily   TierUsage `json:"sms_daily"`
}

// RateLimiter gates notification sends per tenant. Checks run cheapest
// first: the recipient cap needs no I/O, the burst tier one cache
// round-trip, and only then are the rolling ledger sums consulted.
type RateLimiter struct {
	db    *gorm.DB
	burst cache.Store
	now   func() time.Time
	log   *zap.Logger
}

// RateLimiterOption customises the limiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterNow overrides the clock, primarily for tests.
func WithRateLimiterNow(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRateLimiter constructs a RateLimiter. The cache store backs the burst
// tier and may be shared across processes; a nil store disables burst
// protection (checked tiers still apply).
func NewRateLimiter(db *gorm.DB, burst cache.Store, opts ...RateLimiterOption) (*RateLimiter, error) {
	if db == nil {
		return nil, errors.New("rate limiter: db is required")
	}

	limiter := &RateLimiter{
		db:    db,
		burst: burst,
		now:   time.Now,
		log:   logger.WithModule("notify.ratelimit"),
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter, nil
}

// Check runs the tiered admission checks for a send to recipientCount
// recipients. The first failing tier short-circuits with its code.
func (l *RateLimiter) Check(ctx context.Context, businessID string, recipientCount int) (Decision, error) {
	ctx = ensureContext(ctx)
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return Decision{}, errors.New("rate limiter: business id is required")
	}
	if recipientCount <= 0 {
		recipientCount = 1
	}

	cfg, err := l.config(ctx, businessID)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()

	// Tier 1: single-call recipient cap. No I/O.
	if recipientCount > cfg.MaxRecipientsPerSend {
		return l.reject(Decision{
			ResetTime: now,
			Reason:    fmt.Sprintf("recipient count %d exceeds per-send limit %d", recipientCount, cfg.MaxRecipientsPerSend),
			Code:      CodeRecipientLimitExceeded,
		}), nil
	}

	// Tier 2: burst window via the shared cache.
	if l.burst != nil && cfg.BurstLimit > 0 {
		window := time.Duration(cfg.BurstWindowMinutes) * time.Minute
		if window <= 0 {
			window = 5 * time.Minute
		}
		count, ttl, burstErr := l.burst.IncrementWithTTL(ctx, "ratelimit:burst:"+businessID, window)
		if burstErr != nil {
			// A broken cache must not block sends; the persisted tiers below
			// still apply.
			l.log.Warn("burst counter unavailable", zap.String("business_id", businessID), zap.Error(burstErr))
		} else if count > int64(cfg.BurstLimit) {
			return l.reject(Decision{
				ResetTime:  now.Add(ttl),
				RetryAfter: ttl,
				Reason:     fmt.Sprintf("burst limit of %d sends per %s exceeded", cfg.BurstLimit, window),
				Code:       CodeBurstLimitExceeded,
			}), nil
		}
	}

	// Tier 3: rolling hourly / daily / weekly ledger sums.
	type quota struct {
		window time.Duration
		limit  int
		code   string
		label  string
	}
	quotas := []quota{
		{time.Hour, cfg.MaxPerHour, CodeHourlyLimitExceeded, "hourly"},
		{24 * time.Hour, cfg.MaxPerDay, CodeDailyLimitExceeded, "daily"},
		{7 * 24 * time.Hour, cfg.MaxPerWeek, CodeWeeklyLimitExceeded, "weekly"},
	}

	remaining := -1
	for _, q := range quotas {
		if q.limit <= 0 {
			continue
		}
		used, sumErr := l.usageSince(ctx, businessID, "", now.Add(-q.window))
		if sumErr != nil {
			return Decision{}, sumErr
		}
		if used+int64(recipientCount) > int64(q.limit) {
			reset := now.Add(q.window)
			oldest, oldestErr := l.oldestUsage(ctx, businessID, "", now.Add(-q.window))
			if oldestErr != nil {
				return Decision{}, oldestErr
			}
			if oldest != nil {
				reset = oldest.Add(q.window)
			}
			return l.reject(Decision{
				ResetTime:  reset,
				RetryAfter: reset.Sub(now),
				Reason:     fmt.Sprintf("%s limit of %d notifications exceeded", q.label, q.limit),
				Code:       q.code,
			}), nil
		}
		if left := q.limit - int(used); remaining < 0 || left < remaining {
			remaining = left
		}
	}
	if remaining < 0 {
		remaining = recipientCount
	}

	// Tier 4: cooldown since the tenant's last send.
	if cfg.CooldownSeconds > 0 {
		last, lastErr := l.lastUsage(ctx, businessID)
		if lastErr != nil {
			return Decision{}, lastErr
		}
		if last != nil {
			cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
			elapsed := now.Sub(*last)
			if elapsed < cooldown {
				wait := cooldown - elapsed
				return l.reject(Decision{
					ResetTime:  now.Add(wait),
					RetryAfter: wait,
					Reason:     fmt.Sprintf("cooldown of %s between sends still active", cooldown),
					Code:       CodeCooldownActive,
				}), nil
			}
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetTime: now.Add(time.Hour),
	}, nil
}

// CheckSMS enforces the SMS sub-quota (daily), separate from the general
// quotas so SMS cost control stays independent of push volume.
func (l *RateLimiter) CheckSMS(ctx context.Context, businessID string, recipientCount int) (Decision, error) {
	ctx = ensureContext(ctx)
	if recipientCount <= 0 {
		recipientCount = 1
	}

	cfg, err := l.config(ctx, businessID)
	if err != nil {
		return Decision{}, err
	}
	if cfg.MaxSMSPerDay <= 0 {
		return Decision{Allowed: true, ResetTime: l.now().Add(24 * time.Hour)}, nil
	}

	now := l.now()
	used, err := l.usageSince(ctx, businessID, "sms", now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, err
	}
	if used+int64(recipientCount) > int64(cfg.MaxSMSPerDay) {
		reset := now.Add(24 * time.Hour)
		oldest, oldestErr := l.oldestUsage(ctx, businessID, "sms", now.Add(-24*time.Hour))
		if oldestErr != nil {
			return Decision{}, oldestErr
		}
		if oldest != nil {
			reset = oldest.Add(24 * time.Hour)
		}
		return l.reject(Decision{
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
			Reason:     fmt.Sprintf("daily SMS limit of %d exceeded", cfg.MaxSMSPerDay),
			Code:       CodeSMSLimitExceeded,
		}), nil
	}

	return Decision{
		Allowed:   true,
		Remaining: cfg.MaxSMSPerDay - int(used),
		ResetTime: now.Add(24 * time.Hour),
	}, nil
}

// RecordUsage appends one usage event to the ledger. Storage failures are
// logged and swallowed: bookkeeping must never fail the send that
// triggered it.
func (l *RateLimiter) RecordUsage(ctx context.Context, businessID string, recipientCount int, usageType string) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(businessID) == "" || recipientCount <= 0 {
		return
	}

	usage := models.NotificationUsage{
		BusinessID:     businessID,
		RecipientCount: recipientCount,
		Type:           strings.TrimSpace(usageType),
	}
	if err := l.db.WithContext(ctx).Create(&usage).Error; err != nil {
		l.log.Warn("record usage failed",
			zap.String("business_id", businessID),
			zap.Int("recipient_count", recipientCount),
			zap.Error(err))
	}
}

// Status aggregates current consumption for dashboards. The overall status
// reflects the tightest tier: WARNING at 70%, CRITICAL at 90%, BLOCKED at
// or beyond 100%.
func (l *RateLimiter) Status(ctx context.Context, businessID string) (UsageStatus, error) {
	ctx = ensureContext(ctx)
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return UsageStatus{}, errors.New("rate limiter: business id is required")
	}

	cfg, err := l.config(ctx, businessID)
	if err != nil {
		return UsageStatus{}, err
	}

	now := l.now()
	status := UsageStatus{BusinessID: businessID, Status: RateStatusHealthy}

	hourly, err := l.usageSince(ctx, businessID, "", now.Add(-time.Hour))
	if err != nil {
		return UsageStatus{}, err
	}
	daily, err := l.usageSince(ctx, businessID, "", now.Add(-24*time.Hour))
	if err != nil {
		return UsageStatus{}, err
	}
	weekly, err := l.usageSince(ctx, businessID, "", now.Add(-7*24*time.Hour))
	if err != nil {
		return UsageStatus{}, err
	}
	smsDaily, err := l.usageSince(ctx, businessID, "sms", now.Add(-24*time.Hour))
	if err != nil {
		return UsageStatus{}, err
	}

	status.Hourly = TierUsage{Used: hourly, Limit: cfg.MaxPerHour}
	status.Daily = TierUsage{Used: daily, Limit: cfg.MaxPerDay}
	status.Weekly = TierUsage{Used: weekly, Limit: cfg.MaxPerWeek}
	status.SMSDaily = TierUsage{Used: smsDaily, Limit: cfg.MaxSMSPerDay}

	worst := 0.0
	for _, tier := range []TierUsage{status.Hourly, status.Daily, status.Weekly, status.SMSDaily} {
		if tier.Limit <= 0 {
			continue
		}
		if pct := float64(tier.Used) / float64(tier.Limit); pct > worst {
			worst = pct
		}
	}

	switch {
	case worst >= 1.0:
		status.Status = RateStatusBlocked
	case worst >= 0.9:
		status.Status = RateStatusCritical
	case worst >= 0.7:
		status.Status = RateStatusWarning
	}

	return status, nil
}

// config returns the tenant's limiter thresholds, falling back to the
// seeded deployment defaults.
func (l *RateLimiter) config(ctx context.Context, businessID string) (models.RateLimitConfig, error) {
	var cfg models.RateLimitConfig
	err := l.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&cfg).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RateLimitConfig{}, fmt.Errorf("rate limiter: load config: %w", err)
	}

	err = l.db.WithContext(ctx).
		Where("business_id = '' OR business_id IS NULL").
		First(&cfg).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RateLimitConfig{}, fmt.Errorf("rate limiter: load default config: %w", err)
	}

	return models.RateLimitConfig{
		MaxRecipientsPerSend: 50,
		BurstLimit:           10,
		BurstWindowMinutes:   5,
		MaxPerHour:           100,
		MaxPerDay:            500,
		MaxPerWeek:           2000,
		CooldownSeconds:      30,
		MaxSMSPerDay:         100,
	}, nil
}

func (l *RateLimiter) usageSince(ctx context.Context, businessID, usageType string, since time.Time) (int64, error) {
	query := l.db.WithContext(ctx).
		Model(&models.NotificationUsage{}).
		Where("business_id = ? AND created_at > ?", businessID, since)
	if usageType != "" {
		query = query.Where("type = ?", usageType)
	}

	var total int64
	if err := query.Select("COALESCE(SUM(recipient_count), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("rate limiter: aggregate usage: %w", err)
	}
	return total, nil
}

// oldestUsage returns the creation time of the earliest ledger row in the
// window. An aggregate MIN over the time column loses its type on the
// sqlite driver, so the row is fetched typed instead.
func (l *RateLimiter) oldestUsage(ctx context.Context, businessID, usageType string, since time.Time) (*time.Time, error) {
	query := l.db.WithContext(ctx).
		Where("business_id = ? AND created_at > ?", businessID, since)
	if usageType != "" {
		query = query.Where("type = ?", usageType)
	}

	var usage models.NotificationUsage
	err := query.Order("created_at ASC").First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rate limiter: load oldest usage: %w", err)
	}
	return &usage.CreatedAt, nil
}

func (l *RateLimiter) lastUsage(ctx context.Context, businessID string) (*time.Time, error) {
	var usage models.NotificationUsage
	err := l.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rate limiter: load last usage: %w", err)
	}
	return &usage.CreatedAt, nil
}

func (l *RateLimiter) reject(d Decision) Decision {
	d.Allowed = false
	metrics.RateLimitRejections.WithLabelValues(d.Code).Inc()
	return d
}
