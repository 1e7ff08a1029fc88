package notify

import "time"

// Channel identifies a delivery transport.
type Channel string

// Supported channels, in dispatch order.
const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Kind classifies a dispatch request and decides which policy overrides apply.
type Kind string

const (
	// KindTransactional covers critical recipient-facing messages such as
	// appointment reminders. Callers may force channels or bypass quiet hours.
	KindTransactional Kind = "transactional"
	// KindMarketing never honours override flags.
	KindMarketing Kind = "marketing"
	// KindSystemAlert notifies tenant staff using tenant-level settings only.
	KindSystemAlert Kind = "system_alert"
)

// Payload is the structured data attached to a push message. It is a closed
// shape rather than an open dictionary so the delivery record stays
// enforceable.
type Payload struct {
	Type          string         `json:"type,omitempty"`
	AppointmentID string         `json:"appointment_id,omitempty"`
	BusinessID    string         `json:"business_id,omitempty"`
	URL           string         `json:"url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// DispatchRequest describes one notification to one recipient.
type DispatchRequest struct {
	BusinessID string `json:"business_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`

	Title string `json:"title" validate:"required,max=255"`
	Body  string `json:"body" validate:"required"`

	// EmailSubject and EmailHTML feed the email channel; Body doubles as the
	// plain-text part when EmailHTML is set.
	EmailSubject string `json:"email_subject,omitempty"`
	EmailHTML    string `json:"email_html,omitempty"`

	Payload Payload `json:"payload"`

	// ForceChannels and IgnoreQuietHours are honoured for transactional
	// dispatches only.
	ForceChannels    []Channel `json:"force_channels,omitempty"`
	IgnoreQuietHours bool      `json:"ignore_quiet_hours,omitempty"`
}

// BulkRequest fans one transactional message out to many recipients.
type BulkRequest struct {
	BusinessID string   `json:"business_id" validate:"required"`
	UserIDs    []string `json:"user_ids" validate:"required,min=1"`

	Title string `json:"title" validate:"required,max=255"`
	Body  string `json:"body" validate:"required"`

	EmailSubject string  `json:"email_subject,omitempty"`
	EmailHTML    string  `json:"email_html,omitempty"`
	Payload      Payload `json:"payload"`
}

// SkippedChannel records a channel that was deliberately not attempted.
// Code carries a machine-readable reason where one exists, such as a rate
// limiter rejection code.
type SkippedChannel struct {
	Channel Channel `json:"channel"`
	Reason  string  `json:"reason"`
	Code    string  `json:"code,omitempty"`
}

// FailedChannel records a channel whose send attempt errored.
type FailedChannel struct {
	Channel Channel `json:"channel"`
	Error   string  `json:"error"`
}

// DispatchResult enumerates the outcome of every resolved channel. Partial
// failure and policy rejections are reported here, never as a bare error.
// RetryAfter is set when a rate limiter rejection suppressed the dispatch.
type DispatchResult struct {
	Success    bool             `json:"success"`
	Sent       []Channel        `json:"sent"`
	Skipped    []SkippedChannel `json:"skipped"`
	Failed     []FailedChannel  `json:"failed"`
	RetryAfter time.Duration    `json:"retry_after,omitempty"`
}

func (r *DispatchResult) skip(ch Channel, reason string) {
	r.Skipped = append(r.Skipped, SkippedChannel{Channel: ch, Reason: reason})
}

func (r *DispatchResult) skipWithCode(ch Channel, reason, code string) {
	r.Skipped = append(r.Skipped, SkippedChannel{Channel: ch, Reason: reason, Code: code})
}

func (r *DispatchResult) fail(ch Channel, err error) {
	r.Failed = append(r.Failed, FailedChannel{Channel: ch, Error: err.Error()})
}

func (r *DispatchResult) sent(ch Channel) {
	r.Sent = append(r.Sent, ch)
	r.Success = true
}

// BulkResult aggregates per-recipient outcomes; one recipient failing never
// aborts the batch.
type BulkResult struct {
	Total     int                       `json:"total"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Results   map[string]DispatchResult `json:"results"`
}
