package models

import "time"

// Roles recognized by the admin panel.
const (
	RoleAdmin    = "admin"
	RoleSubadmin = "subadmin"
)

// OTP delivery channels.
const (
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

// AuthUser is an admin-panel user as the auth service consumes it. The
// listings side of the panel owns the full record; this service only reads
// identity fields and writes login bookkeeping and password updates.
type AuthUser struct {
	UserBucket   int        `db:"user_bucket"`
	UserID       string     `db:"user_id"`
	PhoneNumber  string     `db:"phone_number"` // canonical bare 10-digit
	Role         string     `db:"role"`
	IsActive     bool       `db:"is_active"`
	PasswordHash string     `db:"password_hash"`
	LastLogin    *time.Time `db:"last_login"`
	LastActivity *time.Time `db:"last_activity"`
	LoginCount   int        `db:"login_count"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

// SanitizedUser is the client-facing view of an AuthUser.
type SanitizedUser struct {
	ID          string     `json:"id"`
	PhoneNumber string     `json:"phoneNumber"`
	Role        string     `json:"role"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

// Sanitize strips credential material from a user record.
func (u *AuthUser) Sanitize() *SanitizedUser {
	return &SanitizedUser{
		ID:          u.UserID,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		LastLogin:   u.LastLogin,
	}
}

// OTPSession is the ephemeral record binding a provider-issued session id to
// a phone number, expiry, and attempt count. Attempts never exceed
// MaxOTPAttempts before the session is invalidated.
type OTPSession struct {
	SessionID   string    `json:"session_id"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	Verified    bool      `json:"verified"`
	Channel     string    `json:"channel"`
	IsFallback  bool      `json:"is_fallback"`
}

// OTP session parameters.
const (
	OTPSessionTTL   = 120 * time.Second
	OTPSessionGCTTL = 10 * time.Minute
	MaxOTPAttempts  = 3
	OTPMinDigits    = 4
	OTPMaxDigits    = 8
)

// IPAttemptRecord tracks unauthorized send attempts from one client IP.
// Attempts reset once the counting window elapses, but an active block
// outlives the window.
type IPAttemptRecord struct {
	IP             string     `json:"ip"`
	Attempts       int        `json:"attempts"`
	FirstAttemptAt time.Time  `json:"first_attempt_at"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
}

// IP attempt tracker parameters.
const (
	IPAttemptWindow = time.Hour
	IPAttemptLimit  = 10
	IPBlockDuration = 24 * time.Hour
)

// PasswordResetSession is the server-side record for the three-step reset
// flow. It cannot be consumed by the final reset step until Verified is set.
type PasswordResetSession struct {
	SessionID         string    `json:"session_id"`
	PhoneNumber       string    `json:"phone_number"`
	UserID            string    `json:"user_id"`
	ProviderSessionID string    `json:"provider_session_id"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Verified          bool      `json:"verified"`
}

// Password reset parameters.
const (
	ResetSessionTTL    = 10 * time.Minute
	ResetAttemptWindow = time.Hour
	ResetAttemptLimit  = 3
)

// Security event severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Security event types emitted by the auth flows.
const (
	EventOTPSent            = "otp_sent"
	EventOTPVerifyFailed    = "otp_verification_failed"
	EventOTPVerifySuccess   = "otp_verification_success"
	EventLogin              = "login"
	EventLogout             = "logout"
	EventUnauthorizedAccess = "unauthorized_access"
	EventPasswordReset      = "password_reset"
)

// SecurityEvent is a structured activity-log record. Events are produced
// fire-and-forget; a logging failure never fails the auth request.
type SecurityEvent struct {
	EventID     string            `json:"event_id"`
	EventBucket int               `json:"event_bucket"`
	EventTime   time.Time         `json:"event_time"`
	EventType   string            `json:"event_type"`
	Severity    string            `json:"severity"`
	UserID      string            `json:"user_id,omitempty"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}
